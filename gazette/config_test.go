package gazette

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigFile(t *testing.T) {
	// WHAT: the YAML file maps onto Config, durations included.
	// WHY: operators configure kozlony only through this file and two flags.
	path := filepath.Join(t.TempDir(), "kozlony.yaml")
	data := `
db_path: /var/lib/kozlony/kozlony.db
log_file: /var/log/kozlony.log
staging: true
disable_notification: false
portal:
  url: https://magyarkozlony.hu/hivatalos-lapok
  timeout: 90s
  insecure_skip_verify: true
backend:
  monitor_url: https://monitor.example.hu
  uuid: 0b7c1f8e-1111-4222-8333-944445555666
  secret: s3cret
lemmatizer:
  url: http://127.0.0.1:8090/lemmatize
  batch_size: 4
kafka:
  brokers: [kafka-1:9092, kafka-2:9092]
mirror:
  elasticsearch_addr: http://127.0.0.1:9200
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.DBPath != "/var/lib/kozlony/kozlony.db" || cfg.LogFile != "/var/log/kozlony.log" || !cfg.Staging {
		t.Fatalf("top level: %+v", cfg)
	}
	if cfg.Portal.Timeout != 90*time.Second || !cfg.Portal.InsecureSkipVerify {
		t.Fatalf("portal: %+v", cfg.Portal)
	}
	if cfg.Lemmatizer.BatchSize != 4 || len(cfg.Kafka.Brokers) != 2 {
		t.Fatalf("lemmatizer/kafka: %+v %+v", cfg.Lemmatizer, cfg.Kafka)
	}
	// Defaults fill what the file leaves out.
	if cfg.Kafka.Topic != "kozlony.notifications" || cfg.Mirror.Index != "kozlony" {
		t.Fatalf("defaults: topic=%q index=%q", cfg.Kafka.Topic, cfg.Mirror.Index)
	}
	if cfg.Backend.Timeout != 30*time.Second || cfg.Matcher.ContextWords != 16 || cfg.Matcher.MaxSamples != 5 {
		t.Fatalf("defaults: %+v %+v", cfg.Backend, cfg.Matcher)
	}
}

func TestLoadConfigFile_Errors(t *testing.T) {
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("portal: [unclosed"), 0o644)
	if _, err := LoadConfigFile(path); !errors.Is(err, ErrConfig) {
		t.Fatalf("got %v, want ErrConfig", err)
	}
}

func TestValidate(t *testing.T) {
	// WHAT: every missing required setting is reported at once.
	// WHY: configuration errors are fatal, so the operator should see them all.
	cases := []struct {
		name   string
		mutate func(*Config)
		want   []string
	}{
		{"valid", func(*Config) {}, nil},
		{"empty", func(c *Config) { *c = Config{} },
			[]string{"portal.url", "backend.monitor_url", "backend.uuid", "lemmatizer.url"}},
		{"lemmatization disabled", func(c *Config) { c.DisableLemmatization = true; c.Lemmatizer.URL = "" }, nil},
		{"bad scheme", func(c *Config) { c.Portal.URL = "ftp://portal.test" }, []string{"portal.url"}},
		{"no host", func(c *Config) { c.Backend.MonitorURL = "http://" }, []string{"backend.monitor_url"}},
		{"bad mirror", func(c *Config) { c.Mirror.ElasticsearchAddr = "localhost:9200" }, []string{"mirror.elasticsearch_addr"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{
				Portal:     PortalConfig{URL: "https://portal.test/hivatalos-lapok"},
				Backend:    BackendConfig{MonitorURL: "https://monitor.test", UUID: "u"},
				Lemmatizer: LemmatizerConfig{URL: "http://lemma.test"},
			}
			tc.mutate(cfg)
			err := cfg.Validate()
			if len(tc.want) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("got %v, want ErrConfig", err)
			}
			for _, w := range tc.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error %q does not mention %s", err, w)
				}
			}
		})
	}
}
