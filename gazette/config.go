package gazette

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all kozlony configuration.
type Config struct {
	DBPath  string `yaml:"db_path"`
	LogFile string `yaml:"log_file"`

	// Staging runs everything but leaves documents new.
	Staging bool `yaml:"staging"`
	// DisableNotification evaluates and consumes without sending.
	DisableNotification bool `yaml:"disable_notification"`
	// DisableLemmatization skips the gateway; keyword matching is literal only.
	DisableLemmatization bool `yaml:"disable_lemmatization"`

	Portal     PortalConfig     `yaml:"portal"`
	Backend    BackendConfig    `yaml:"backend"`
	Lemmatizer LemmatizerConfig `yaml:"lemmatizer"`
	Matcher    MatcherConfig    `yaml:"matcher"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Mirror     MirrorConfig     `yaml:"mirror"`
	Journal    JournalConfig    `yaml:"journal"`
}

// PortalConfig locates the gazette listing.
type PortalConfig struct {
	URL                string        `yaml:"url"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxPDFBytes        int64         `yaml:"max_pdf_bytes"`
	UserAgent          string        `yaml:"user_agent"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

// BackendConfig is the monitor backend holding subscriptions.
type BackendConfig struct {
	MonitorURL string        `yaml:"monitor_url"`
	UUID       string        `yaml:"uuid"`
	Secret     string        `yaml:"secret"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LemmatizerConfig is the lemmatizer gateway.
type LemmatizerConfig struct {
	URL       string        `yaml:"url"`
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

// MatcherConfig tunes keyword-in-context samples.
type MatcherConfig struct {
	ContextWords int `yaml:"context_words"`
	MaxSamples   int `yaml:"max_samples"`
}

// KafkaConfig enables the Kafka notifier when Brokers is set.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// MirrorConfig enables the Elasticsearch mirror when ElasticsearchAddr is set.
type MirrorConfig struct {
	ElasticsearchAddr string `yaml:"elasticsearch_addr"`
	Index             string `yaml:"index"`
}

// JournalConfig controls run journal retention.
type JournalConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "kozlony.db"
	}
	if c.Portal.Timeout <= 0 {
		c.Portal.Timeout = 60 * time.Second
	}
	if c.Portal.MaxPDFBytes <= 0 {
		c.Portal.MaxPDFBytes = 50 * 1024 * 1024
	}
	if c.Backend.Timeout <= 0 {
		c.Backend.Timeout = 30 * time.Second
	}
	if c.Lemmatizer.BatchSize <= 0 {
		c.Lemmatizer.BatchSize = 8
	}
	if c.Lemmatizer.Timeout <= 0 {
		c.Lemmatizer.Timeout = 120 * time.Second
	}
	if c.Matcher.ContextWords <= 0 {
		c.Matcher.ContextWords = 16
	}
	if c.Matcher.MaxSamples <= 0 {
		c.Matcher.MaxSamples = 5
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		c.Kafka.Topic = "kozlony.notifications"
	}
	if c.Mirror.ElasticsearchAddr != "" && c.Mirror.Index == "" {
		c.Mirror.Index = "kozlony"
	}
	if c.Journal.RetentionDays <= 0 {
		c.Journal.RetentionDays = 90
	}
}

// Validate fills defaults and checks required settings. Every problem is
// reported, each wrapping ErrConfig.
func (c *Config) Validate() error {
	c.defaults()
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrConfig}, args...)...))
	}

	if err := checkURL(c.Portal.URL); err != nil {
		bad("portal.url: %v", err)
	}
	if err := checkURL(c.Backend.MonitorURL); err != nil {
		bad("backend.monitor_url: %v", err)
	}
	if c.Backend.UUID == "" {
		bad("backend.uuid is required")
	}
	if !c.DisableLemmatization {
		if err := checkURL(c.Lemmatizer.URL); err != nil {
			bad("lemmatizer.url: %v (or set disable_lemmatization)", err)
		}
	}
	if c.Mirror.ElasticsearchAddr != "" {
		if err := checkURL(c.Mirror.ElasticsearchAddr); err != nil {
			bad("mirror.elasticsearch_addr: %v", err)
		}
	}
	return errors.Join(errs...)
}

func checkURL(raw string) error {
	if raw == "" {
		return errors.New("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// LoadConfigFile reads a YAML config file. It does not validate.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfig, path, err)
	}
	return cfg, nil
}
