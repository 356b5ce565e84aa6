package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	// WHAT: Get returns the body and sends the configured user agent.
	// WHY: the portal is crawled with a fixed identity.
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "kozlony-test"})
	res, err := f.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(res.Body) != "<html>ok</html>" {
		t.Errorf("body = %q", res.Body)
	}
	if res.ContentType != "text/html" {
		t.Errorf("content type = %q", res.ContentType)
	}
	if ua != "kozlony-test" {
		t.Errorf("user agent = %q", ua)
	}
}

func TestGetStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(Config{}).Get(context.Background(), srv.URL)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("err = %v, want StatusError 404", err)
	}
}

func TestGetTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	_, err := New(Config{MaxBytes: 10}).Get(context.Background(), srv.URL)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}

	res, err := New(Config{MaxBytes: 100}).Get(context.Background(), srv.URL)
	if err != nil || len(res.Body) != 100 {
		t.Fatalf("exact limit: %v, %d bytes", err, len(res.Body))
	}
}

func TestInsecureSkipVerify(t *testing.T) {
	// WHAT: a self-signed portal is reachable only with the opt-in.
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tls"))
	}))
	defer srv.Close()

	if _, err := New(Config{}).Get(context.Background(), srv.URL); err == nil {
		t.Fatal("expected certificate error without opt-in")
	}
	res, err := New(Config{InsecureSkipVerify: true}).Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("get with opt-in: %v", err)
	}
	if string(res.Body) != "tls" {
		t.Errorf("body = %q", res.Body)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`{"value":"get"}`))
		case http.MethodPost:
			if r.Header.Get("Content-Type") != "application/json" {
				http.Error(w, "bad content type", http.StatusBadRequest)
				return
			}
			body, _ := io.ReadAll(r.Body)
			w.Write(body)
		}
	}))
	defer srv.Close()

	f := New(Config{})
	ctx := context.Background()

	var out struct{ Value string }
	if err := f.GetJSON(ctx, srv.URL, &out); err != nil || out.Value != "get" {
		t.Fatalf("GetJSON = %+v, %v", out, err)
	}
	if err := f.PostJSON(ctx, srv.URL, map[string]string{"value": "post"}, &out); err != nil || out.Value != "post" {
		t.Fatalf("PostJSON = %+v, %v", out, err)
	}
	if err := f.PostJSON(ctx, srv.URL, map[string]string{"value": "x"}, nil); err != nil {
		t.Fatalf("PostJSON nil out: %v", err)
	}
}
