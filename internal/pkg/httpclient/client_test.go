package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func testConfig(retries int) Config {
	return Config{
		Timeout:     time.Second,
		MaxRetries:  retries,
		BackoffStep: time.Millisecond,
		RateLimit:   rate.Inf,
		RateBurst:   1,
	}
}

func TestPostJSON_SendsBodyAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json content type, got %q", ct)
		}
		if got := r.Header.Get("X-Key"); got != "abc" {
			t.Errorf("expected custom header, got %q", got)
		}
		raw, _ := io.ReadAll(r.Body)
		var in map[string]string
		if err := json.Unmarshal(raw, &in); err != nil {
			t.Errorf("bad body: %v", err)
		}
		_, _ = fmt.Fprintf(w, `{"echo":%q}`, in["query"])
	}))
	defer srv.Close()

	c := NewClient(testConfig(0), nil, nil)
	var out struct {
		Echo string `json:"echo"`
	}
	err := c.PostJSON(context.Background(), RequestConfig{URL: srv.URL, Headers: map[string]string{"X-Key": "abc"}},
		map[string]string{"query": "{ accounts }"}, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Echo != "{ accounts }" {
		t.Errorf("expected echo, got %q", out.Echo)
	}
}

func TestPostJSON_NotFoundIsNeverRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(testConfig(5), nil, nil)
	var out map[string]any
	err := c.PostJSON(context.Background(), RequestConfig{URL: srv.URL}, map[string]string{"query": "{ accounts }"}, &out)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestPostJSON_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(5), nil, nil)
	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.PostJSON(context.Background(), RequestConfig{URL: srv.URL}, map[string]string{"query": "{ accounts }"}, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.OK || calls.Load() != 3 {
		t.Errorf("expected success after 3 calls, got ok=%v calls=%d", out.OK, calls.Load())
	}
}

func TestPostJSON_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(testConfig(2), nil, nil)
	var out map[string]any
	if err := c.PostJSON(context.Background(), RequestConfig{URL: srv.URL}, map[string]string{"query": "{ accounts }"}, &out); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestPostJSON_ClientErrorUsesParser(t *testing.T) {
	errAPI := errors.New("bad api key")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"bad api key"}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(3), nil, func(status int, body []byte) error {
		if status == http.StatusUnauthorized {
			return errAPI
		}
		return nil
	})
	var out map[string]any
	err := c.PostJSON(context.Background(), RequestConfig{URL: srv.URL}, map[string]string{"query": "{ accounts }"}, &out)
	if !errors.Is(err, errAPI) {
		t.Fatalf("expected parser error, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("client errors must not be retryable")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(errors.New("boom")) {
		t.Error("plain errors are retryable")
	}
	wrapped := fmt.Errorf("outer: %w", WrapNonRetryable(errors.New("inner")))
	if IsRetryable(wrapped) {
		t.Error("wrapped non-retryable error reported retryable")
	}
}
