package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type pageRequest struct {
	Schema Schema
	First  int
	Skip   int
}

// stubIndexer serves GraphQL pages from handler and records every request.
type stubIndexer struct {
	mu       sync.Mutex
	requests []pageRequest
	handler  func(w http.ResponseWriter, req pageRequest)
}

func (s *stubIndexer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body struct {
		Query     string `json:"query"`
		Variables struct {
			First int `json:"first"`
			Skip  int `json:"skip"`
		} `json:"variables"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	req := pageRequest{First: body.Variables.First, Skip: body.Variables.Skip, Schema: SchemaAccounts}
	if strings.Contains(body.Query, "positions(") {
		req.Schema = SchemaPositions
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	s.handler(w, req)
}

func (s *stubIndexer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func addr(n int) string {
	return fmt.Sprintf("0x%040x", n)
}

func writeAccounts(w http.ResponseWriter, ids []string) {
	type acct struct {
		ID string `json:"id"`
	}
	accts := make([]acct, len(ids))
	for i, id := range ids {
		accts[i] = acct{ID: id}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"accounts": accts}})
}

func writePositions(w http.ResponseWriter, ids []string) {
	type pos struct {
		Account struct {
			ID string `json:"id"`
		} `json:"account"`
	}
	ps := make([]pos, len(ids))
	for i, id := range ids {
		ps[i].Account.ID = id
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"positions": ps}})
}

// rangeIDs returns addresses [from, from+n).
func rangeIDs(from, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = addr(from + i)
	}
	return ids
}

func newTestSource(t *testing.T, url string, mutate func(*Config)) *Source {
	t.Helper()
	cfg := Config{
		Endpoint:    url,
		PageSize:    2,
		MaxPages:    10,
		Timeout:     time.Second,
		Attempts:    3,
		BackoffStep: time.Millisecond,
		RateLimit:   10000,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewSource(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestFetch_PaginatesUntilShortPage(t *testing.T) {
	stub := &stubIndexer{handler: func(w http.ResponseWriter, req pageRequest) {
		switch req.Skip {
		case 0:
			writeAccounts(w, rangeIDs(1, 2))
		case 2:
			writeAccounts(w, rangeIDs(3, 2))
		default:
			writeAccounts(w, rangeIDs(5, 1))
		}
	}}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	got, err := newTestSource(t, srv.URL, nil).Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := rangeIDs(1, 5)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", got, want)
	}
	if stub.count() != 3 {
		t.Errorf("requests = %d, want 3", stub.count())
	}
}

func TestFetch_NormalizesAndDeduplicates(t *testing.T) {
	upper := "0x00000000000000000000000000000000000000AA"
	stub := &stubIndexer{handler: func(w http.ResponseWriter, req pageRequest) {
		writeAccounts(w, []string{upper, strings.ToLower(upper), "not-an-address"})
	}}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	got, err := newTestSource(t, srv.URL, func(c *Config) { c.PageSize = 3 }).Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != strings.ToLower(upper) {
		t.Errorf("got %v", got)
	}
}

func TestFetch_StopsWhenPageHasNoNewAddresses(t *testing.T) {
	// A server that ignores skip and keeps returning the same full page.
	stub := &stubIndexer{handler: func(w http.ResponseWriter, req pageRequest) {
		writeAccounts(w, rangeIDs(1, 2))
	}}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	got, err := newTestSource(t, srv.URL, nil).Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || stub.count() != 2 {
		t.Errorf("got %d addresses in %d requests", len(got), stub.count())
	}
}

func TestFetch_TerminatesAtPageCap(t *testing.T) {
	stub := &stubIndexer{handler: func(w http.ResponseWriter, req pageRequest) {
		writeAccounts(w, rangeIDs(req.Skip+1, req.First))
	}}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	got, err := newTestSource(t, srv.URL, func(c *Config) { c.MaxPages = 4 }).Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stub.count() != 4 {
		t.Errorf("requests = %d, want 4", stub.count())
	}
	if len(got) != 8 {
		t.Errorf("collected %d, want 8", len(got))
	}
}

func TestFetch_FallsBackWhenPrimaryEmpty(t *testing.T) {
	stub := &stubIndexer{handler: func(w http.ResponseWriter, req pageRequest) {
		if req.Schema == SchemaAccounts {
			writeAccounts(w, nil)
			return
		}
		writePositions(w, rangeIDs(7, 1))
	}}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	got, err := newTestSource(t, srv.URL, nil).Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != addr(7) {
		t.Errorf("got %v", got)
	}
}

func TestFetch_FallsBackOnSchemaError(t *testing.T) {
	stub := &stubIndexer{handler: func(w http.ResponseWriter, req pageRequest) {
		if req.Schema == SchemaAccounts {
			_, _ = w.Write([]byte(`{"errors":[{"message":"Type Query has no field accounts"}]}`))
			return
		}
		writePositions(w, rangeIDs(9, 1))
	}}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	got, err := newTestSource(t, srv.URL, nil).Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != addr(9) {
		t.Errorf("got %v", got)
	}
	// The schema error is not retried.
	if stub.count() != 2 {
		t.Errorf("requests = %d, want 2", stub.count())
	}
}

func TestFetch_SchemasNeverInterleave(t *testing.T) {
	stub := &stubIndexer{handler: func(w http.ResponseWriter, req pageRequest) {
		if req.Schema == SchemaPositions {
			t.Error("positions schema queried although accounts produced results")
		}
		if req.Skip == 0 {
			writeAccounts(w, rangeIDs(1, 2))
			return
		}
		writeAccounts(w, nil)
	}}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	if _, err := newTestSource(t, srv.URL, nil).Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestFetch_NotFoundPropagatesWithoutRetry(t *testing.T) {
	stub := &stubIndexer{handler: func(w http.ResponseWriter, req pageRequest) {
		w.WriteHeader(http.StatusNotFound)
	}}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	_, err := newTestSource(t, srv.URL, nil).Fetch(context.Background())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if stub.count() != 1 {
		t.Errorf("requests = %d, want 1", stub.count())
	}
}

func TestFetch_FirstPageExhaustionReturnsError(t *testing.T) {
	stub := &stubIndexer{handler: func(w http.ResponseWriter, req pageRequest) {
		w.WriteHeader(http.StatusBadGateway)
	}}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	_, err := newTestSource(t, srv.URL, nil).Fetch(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	// Three attempts, and no fallback to the next schema.
	if stub.count() != 3 {
		t.Errorf("requests = %d, want 3", stub.count())
	}
}

func TestFetch_AttemptsCountTheFirstRequest(t *testing.T) {
	tests := []struct {
		attempts int
		want     int
	}{
		{attempts: 1, want: 1},
		{attempts: 5, want: 5},
		{attempts: 0, want: 5},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempts=%d", tt.attempts), func(t *testing.T) {
			stub := &stubIndexer{handler: func(w http.ResponseWriter, req pageRequest) {
				w.WriteHeader(http.StatusBadGateway)
			}}
			srv := httptest.NewServer(stub)
			defer srv.Close()

			src := newTestSource(t, srv.URL, func(c *Config) { c.Attempts = tt.attempts })
			if _, err := src.Fetch(context.Background()); err == nil {
				t.Fatal("expected error")
			}
			if stub.count() != tt.want {
				t.Errorf("requests = %d, want %d", stub.count(), tt.want)
			}
		})
	}
}

func TestFetch_LaterPageExhaustionTruncates(t *testing.T) {
	stub := &stubIndexer{handler: func(w http.ResponseWriter, req pageRequest) {
		if req.Skip == 0 {
			writeAccounts(w, rangeIDs(1, 2))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	got, err := newTestSource(t, srv.URL, nil).Fetch(context.Background())
	if err != nil {
		t.Fatalf("expected truncated result, got %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %v", got)
	}
}

func TestFetch_EmptyEndpointDisabled(t *testing.T) {
	s := newTestSource(t, "", nil)
	if s.Enabled() {
		t.Error("source should be disabled")
	}
	got, err := s.Fetch(context.Background())
	if err != nil || len(got) != 0 {
		t.Errorf("got %v, %v", got, err)
	}
}

func TestNewSource_UnknownSchema(t *testing.T) {
	if _, err := NewSource(Config{Schemas: []Schema{"markets"}}); err == nil {
		t.Fatal("expected error")
	}
}
