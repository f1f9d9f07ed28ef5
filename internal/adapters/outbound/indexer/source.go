// Package indexer discovers borrowers from a GraphQL indexer (subgraph).
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
	"github.com/archon-research/stl-liquidator/internal/pkg/httpclient"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

// Compile-time check that Source implements outbound.CandidateSource.
var _ outbound.CandidateSource = (*Source)(nil)

// ErrNotFound is returned when the endpoint answers 404. It is never retried.
var ErrNotFound = httpclient.ErrNotFound

// SchemaError reports GraphQL errors, which mean the endpoint does not serve
// the queried schema.
type SchemaError struct {
	Schema   Schema
	Messages []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("indexer rejected %s query: %s", e.Schema, strings.Join(e.Messages, "; "))
}

// Config holds configuration for the indexer source.
type Config struct {
	// Endpoint is the GraphQL URL. Empty disables the source.
	Endpoint string

	// Schemas in fallback order.
	Schemas []Schema

	PageSize int

	// MaxPages bounds a single fetch.
	MaxPages int

	Timeout time.Duration

	// Attempts per page, the first included. The n-th retry waits
	// n*BackoffStep.
	Attempts    int
	BackoffStep time.Duration

	// RateLimit is requests per second.
	RateLimit float64

	Headers map[string]string

	Logger *slog.Logger
}

func ConfigDefaults() Config {
	return Config{
		Schemas:     DefaultSchemas,
		PageSize:    200,
		MaxPages:    50,
		Timeout:     6 * time.Second,
		Attempts:    5,
		BackoffStep: time.Second,
		RateLimit:   5,
		Logger:      slog.Default(),
	}
}

// Source is a paginated GraphQL candidate source with schema fallback.
type Source struct {
	config   Config
	client   *httpclient.Client
	variants []variant
	logger   *slog.Logger
}

func NewSource(config Config) (*Source, error) {
	defaults := ConfigDefaults()
	if len(config.Schemas) == 0 {
		config.Schemas = defaults.Schemas
	}
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	if config.MaxPages <= 0 {
		config.MaxPages = defaults.MaxPages
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Attempts <= 0 {
		config.Attempts = defaults.Attempts
	}
	if config.BackoffStep <= 0 {
		config.BackoffStep = defaults.BackoffStep
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaults.RateLimit
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	variants := make([]variant, 0, len(config.Schemas))
	for _, s := range config.Schemas {
		v, err := variantFor(s)
		if err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}

	logger := config.Logger.With("component", "indexer-source")
	client := httpclient.NewClient(httpclient.Config{
		Timeout:     config.Timeout,
		MaxRetries:  config.Attempts - 1,
		BackoffStep: config.BackoffStep,
		RateLimit:   rate.Limit(config.RateLimit),
		RateBurst:   1,
	}, logger, nil)

	return &Source{
		config:   config,
		client:   client,
		variants: variants,
		logger:   logger,
	}, nil
}

func (s *Source) Name() string { return "indexer" }

// Enabled reports whether an endpoint is configured.
func (s *Source) Enabled() bool { return s.config.Endpoint != "" }

// Fetch walks the schemas in order. The first schema whose first page returns
// any address is paginated to completion; schemas never mix within a fetch.
func (s *Source) Fetch(ctx context.Context) ([]string, error) {
	if !s.Enabled() {
		return []string{}, nil
	}

	for i, v := range s.variants {
		addrs, err := s.fetchSchema(ctx, v)
		var schemaErr *SchemaError
		switch {
		case errors.As(err, &schemaErr):
			s.logger.Warn("schema rejected, trying next", "schema", v.schema, "error", err)
			continue
		case err != nil:
			return nil, err
		case len(addrs) == 0:
			if i < len(s.variants)-1 {
				s.logger.Info("schema returned no borrowers, trying next", "schema", v.schema)
			}
			continue
		}
		s.logger.Info("indexer fetch complete", "schema", v.schema, "candidates", len(addrs))
		return addrs, nil
	}
	return []string{}, nil
}

func (s *Source) fetchSchema(ctx context.Context, v variant) ([]string, error) {
	seen := make(map[string]struct{})
	out := make([]string, 0, s.config.PageSize)

	for page := 0; page < s.config.MaxPages; page++ {
		ids, err := s.fetchPage(ctx, v, page*s.config.PageSize)
		if err != nil {
			if page == 0 || errors.Is(err, ErrNotFound) || ctx.Err() != nil {
				return nil, err
			}
			s.logger.Warn("indexer page failed, keeping partial result",
				"schema", v.schema, "page", page, "collected", len(out), "error", err)
			return out, nil
		}

		fresh := 0
		for _, id := range ids {
			addr, err := entity.NormalizeAddress(id)
			if err != nil {
				s.logger.Debug("skipping malformed address", "schema", v.schema, "id", id)
				continue
			}
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
			fresh++
		}

		if fresh < s.config.PageSize {
			return out, nil
		}
		if page == s.config.MaxPages-1 {
			s.logger.Warn("indexer page cap reached", "schema", v.schema, "maxPages", s.config.MaxPages, "collected", len(out))
		}
	}
	return out, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

func (s *Source) fetchPage(ctx context.Context, v variant, skip int) ([]string, error) {
	req := graphQLRequest{
		Query: v.query,
		Variables: map[string]any{
			"first": s.config.PageSize,
			"skip":  skip,
		},
	}

	var resp graphQLResponse
	err := s.client.PostJSON(ctx, httpclient.RequestConfig{URL: s.config.Endpoint, Headers: s.config.Headers}, req, &resp)
	if err != nil {
		return nil, fmt.Errorf("indexer %s skip=%d: %w", v.schema, skip, err)
	}

	if len(resp.Errors) > 0 {
		msgs := make([]string, len(resp.Errors))
		for i, e := range resp.Errors {
			msgs[i] = e.Message
		}
		return nil, &SchemaError{Schema: v.schema, Messages: msgs}
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return nil, nil
	}
	return v.parse(resp.Data)
}
