// Package redis hands validated accounts to the executor through a Redis
// stream.
//
// Every account becomes one XADD entry on Stream with flat fields for
// consumers that only route (account, market, registry, cycle) and the full
// JSON document under "payload". The stream is trimmed approximately to
// MaxLen entries.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
	"github.com/archon-research/stl-liquidator/internal/pkg/retry"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

var _ outbound.AccountSink = (*AccountSink)(nil)

// Config holds Redis stream sink configuration.
type Config struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string
	// Password for Redis authentication (empty for no auth)
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// Stream is the stream key entries are appended to.
	Stream string
	// MaxLen caps the stream length (approximate trimming). Zero disables trimming.
	MaxLen int64
	// MaxRetries bounds retries of transient failures.
	MaxRetries int
}

// ConfigDefaults returns sensible defaults for the Redis stream sink.
func ConfigDefaults() Config {
	return Config{
		Addr:       "localhost:6379",
		Stream:     "stl:liquidations",
		MaxLen:     10_000,
		MaxRetries: 3,
	}
}

// AccountSink is a Redis stream implementation of the outbound.AccountSink port.
type AccountSink struct {
	client *redis.Client
	config Config
	logger *slog.Logger
}

// NewAccountSink creates a new Redis stream sink.
func NewAccountSink(cfg Config, logger *slog.Logger) (*AccountSink, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.MaxLen < 0 {
		return nil, fmt.Errorf("max length must not be negative")
	}
	defaults := ConfigDefaults()
	if cfg.Stream == "" {
		cfg.Stream = defaults.Stream
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if logger == nil {
		logger = slog.Default()
	}

	return &AccountSink{
		client: client,
		config: cfg,
		logger: logger.With("component", "redis-accountsink"),
	}, nil
}

// Ping checks the Redis connection.
func (s *AccountSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *AccountSink) Close() error {
	return s.client.Close()
}

// Publish appends one account to the stream.
func (s *AccountSink) Publish(ctx context.Context, account entity.ValidatedAccount) error {
	args, err := s.xaddArgs(account)
	if err != nil {
		return err
	}

	cfg := retry.Config{
		MaxRetries:     s.config.MaxRetries,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
		BackoffFactor:  2.0,
	}
	onRetry := func(attempt int, err error, backoff time.Duration) {
		s.logger.Warn("XADD failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
	}

	id, err := retry.Do(ctx, cfg, isRetryableError, onRetry, func() (string, error) {
		return s.client.XAdd(ctx, args).Result()
	})
	if err != nil {
		return fmt.Errorf("failed to append to stream %s: %w", s.config.Stream, err)
	}

	s.logger.Debug("account appended", "account", account.Address, "id", id)
	return nil
}

func (s *AccountSink) xaddArgs(account entity.ValidatedAccount) (*redis.XAddArgs, error) {
	payload, err := json.Marshal(account)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal account: %w", err)
	}

	key := account.Key()
	args := &redis.XAddArgs{
		Stream: s.config.Stream,
		Values: map[string]any{
			"account":  account.Address,
			"market":   key.Market,
			"registry": entity.LowerHex(account.Scope.Registry),
			"cycle":    strconv.FormatUint(account.SampledAtCycle, 10),
			"payload":  string(payload),
		},
	}
	if s.config.MaxLen > 0 {
		args.MaxLen = s.config.MaxLen
		args.Approx = true
	}
	return args, nil
}

// isRetryableError retries network failures but not server replies.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, redis.ErrClosed) {
		return false
	}
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return false
	}
	return true
}
