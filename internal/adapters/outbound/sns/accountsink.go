// Package sns hands validated accounts to the executor through an SNS topic.
//
// Each account is published as one JSON message. Message attributes carry the
// account, registry and primary debt market so subscribers can filter without
// decoding the body. FIFO topics (ARN ending in ".fifo") group messages by
// registry and deduplicate on (account, market, cycle).
package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
	"github.com/archon-research/stl-liquidator/internal/pkg/retry"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

var _ outbound.AccountSink = (*AccountSink)(nil)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("account sink is closed")

// SNSPublisher defines the subset of SNS client methods used by AccountSink.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Config holds configuration for the SNS account sink.
type Config struct {
	// TopicARN is the topic validated accounts are published to.
	TopicARN string

	// MaxRetries is the maximum number of retry attempts for transient failures.
	MaxRetries int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64

	Logger *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
		Logger:         slog.Default(),
	}
}

// AccountSink publishes validated accounts to AWS SNS.
type AccountSink struct {
	client SNSPublisher
	config Config
	fifo   bool
	logger *slog.Logger

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewAccountSink creates a new SNS account sink.
func NewAccountSink(client SNSPublisher, config Config) (*AccountSink, error) {
	if client == nil {
		return nil, errors.New("sns client is required")
	}
	if config.TopicARN == "" {
		return nil, errors.New("topic ARN is required")
	}

	defaults := ConfigDefaults()
	if config.MaxRetries == 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.BackoffFactor == 0 {
		config.BackoffFactor = defaults.BackoffFactor
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &AccountSink{
		client: client,
		config: config,
		fifo:   strings.HasSuffix(config.TopicARN, ".fifo"),
		logger: config.Logger.With("component", "sns-accountsink"),
	}, nil
}

// Publish publishes one account to the topic.
func (s *AccountSink) Publish(ctx context.Context, account entity.ValidatedAccount) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	body, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}

	key := account.Key()
	input := &sns.PublishInput{
		TopicArn: aws.String(s.config.TopicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"account": {
				DataType:    aws.String("String"),
				StringValue: aws.String(account.Address),
			},
			"registry": {
				DataType:    aws.String("String"),
				StringValue: aws.String(entity.LowerHex(account.Scope.Registry)),
			},
			"primaryMarket": {
				DataType:    aws.String("String"),
				StringValue: aws.String(key.Market),
			},
			"cycle": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.FormatUint(account.SampledAtCycle, 10)),
			},
		},
	}
	if s.fifo {
		input.MessageGroupId = aws.String(entity.LowerHex(account.Scope.Registry))
		input.MessageDeduplicationId = aws.String(fmt.Sprintf("%s:%d", key, account.SampledAtCycle))
	}

	return s.publishWithRetry(ctx, input, account.Address)
}

func (s *AccountSink) publishWithRetry(ctx context.Context, input *sns.PublishInput, address string) error {
	cfg := retry.Config{
		MaxRetries:     s.config.MaxRetries,
		InitialBackoff: s.config.InitialBackoff,
		MaxBackoff:     s.config.MaxBackoff,
		BackoffFactor:  s.config.BackoffFactor,
	}
	onRetry := func(attempt int, err error, backoff time.Duration) {
		s.logger.Warn("publish failed, retrying",
			"attempt", attempt,
			"maxRetries", s.config.MaxRetries,
			"backoff", backoff,
			"error", err,
			"account", address)
	}

	err := retry.DoVoid(ctx, cfg, isRetryableError, onRetry, func() error {
		_, err := s.client.Publish(ctx, input)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}
	return nil
}

// isRetryableError determines if an error should trigger a retry.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var notFound *types.NotFoundException
	if errors.As(err, &notFound) {
		return false
	}
	var invalid *types.InvalidParameterException
	if errors.As(err, &invalid) {
		return false
	}
	var auth *types.AuthorizationErrorException
	if errors.As(err, &auth) {
		return false
	}

	// Throttling, internal errors and network failures are transient.
	return true
}

// Close marks the sink as closed and prevents further publishing.
func (s *AccountSink) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.logger.Info("SNS account sink closed")
	})
	return nil
}
