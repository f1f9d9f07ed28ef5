// Package sqs hands validated accounts to the executor through an SQS queue.
package sqs

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
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
	"github.com/archon-research/stl-liquidator/internal/pkg/retry"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

// sqsAPI defines the subset of SQS operations needed by the AccountSink.
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

var _ outbound.AccountSink = (*AccountSink)(nil)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("account sink is closed")

// Config holds SQS sink configuration.
type Config struct {
	// QueueURL is the URL of the queue accounts are sent to. URLs ending in
	// ".fifo" get a message group and deduplication id.
	QueueURL string

	// DelaySeconds postpones delivery on standard queues (0-900).
	DelaySeconds int32

	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// ConfigDefaults returns sensible defaults for SQS sink configuration.
func ConfigDefaults() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// AccountSink is an SQS implementation of the outbound.AccountSink port.
type AccountSink struct {
	client sqsAPI
	config Config
	fifo   bool
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewAccountSink creates a new SQS account sink from an AWS config.
func NewAccountSink(cfg aws.Config, sqsConfig Config, logger *slog.Logger, optFns ...func(*sqs.Options)) (*AccountSink, error) {
	return newAccountSink(sqs.NewFromConfig(cfg, optFns...), sqsConfig, logger)
}

func newAccountSink(client sqsAPI, sqsConfig Config, logger *slog.Logger) (*AccountSink, error) {
	if sqsConfig.QueueURL == "" {
		return nil, fmt.Errorf("queue URL is required")
	}
	if sqsConfig.DelaySeconds < 0 || sqsConfig.DelaySeconds > 900 {
		return nil, fmt.Errorf("delay seconds must be between 0 and 900, got %d", sqsConfig.DelaySeconds)
	}
	if logger == nil {
		logger = slog.Default()
	}

	defaults := ConfigDefaults()
	if sqsConfig.MaxRetries == 0 {
		sqsConfig.MaxRetries = defaults.MaxRetries
	}
	if sqsConfig.InitialBackoff == 0 {
		sqsConfig.InitialBackoff = defaults.InitialBackoff
	}
	if sqsConfig.MaxBackoff == 0 {
		sqsConfig.MaxBackoff = defaults.MaxBackoff
	}

	return &AccountSink{
		client: client,
		config: sqsConfig,
		fifo:   strings.HasSuffix(sqsConfig.QueueURL, ".fifo"),
		logger: logger.With("component", "sqs-accountsink"),
	}, nil
}

// Publish sends one account to the queue.
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
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.config.QueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"account": {
				DataType:    aws.String("String"),
				StringValue: aws.String(account.Address),
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
	} else if s.config.DelaySeconds > 0 {
		input.DelaySeconds = s.config.DelaySeconds
	}

	cfg := retry.Config{
		MaxRetries:     s.config.MaxRetries,
		InitialBackoff: s.config.InitialBackoff,
		MaxBackoff:     s.config.MaxBackoff,
		BackoffFactor:  2.0,
	}
	onRetry := func(attempt int, err error, backoff time.Duration) {
		s.logger.Warn("send failed, retrying", "attempt", attempt, "backoff", backoff, "error", err, "account", account.Address)
	}

	out, err := retry.Do(ctx, cfg, isRetryableError, onRetry, func() (*sqs.SendMessageOutput, error) {
		return s.client.SendMessage(ctx, input)
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	if out != nil && out.MessageId != nil {
		s.logger.Debug("account sent", "account", account.Address, "messageId", *out.MessageId)
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

	var missing *types.QueueDoesNotExist
	if errors.As(err, &missing) {
		return false
	}
	var invalid *types.InvalidMessageContents
	if errors.As(err, &invalid) {
		return false
	}
	var unsupported *types.UnsupportedOperation
	if errors.As(err, &unsupported) {
		return false
	}
	return true
}

// Close marks the sink as closed.
func (s *AccountSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
