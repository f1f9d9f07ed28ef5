// Package memory provides an in-process AccountSink.
//
// The sink logs every hand-off and keeps the most recent accounts in memory.
// It backs the "log" sink type, for dry runs and local development where no
// executor is listening.
package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
	"github.com/archon-research/stl-liquidator/internal/pkg/usd"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

var _ outbound.AccountSink = (*AccountSink)(nil)

// DefaultCapacity is the number of accounts retained when none is configured.
const DefaultCapacity = 1000

// AccountSink records published accounts in a bounded buffer.
type AccountSink struct {
	mu       sync.RWMutex
	accounts []entity.ValidatedAccount
	capacity int
	total    int
	closed   bool
	logger   *slog.Logger

	onPublish func(entity.ValidatedAccount)
}

// NewAccountSink creates a sink keeping the last capacity accounts.
func NewAccountSink(capacity int, logger *slog.Logger) *AccountSink {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountSink{
		capacity: capacity,
		logger:   logger.With("component", "log-accountsink"),
	}
}

// Publish logs and stores the account. Publishing to a closed sink is a no-op.
func (s *AccountSink) Publish(ctx context.Context, account entity.ValidatedAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.logger.Info("liquidatable account",
		"account", account.Address,
		"registry", account.Scope.Registry.Hex(),
		"primaryMarket", account.PrimaryDebtMarket.Hex(),
		"totalBorrowUsd", usd.Format(account.TotalBorrowUSD18),
		"shortfallUsd", usd.Format(account.ShortfallUSD18),
		"cycle", account.SampledAtCycle)

	if len(s.accounts) == s.capacity {
		copy(s.accounts, s.accounts[1:])
		s.accounts = s.accounts[:len(s.accounts)-1]
	}
	s.accounts = append(s.accounts, account)
	s.total++

	if s.onPublish != nil {
		s.onPublish(account)
	}
	return nil
}

// Close marks the sink as closed.
func (s *AccountSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Accounts returns the retained accounts, oldest first.
func (s *AccountSink) Accounts() []entity.ValidatedAccount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]entity.ValidatedAccount, len(s.accounts))
	copy(result, s.accounts)
	return result
}

// Total returns the number of accounts published since creation.
func (s *AccountSink) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// OnPublish sets a callback to be called when an account is published.
func (s *AccountSink) OnPublish(fn func(entity.ValidatedAccount)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPublish = fn
}
