package testutil

import (
	"context"
	"sync"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

var _ outbound.AccountSink = (*RecordingSink)(nil)

// RecordingSink implements outbound.AccountSink and keeps every published account.
type RecordingSink struct {
	mu        sync.Mutex
	Published []entity.ValidatedAccount
	PublishFn func(ctx context.Context, account entity.ValidatedAccount) error
	Closed    bool
}

func (s *RecordingSink) Publish(ctx context.Context, account entity.ValidatedAccount) error {
	if s.PublishFn != nil {
		if err := s.PublishFn(ctx, account); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Published = append(s.Published, account)
	return nil
}

func (s *RecordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// Addresses returns the published account addresses in order.
func (s *RecordingSink) Addresses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Published))
	for i, a := range s.Published {
		out[i] = a.Address
	}
	return out
}
