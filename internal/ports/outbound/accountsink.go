package outbound

import (
	"context"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
)

// AccountSink hands validated liquidatable accounts to the execution side.
type AccountSink interface {
	// Publish delivers one account. A returned error means the account was
	// not handed off and will be offered again next cycle.
	Publish(ctx context.Context, account entity.ValidatedAccount) error

	// Close closes the sink and releases any resources.
	Close() error
}
