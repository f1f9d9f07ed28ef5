package outbound

import "context"

// CandidateSource produces borrower addresses worth validating.
//
// Implementations return lowercase addresses, deduplicated, in first-seen
// order. Denylist filtering is the caller's job.
type CandidateSource interface {
	// Name identifies the source in logs and cycle reports.
	Name() string
	// Fetch returns the current candidate set.
	Fetch(ctx context.Context) ([]string, error)
}
