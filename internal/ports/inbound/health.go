// Package inbound contains the primary/inbound ports.
package inbound

import "time"

// ScannerStatus is the snapshot served on the combined health endpoint.
type ScannerStatus struct {
	Cycles         int64     `json:"cycles"`
	LastCycleAt    time.Time `json:"lastCycleAt,omitzero"`
	LastSource     string    `json:"lastSource,omitempty"`
	LastCandidates int       `json:"lastCandidates"`
	LastHandedOff  int       `json:"lastHandedOff"`
	LedgerEntries  int       `json:"ledgerEntries"`
	LastError      string    `json:"lastError,omitempty"`
}

// HealthChecker defines the interface for services that can report readiness and liveness.
type HealthChecker interface {
	// IsReady returns true once the first scan cycle has completed.
	IsReady() bool

	// IsHealthy returns true while cycles keep completing within the staleness window.
	IsHealthy() bool

	// Status returns counters from the most recent cycle.
	Status() ScannerStatus
}
