package liquidation_scanner

import (
	"time"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
)

// Ledger remembers recent hand-offs so the same (account, market) pair is not
// offered to the executor on every cycle. It is owned by the scanner loop and
// is not safe for concurrent use.
type Ledger struct {
	entries map[entity.ProcessedKey]time.Time
}

func NewLedger() *Ledger {
	return &Ledger{entries: make(map[entity.ProcessedKey]time.Time)}
}

// Seen reports whether key was marked within window of now.
func (l *Ledger) Seen(key entity.ProcessedKey, now time.Time, window time.Duration) bool {
	last, ok := l.entries[key]
	if !ok {
		return false
	}
	return now.Sub(last) < window
}

// Mark records key as handed off at now.
func (l *Ledger) Mark(key entity.ProcessedKey, now time.Time) {
	l.entries[key] = now
}

// Evict drops entries older than retention and returns how many were removed.
func (l *Ledger) Evict(now time.Time, retention time.Duration) int {
	evicted := 0
	for key, last := range l.entries {
		if now.Sub(last) > retention {
			delete(l.entries, key)
			evicted++
		}
	}
	return evicted
}

func (l *Ledger) Len() int {
	return len(l.entries)
}
