package validator

import (
	"math"
	"math/big"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-liquidator/internal/pkg/usd"
)

// Batch accumulates per-cycle validation counters and health ratios. It is
// owned by the caller and discarded at the end of the cycle.
type Batch struct {
	Cycle          uint64
	watchThreshold float64

	mu           sync.Mutex
	attempted    int
	denied       int
	reads        int
	ratios       []float64
	watchlist    int
	liquidatable int
	skipped      map[common.Address]struct{}
}

// NewBatch starts a batch for cycle. Accounts with a health ratio below
// watchThreshold that are not liquidatable count toward the watchlist.
func NewBatch(cycle uint64, watchThreshold float64) *Batch {
	return &Batch{
		Cycle:          cycle,
		watchThreshold: watchThreshold,
		skipped:        make(map[common.Address]struct{}),
	}
}

func (b *Batch) attempt() {
	b.mu.Lock()
	b.attempted++
	b.mu.Unlock()
}

func (b *Batch) deny() {
	b.mu.Lock()
	b.denied++
	b.mu.Unlock()
}

func (b *Batch) addReads(n int) {
	b.mu.Lock()
	b.reads += n
	b.mu.Unlock()
}

// firstSkip reports whether market is skipped for the first time this cycle.
func (b *Batch) firstSkip(market common.Address) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.skipped[market]; ok {
		return false
	}
	b.skipped[market] = struct{}{}
	return true
}

// recordHealth stores the telemetry ratio for an account whose liquidity was read.
func (b *Batch) recordHealth(borrow, liquidity, shortfall *big.Int, liquidatable bool) {
	ratio, ok := usd.HealthRatio(borrow, liquidity, shortfall)
	b.mu.Lock()
	defer b.mu.Unlock()
	if liquidatable {
		b.liquidatable++
	}
	if !ok {
		return
	}
	b.ratios = append(b.ratios, ratio)
	if !liquidatable && ratio < b.watchThreshold {
		b.watchlist++
	}
}

// Reads returns the number of on-chain reads answered so far.
func (b *Batch) Reads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads
}

// Attempted returns the number of candidates passed to Validate.
func (b *Batch) Attempted() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempted
}

// Summary is the end-of-cycle view of a batch.
type Summary struct {
	Attempted    int
	Denied       int
	Reads        int
	Accounts     int
	HasRatios    bool
	Min          float64
	P5           float64
	Median       float64
	Watchlist    int
	Liquidatable int
}

func (b *Batch) Summary() Summary {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Summary{
		Attempted:    b.attempted,
		Denied:       b.denied,
		Reads:        b.reads,
		Accounts:     len(b.ratios),
		Watchlist:    b.watchlist,
		Liquidatable: b.liquidatable,
	}
	if len(b.ratios) == 0 {
		return s
	}

	sorted := slices.Clone(b.ratios)
	slices.Sort(sorted)
	n := len(sorted)

	s.HasRatios = true
	s.Min = sorted[0]
	s.P5 = sorted[nearestRank(0.05, n)]
	if n%2 == 1 {
		s.Median = sorted[n/2]
	} else {
		s.Median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return s
}

// nearestRank returns the 0-based index of percentile p in n sorted values.
func nearestRank(p float64, n int) int {
	idx := int(math.Ceil(p*float64(n))) - 1
	if idx < 0 {
		return 0
	}
	if idx >= n {
		return n - 1
	}
	return idx
}
