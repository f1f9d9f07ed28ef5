package testutil

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

var _ outbound.ChainReader = (*MockChainReader)(nil)

// MockChainReader implements outbound.ChainReader for testing.
type MockChainReader struct {
	mu sync.Mutex

	BlockNumberFn     func(ctx context.Context) (uint64, error)
	FilterLogsFn      func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SuggestGasPriceFn func(ctx context.Context) (*big.Int, error)

	FilterQueries []ethereum.FilterQuery
	GasCalls      int
}

func (m *MockChainReader) BlockNumber(ctx context.Context) (uint64, error) {
	if m.BlockNumberFn != nil {
		return m.BlockNumberFn(ctx)
	}
	return 0, errors.New("BlockNumber not mocked")
}

func (m *MockChainReader) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	m.mu.Lock()
	m.FilterQueries = append(m.FilterQueries, q)
	m.mu.Unlock()
	if m.FilterLogsFn != nil {
		return m.FilterLogsFn(ctx, q)
	}
	return nil, errors.New("FilterLogs not mocked")
}

func (m *MockChainReader) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	m.mu.Lock()
	m.GasCalls++
	m.mu.Unlock()
	if m.SuggestGasPriceFn != nil {
		return m.SuggestGasPriceFn(ctx)
	}
	return nil, errors.New("SuggestGasPrice not mocked")
}

// Queries returns a copy of the recorded filter queries.
func (m *MockChainReader) Queries() []ethereum.FilterQuery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ethereum.FilterQuery(nil), m.FilterQueries...)
}
