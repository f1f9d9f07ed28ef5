package entity

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RegistryScope is the registry an account is entered in, resolved at
// validation time and never cached across cycles.
type RegistryScope struct {
	Registry      common.Address   `json:"registry"`
	Oracle        common.Address   `json:"oracle"`
	ActiveMarkets []common.Address `json:"activeMarkets"`

	// CloseFactor and LiquidationIncentive are 1e18 mantissas for the executor.
	CloseFactor          *big.Int `json:"closeFactor"`
	LiquidationIncentive *big.Int `json:"liquidationIncentive"`
}

// NewRegistryScope creates a RegistryScope and validates it.
func NewRegistryScope(registry, oracle common.Address, markets []common.Address, closeFactor, incentive *big.Int) (*RegistryScope, error) {
	s := &RegistryScope{
		Registry:             registry,
		Oracle:               oracle,
		ActiveMarkets:        markets,
		CloseFactor:          closeFactor,
		LiquidationIncentive: incentive,
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RegistryScope) validate() error {
	if s.Registry == (common.Address{}) {
		return fmt.Errorf("registry must not be the zero address")
	}
	if s.Oracle == (common.Address{}) {
		return fmt.Errorf("oracle must not be the zero address")
	}
	if len(s.ActiveMarkets) == 0 {
		return fmt.Errorf("scope must have at least one active market")
	}
	return nil
}
