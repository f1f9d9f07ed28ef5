package entity

// ProcessedKey identifies a hand-off in the idempotence ledger.
type ProcessedKey struct {
	Address string
	Market  string
}

func (k ProcessedKey) String() string {
	return k.Address + "@" + k.Market
}
