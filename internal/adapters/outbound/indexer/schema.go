package indexer

import (
	"encoding/json"
	"fmt"
)

// Schema names a supported indexer schema.
type Schema string

const (
	// SchemaAccounts is the Compound subgraph: accounts with a positive borrow value.
	SchemaAccounts Schema = "accounts"

	// SchemaPositions is the Messari lending schema: open borrower positions.
	SchemaPositions Schema = "positions"
)

// DefaultSchemas is the fallback order used when none is configured.
var DefaultSchemas = []Schema{SchemaAccounts, SchemaPositions}

type variant struct {
	schema Schema
	query  string
	parse  func(data json.RawMessage) ([]string, error)
}

const accountsQuery = `query Borrowers($first: Int!, $skip: Int!) {
  accounts(first: $first, skip: $skip, orderBy: totalBorrowValueInUSD, orderDirection: desc, where: { totalBorrowValueInUSD_gt: "0" }) {
    id
  }
}`

const positionsQuery = `query Borrowers($first: Int!, $skip: Int!) {
  positions(first: $first, skip: $skip, where: { side: BORROWER, hashClosed: null }) {
    account {
      id
    }
  }
}`

type accountsData struct {
	Accounts []struct {
		ID string `json:"id"`
	} `json:"accounts"`
}

type positionsData struct {
	Positions []struct {
		Account struct {
			ID string `json:"id"`
		} `json:"account"`
	} `json:"positions"`
}

func parseAccounts(data json.RawMessage) ([]string, error) {
	var d accountsData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decoding accounts page: %w", err)
	}
	ids := make([]string, len(d.Accounts))
	for i, a := range d.Accounts {
		ids[i] = a.ID
	}
	return ids, nil
}

func parsePositions(data json.RawMessage) ([]string, error) {
	var d positionsData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decoding positions page: %w", err)
	}
	ids := make([]string, len(d.Positions))
	for i, p := range d.Positions {
		ids[i] = p.Account.ID
	}
	return ids, nil
}

func variantFor(s Schema) (variant, error) {
	switch s {
	case SchemaAccounts:
		return variant{schema: s, query: accountsQuery, parse: parseAccounts}, nil
	case SchemaPositions:
		return variant{schema: s, query: positionsQuery, parse: parsePositions}, nil
	default:
		return variant{}, fmt.Errorf("unknown indexer schema %q", s)
	}
}
