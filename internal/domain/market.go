package domain

import "math/big"

// Market is the price reference for a binary-outcome market. Maintained by
// an external price-update process; read-only from the settlement core.
type Market struct {
	GenesisIndex *int64 // nil for markets not yet assigned an index
	// GenesisLastSubmittedPriceA is the last submitted fixed-point price of
	// the "A"/YES side, PriceScale decimals. nil means not yet priced.
	GenesisLastSubmittedPriceA *big.Int
	// ClobTokenIDs holds the conditional-token ids of the two outcomes:
	// index 0 is the "A"/YES side, index 1 is the "B"/NO side.
	ClobTokenIDs [2]*big.Int
}

// Priced reports whether the market has an index and a submitted price,
// making it usable for value resolution.
func (m *Market) Priced() bool {
	return m.GenesisIndex != nil && m.GenesisLastSubmittedPriceA != nil
}

// TokenTransfer is a single conditional-token movement decoded from a
// transaction receipt. Ephemeral; never persisted.
type TokenTransfer struct {
	TokenID *big.Int
	Amount  *big.Int // fixed-point, PriceScale decimals
}
