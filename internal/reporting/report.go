package reporting

import (
	"math/big"
	"time"
)

// Report summarizes the attribution ledger per referral code.
type Report struct {
	// Metadata
	GeneratedAt time.Time
	CodeCount   int
	EntryCount  int

	// Summaries (sorted by code)
	Summaries []CodeSummaryRow
}

// CodeSummaryRow aggregates one referral code's ledger state.
type CodeSummaryRow struct {
	Code         string
	OwnerAddress string
	OwnerName    string

	DepositCount  int
	WithdrawCount int
	SettledCount  int // deposits with a realized value

	// TotalRealizedValue is the current sum of realized values, after
	// withdraw-driven decrements. Fixed-point, PriceScale decimals.
	TotalRealizedValue *big.Int

	// Audit-trail aggregates; zero when history is unavailable.
	GrossSettledValue *big.Int // sum of settle deltas
	DecrementedValue  *big.Int // sum of decrement deltas
	SettleRecords     int
	DecrementRecords  int

	// LastActivity is the greatest entry timestamp, epoch millis.
	LastActivity int64
}
