package storage

import (
	"context"
	"math/big"

	"referral-ledger/internal/domain"
)

// EntryFilter describes the predicate used to locate the pending entry that
// corresponds to an on-chain event.
type EntryFilter struct {
	UserAddress  string           // matched case-insensitively (entries stored lowercased)
	Type         domain.EntryType // entry type to match
	MinTimestamp int64            // inclusive lower bound, epoch millis
	TotalTokens  *big.Int         // exact match
	// UnsettledOnly restricts the match to entries whose realized value is
	// still null. Set on the deposit path so an entry settles at most once.
	UnsettledOnly bool
}

// ValueDecrement is a single realized-value update within a withdraw
// settlement. All decrements of one withdrawal are applied atomically.
type ValueDecrement struct {
	EntryID  string
	NewValue *big.Int
}

// ReferralEntryStore provides access to referral_entries storage.
type ReferralEntryStore interface {
	// Insert adds a new entry. Returns ErrDuplicateKey if the ID exists.
	// Entries are created by the frontend-facing path, not by settlement.
	Insert(ctx context.Context, e *domain.ReferralEntry) error

	// GetByID retrieves an entry by ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.ReferralEntry, error)

	// GetByReferralCode retrieves all entries for a referral code, ordered
	// by timestamp DESC.
	GetByReferralCode(ctx context.Context, referralCodeID string) ([]*domain.ReferralEntry, error)

	// FindMatch retrieves the entry with the greatest timestamp satisfying
	// the filter. Returns ErrNotFound if no entry matches.
	FindMatch(ctx context.Context, f EntryFilter) (*domain.ReferralEntry, error)

	// GetSettledDeposits retrieves deposit entries for a referral code with
	// a non-null realized value and timestamp >= minTimestamp, ordered by
	// timestamp DESC.
	GetSettledDeposits(ctx context.Context, referralCodeID string, minTimestamp int64) ([]*domain.ReferralEntry, error)

	// SetRealizedValue writes the realized value and transaction hash onto
	// an entry. Returns ErrNotFound if the entry does not exist.
	SetRealizedValue(ctx context.Context, id string, value *big.Int, txHash string) error

	// DecrementRealizedValues applies all updates in a single transaction.
	// Returns ErrNotFound if any referenced entry does not exist.
	DecrementRealizedValues(ctx context.Context, decs []ValueDecrement) error
}

// ReferralCodeStore provides access to referral_codes storage.
type ReferralCodeStore interface {
	// Insert adds a new code. Returns ErrDuplicateKey if ID or code exists.
	Insert(ctx context.Context, c *domain.ReferralCode) error

	// GetByID retrieves a code by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.ReferralCode, error)

	// GetByCode retrieves a code by its code string. Returns ErrNotFound if
	// not exists.
	GetByCode(ctx context.Context, code string) (*domain.ReferralCode, error)

	// GetAll retrieves all codes, ordered by created_at ASC.
	GetAll(ctx context.Context) ([]*domain.ReferralCode, error)
}

// MarketStore provides read access to the market price table maintained by
// the external price-update process.
type MarketStore interface {
	// GetByGenesisIndex retrieves a market by its genesis index. Returns
	// ErrNotFound if not exists.
	GetByGenesisIndex(ctx context.Context, index int64) (*domain.Market, error)

	// GetPriced retrieves all markets that have both a genesis index and a
	// submitted price, ordered by genesis index ASC.
	GetPriced(ctx context.Context) ([]*domain.Market, error)

	// Upsert inserts or replaces a market keyed by genesis index.
	Upsert(ctx context.Context, m *domain.Market) error
}

// SettlementHistoryStore provides access to the append-only settlement
// audit trail.
type SettlementHistoryStore interface {
	// InsertBulk adds multiple records. Fails entire batch on duplicate
	// record_id.
	InsertBulk(ctx context.Context, records []*domain.SettlementRecord) error

	// GetByReferralCode retrieves all records for a referral code, ordered
	// by timestamp ASC.
	GetByReferralCode(ctx context.Context, referralCodeID string) ([]*domain.SettlementRecord, error)
}
