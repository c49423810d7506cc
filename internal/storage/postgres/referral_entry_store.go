package postgres

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/jackc/pgx/v5"

	"referral-ledger/internal/domain"
	"referral-ledger/internal/storage"
)

// ReferralEntryStore implements storage.ReferralEntryStore using PostgreSQL.
type ReferralEntryStore struct {
	pool *Pool
}

// NewReferralEntryStore creates a new ReferralEntryStore.
func NewReferralEntryStore(pool *Pool) *ReferralEntryStore {
	return &ReferralEntryStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ReferralEntryStore = (*ReferralEntryStore)(nil)

const entryColumns = `
	id, referral_code_id, user_address, total_tokens::text, realized_value::text,
	timestamp, transaction_hash, type
`

// Insert adds a new entry. Returns ErrDuplicateKey if the ID exists.
func (s *ReferralEntryStore) Insert(ctx context.Context, e *domain.ReferralEntry) error {
	if e == nil || e.ID == "" || e.TotalTokens == nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO referral_entries (
			id, referral_code_id, user_address, total_tokens, realized_value,
			timestamp, transaction_hash, type
		) VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8)
	`

	_, err := s.pool.Exec(ctx, query,
		e.ID,
		e.ReferralCodeID,
		strings.ToLower(e.UserAddress),
		e.TotalTokens.String(),
		bigString(e.RealizedValue),
		e.Timestamp,
		e.TransactionHash,
		string(e.Type),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert referral entry: %w", err)
	}
	return nil
}

// GetByID retrieves an entry by ID. Returns ErrNotFound if not exists.
func (s *ReferralEntryStore) GetByID(ctx context.Context, id string) (*domain.ReferralEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM referral_entries WHERE id = $1`

	e, err := scanEntry(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get referral entry by id: %w", err)
	}
	return e, nil
}

// GetByReferralCode retrieves all entries for a referral code, ordered by
// timestamp DESC.
func (s *ReferralEntryStore) GetByReferralCode(ctx context.Context, referralCodeID string) ([]*domain.ReferralEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM referral_entries
		WHERE referral_code_id = $1
		ORDER BY timestamp DESC, id DESC
	`

	rows, err := s.pool.Query(ctx, query, referralCodeID)
	if err != nil {
		return nil, fmt.Errorf("get entries by referral code: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// FindMatch retrieves the most recent entry satisfying the filter.
// Returns ErrNotFound if no entry matches.
func (s *ReferralEntryStore) FindMatch(ctx context.Context, f storage.EntryFilter) (*domain.ReferralEntry, error) {
	if f.TotalTokens == nil {
		return nil, storage.ErrInvalidInput
	}

	query := `
		SELECT ` + entryColumns + `
		FROM referral_entries
		WHERE user_address = $1
		  AND type = $2
		  AND timestamp >= $3
		  AND total_tokens = $4::numeric
	`
	if f.UnsettledOnly {
		query += ` AND realized_value IS NULL`
	}
	query += `
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`

	e, err := scanEntry(s.pool.QueryRow(ctx, query,
		strings.ToLower(f.UserAddress),
		string(f.Type),
		f.MinTimestamp,
		f.TotalTokens.String(),
	))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("find matching entry: %w", err)
	}
	return e, nil
}

// GetSettledDeposits retrieves deposit entries with a non-null realized
// value and timestamp >= minTimestamp, ordered by timestamp DESC.
func (s *ReferralEntryStore) GetSettledDeposits(ctx context.Context, referralCodeID string, minTimestamp int64) ([]*domain.ReferralEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM referral_entries
		WHERE referral_code_id = $1
		  AND type = 'deposit'
		  AND realized_value IS NOT NULL
		  AND timestamp >= $2
		ORDER BY timestamp DESC, id DESC
	`

	rows, err := s.pool.Query(ctx, query, referralCodeID, minTimestamp)
	if err != nil {
		return nil, fmt.Errorf("get settled deposits: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// SetRealizedValue writes the realized value and transaction hash onto an
// entry. Returns ErrNotFound if the entry does not exist.
func (s *ReferralEntryStore) SetRealizedValue(ctx context.Context, id string, value *big.Int, txHash string) error {
	if value == nil {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE referral_entries
		SET realized_value = $2::numeric, transaction_hash = $3
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query, id, value.String(), txHash)
	if err != nil {
		return fmt.Errorf("set realized value: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DecrementRealizedValues applies all updates in a single transaction.
// Returns ErrNotFound if any referenced entry does not exist; the
// transaction is rolled back in that case.
func (s *ReferralEntryStore) DecrementRealizedValues(ctx context.Context, decs []storage.ValueDecrement) error {
	if len(decs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `UPDATE referral_entries SET realized_value = $2::numeric WHERE id = $1`

	for _, d := range decs {
		if d.NewValue == nil {
			return storage.ErrInvalidInput
		}
		tag, err := tx.Exec(ctx, query, d.EntryID, d.NewValue.String())
		if err != nil {
			return fmt.Errorf("decrement realized value: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrNotFound
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// scanEntry scans a single row into a ReferralEntry.
func scanEntry(row pgx.Row) (*domain.ReferralEntry, error) {
	var (
		e            domain.ReferralEntry
		typ          string
		totalTokens  string
		realized     *string
		txHash       *string
	)

	err := row.Scan(
		&e.ID,
		&e.ReferralCodeID,
		&e.UserAddress,
		&totalTokens,
		&realized,
		&e.Timestamp,
		&txHash,
		&typ,
	)
	if err != nil {
		return nil, err
	}

	if e.TotalTokens, err = parseBig(totalTokens); err != nil {
		return nil, err
	}
	if e.RealizedValue, err = parseNullableBig(realized); err != nil {
		return nil, err
	}
	if txHash != nil {
		e.TransactionHash = *txHash
	}
	e.Type = domain.EntryType(typ)

	return &e, nil
}

// scanEntries scans multiple rows into a slice of ReferralEntry.
func scanEntries(rows pgx.Rows) ([]*domain.ReferralEntry, error) {
	var entries []*domain.ReferralEntry

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry row: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entry rows: %w", err)
	}

	return entries, nil
}
