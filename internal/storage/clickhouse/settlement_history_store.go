package clickhouse

import (
	"context"
	"fmt"
	"math/big"

	"referral-ledger/internal/domain"
	"referral-ledger/internal/storage"
)

// SettlementHistoryStore implements storage.SettlementHistoryStore using
// ClickHouse. Value deltas are stored as decimal strings so uint256-scale
// amounts round-trip exactly.
type SettlementHistoryStore struct {
	conn *Conn
}

// NewSettlementHistoryStore creates a new SettlementHistoryStore.
func NewSettlementHistoryStore(conn *Conn) *SettlementHistoryStore {
	return &SettlementHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SettlementHistoryStore = (*SettlementHistoryStore)(nil)

// RecordID computes a deterministic history record id.
func RecordID(entryID, direction, txHash string, valueDelta *big.Int, timestampMs int64) string {
	return domain.SettlementRecordID(entryID, direction, txHash, valueDelta, timestampMs)
}

// InsertBulk adds multiple records. Fails entire batch on duplicate
// record_id (checked explicitly; MergeTree does not enforce uniqueness).
func (s *SettlementHistoryStore) InsertBulk(ctx context.Context, records []*domain.SettlementRecord) error {
	if len(records) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r == nil || r.RecordID == "" || r.ValueDelta == nil {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[r.RecordID]; exists {
			return storage.ErrDuplicateKey
		}
		seen[r.RecordID] = struct{}{}
	}

	for _, r := range records {
		exists, err := s.exists(ctx, r.RecordID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO settlement_history (
			record_id, entry_id, referral_code_id, user_address,
			direction, value_delta, transaction_hash, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		err = batch.Append(
			r.RecordID, r.EntryID, r.ReferralCodeID, r.UserAddress,
			r.Direction, r.ValueDelta.String(), r.TransactionHash, uint64(r.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByReferralCode retrieves all records for a referral code, ordered by
// timestamp ASC.
func (s *SettlementHistoryStore) GetByReferralCode(ctx context.Context, referralCodeID string) ([]*domain.SettlementRecord, error) {
	query := `
		SELECT record_id, entry_id, referral_code_id, user_address,
		       direction, value_delta, transaction_hash, timestamp_ms
		FROM settlement_history
		WHERE referral_code_id = ?
		ORDER BY timestamp_ms ASC, record_id ASC
	`

	rows, err := s.conn.Query(ctx, query, referralCodeID)
	if err != nil {
		return nil, fmt.Errorf("get settlement history: %w", err)
	}
	defer rows.Close()

	var records []*domain.SettlementRecord
	for rows.Next() {
		var (
			r           domain.SettlementRecord
			delta       string
			timestampMs uint64
		)
		err := rows.Scan(
			&r.RecordID, &r.EntryID, &r.ReferralCodeID, &r.UserAddress,
			&r.Direction, &delta, &r.TransactionHash, &timestampMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan settlement history row: %w", err)
		}

		v, ok := new(big.Int).SetString(delta, 10)
		if !ok {
			return nil, fmt.Errorf("%w: malformed value_delta %q", storage.ErrInvalidInput, delta)
		}
		r.ValueDelta = v
		r.Timestamp = int64(timestampMs)

		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settlement history rows: %w", err)
	}

	return records, nil
}

func (s *SettlementHistoryStore) exists(ctx context.Context, recordID string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx,
		`SELECT count() FROM settlement_history WHERE record_id = ?`, recordID,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
