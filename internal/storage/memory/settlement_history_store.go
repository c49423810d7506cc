package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"referral-ledger/internal/domain"
	"referral-ledger/internal/storage"
)

// SettlementHistoryStore is an in-memory implementation of
// storage.SettlementHistoryStore.
type SettlementHistoryStore struct {
	mu   sync.RWMutex
	data map[string]*domain.SettlementRecord // keyed by record ID
}

// NewSettlementHistoryStore creates a new in-memory history store.
func NewSettlementHistoryStore() *SettlementHistoryStore {
	return &SettlementHistoryStore{
		data: make(map[string]*domain.SettlementRecord),
	}
}

// Compile-time interface check.
var _ storage.SettlementHistoryStore = (*SettlementHistoryStore)(nil)

func cloneRecord(r *domain.SettlementRecord) *domain.SettlementRecord {
	c := *r
	if r.ValueDelta != nil {
		c.ValueDelta = new(big.Int).Set(r.ValueDelta)
	}
	return &c
}

// InsertBulk adds multiple records. Fails entire batch on any duplicate.
func (s *SettlementHistoryStore) InsertBulk(_ context.Context, records []*domain.SettlementRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r == nil || r.RecordID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[r.RecordID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[r.RecordID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[r.RecordID] = struct{}{}
	}

	for _, r := range records {
		s.data[r.RecordID] = cloneRecord(r)
	}
	return nil
}

// GetByReferralCode retrieves all records for a referral code, ordered by
// timestamp ASC.
func (s *SettlementHistoryStore) GetByReferralCode(_ context.Context, referralCodeID string) ([]*domain.SettlementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SettlementRecord
	for _, r := range s.data {
		if r.ReferralCodeID == referralCodeID {
			result = append(result, cloneRecord(r))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp < result[j].Timestamp
		}
		return result[i].RecordID < result[j].RecordID
	})

	return result, nil
}
