package memory

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"sync"

	"referral-ledger/internal/domain"
	"referral-ledger/internal/storage"
)

// ReferralEntryStore is an in-memory implementation of
// storage.ReferralEntryStore. Used by tests and -use-memory mode.
type ReferralEntryStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ReferralEntry // keyed by entry ID
}

// NewReferralEntryStore creates a new in-memory entry store.
func NewReferralEntryStore() *ReferralEntryStore {
	return &ReferralEntryStore{
		data: make(map[string]*domain.ReferralEntry),
	}
}

// Compile-time interface check.
var _ storage.ReferralEntryStore = (*ReferralEntryStore)(nil)

// cloneEntry returns a deep copy so callers cannot mutate stored state
// through shared big.Int pointers.
func cloneEntry(e *domain.ReferralEntry) *domain.ReferralEntry {
	c := *e
	if e.TotalTokens != nil {
		c.TotalTokens = new(big.Int).Set(e.TotalTokens)
	}
	if e.RealizedValue != nil {
		c.RealizedValue = new(big.Int).Set(e.RealizedValue)
	}
	return &c
}

// sortByTimestampDesc orders entries most recent first, ID as tie-break.
func sortByTimestampDesc(entries []*domain.ReferralEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Timestamp != entries[j].Timestamp {
			return entries[i].Timestamp > entries[j].Timestamp
		}
		return entries[i].ID > entries[j].ID
	})
}

// Insert adds a new entry. Returns ErrDuplicateKey if the ID exists.
func (s *ReferralEntryStore) Insert(_ context.Context, e *domain.ReferralEntry) error {
	if e == nil || e.ID == "" || e.TotalTokens == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.ID]; exists {
		return storage.ErrDuplicateKey
	}

	stored := cloneEntry(e)
	stored.UserAddress = strings.ToLower(stored.UserAddress)
	s.data[e.ID] = stored
	return nil
}

// GetByID retrieves an entry by ID. Returns ErrNotFound if not exists.
func (s *ReferralEntryStore) GetByID(_ context.Context, id string) (*domain.ReferralEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneEntry(e), nil
}

// GetByReferralCode retrieves all entries for a referral code, ordered by
// timestamp DESC.
func (s *ReferralEntryStore) GetByReferralCode(_ context.Context, referralCodeID string) ([]*domain.ReferralEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ReferralEntry
	for _, e := range s.data {
		if e.ReferralCodeID == referralCodeID {
			result = append(result, cloneEntry(e))
		}
	}

	sortByTimestampDesc(result)
	return result, nil
}

// FindMatch retrieves the most recent entry satisfying the filter.
// Returns ErrNotFound if no entry matches.
func (s *ReferralEntryStore) FindMatch(_ context.Context, f storage.EntryFilter) (*domain.ReferralEntry, error) {
	if f.TotalTokens == nil {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	addr := strings.ToLower(f.UserAddress)

	var best *domain.ReferralEntry
	for _, e := range s.data {
		if e.UserAddress != addr || e.Type != f.Type {
			continue
		}
		if e.Timestamp < f.MinTimestamp {
			continue
		}
		if e.TotalTokens.Cmp(f.TotalTokens) != 0 {
			continue
		}
		if f.UnsettledOnly && e.RealizedValue != nil {
			continue
		}
		if best == nil || e.Timestamp > best.Timestamp {
			best = e
		}
	}

	if best == nil {
		return nil, storage.ErrNotFound
	}
	return cloneEntry(best), nil
}

// GetSettledDeposits retrieves deposit entries with a non-null realized
// value and timestamp >= minTimestamp, ordered by timestamp DESC.
func (s *ReferralEntryStore) GetSettledDeposits(_ context.Context, referralCodeID string, minTimestamp int64) ([]*domain.ReferralEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ReferralEntry
	for _, e := range s.data {
		if e.ReferralCodeID != referralCodeID || e.Type != domain.EntryTypeDeposit {
			continue
		}
		if e.RealizedValue == nil || e.Timestamp < minTimestamp {
			continue
		}
		result = append(result, cloneEntry(e))
	}

	sortByTimestampDesc(result)
	return result, nil
}

// SetRealizedValue writes the realized value and transaction hash onto an
// entry. Returns ErrNotFound if the entry does not exist.
func (s *ReferralEntryStore) SetRealizedValue(_ context.Context, id string, value *big.Int, txHash string) error {
	if value == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}

	e.RealizedValue = new(big.Int).Set(value)
	e.TransactionHash = txHash
	return nil
}

// DecrementRealizedValues applies all updates atomically under the store
// lock. Returns ErrNotFound if any referenced entry does not exist; no
// update is applied in that case.
func (s *ReferralEntryStore) DecrementRealizedValues(_ context.Context, decs []storage.ValueDecrement) error {
	if len(decs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// First pass: validate every target exists.
	for _, d := range decs {
		if d.NewValue == nil {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[d.EntryID]; !exists {
			return storage.ErrNotFound
		}
	}

	// Second pass: apply.
	for _, d := range decs {
		s.data[d.EntryID].RealizedValue = new(big.Int).Set(d.NewValue)
	}
	return nil
}
