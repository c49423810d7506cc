package memory

import (
	"context"
	"sort"
	"sync"

	"referral-ledger/internal/domain"
	"referral-ledger/internal/storage"
)

// ReferralCodeStore is an in-memory implementation of
// storage.ReferralCodeStore.
type ReferralCodeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ReferralCode // keyed by ID
}

// NewReferralCodeStore creates a new in-memory code store.
func NewReferralCodeStore() *ReferralCodeStore {
	return &ReferralCodeStore{
		data: make(map[string]*domain.ReferralCode),
	}
}

// Compile-time interface check.
var _ storage.ReferralCodeStore = (*ReferralCodeStore)(nil)

// Insert adds a new code. Returns ErrDuplicateKey if ID or code exists.
func (s *ReferralCodeStore) Insert(_ context.Context, c *domain.ReferralCode) error {
	if c == nil || c.ID == "" || c.Code == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[c.ID]; exists {
		return storage.ErrDuplicateKey
	}
	for _, existing := range s.data {
		if existing.Code == c.Code {
			return storage.ErrDuplicateKey
		}
	}

	stored := *c
	s.data[c.ID] = &stored
	return nil
}

// GetByID retrieves a code by its ID. Returns ErrNotFound if not exists.
func (s *ReferralCodeStore) GetByID(_ context.Context, id string) (*domain.ReferralCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	copy := *c
	return &copy, nil
}

// GetByCode retrieves a code by its code string. Returns ErrNotFound if
// not exists.
func (s *ReferralCodeStore) GetByCode(_ context.Context, code string) (*domain.ReferralCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.data {
		if c.Code == code {
			copy := *c
			return &copy, nil
		}
	}
	return nil, storage.ErrNotFound
}

// GetAll retrieves all codes, ordered by created_at ASC.
func (s *ReferralCodeStore) GetAll(_ context.Context) ([]*domain.ReferralCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ReferralCode
	for _, c := range s.data {
		copy := *c
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}
