package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"referral-ledger/internal/domain"
	"referral-ledger/internal/storage"
)

// MarketStore is an in-memory implementation of storage.MarketStore.
type MarketStore struct {
	mu   sync.RWMutex
	data map[int64]*domain.Market // keyed by genesis index
}

// NewMarketStore creates a new in-memory market store.
func NewMarketStore() *MarketStore {
	return &MarketStore{
		data: make(map[int64]*domain.Market),
	}
}

// Compile-time interface check.
var _ storage.MarketStore = (*MarketStore)(nil)

func cloneMarket(m *domain.Market) *domain.Market {
	c := *m
	if m.GenesisIndex != nil {
		idx := *m.GenesisIndex
		c.GenesisIndex = &idx
	}
	if m.GenesisLastSubmittedPriceA != nil {
		c.GenesisLastSubmittedPriceA = new(big.Int).Set(m.GenesisLastSubmittedPriceA)
	}
	for i, id := range m.ClobTokenIDs {
		if id != nil {
			c.ClobTokenIDs[i] = new(big.Int).Set(id)
		}
	}
	return &c
}

// Upsert inserts or replaces a market keyed by genesis index.
func (s *MarketStore) Upsert(_ context.Context, m *domain.Market) error {
	if m == nil || m.GenesisIndex == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[*m.GenesisIndex] = cloneMarket(m)
	return nil
}

// GetByGenesisIndex retrieves a market by its genesis index. Returns
// ErrNotFound if not exists.
func (s *MarketStore) GetByGenesisIndex(_ context.Context, index int64) (*domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.data[index]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneMarket(m), nil
}

// GetPriced retrieves all markets with a genesis index and a submitted
// price, ordered by genesis index ASC.
func (s *MarketStore) GetPriced(_ context.Context) ([]*domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Market
	for _, m := range s.data {
		if m.Priced() {
			result = append(result, cloneMarket(m))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return *result[i].GenesisIndex < *result[j].GenesisIndex
	})

	return result, nil
}
