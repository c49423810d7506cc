package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"referral-ledger/internal/domain"
	"referral-ledger/internal/storage"
)

// MarketStore implements storage.MarketStore using PostgreSQL. The markets
// table is written by the external price-update process; settlement only
// reads it. Upsert exists for that process and for test seeding.
type MarketStore struct {
	pool *Pool
}

// NewMarketStore creates a new MarketStore.
func NewMarketStore(pool *Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// Compile-time interface check.
var _ storage.MarketStore = (*MarketStore)(nil)

// Upsert inserts or replaces a market keyed by genesis index.
func (s *MarketStore) Upsert(ctx context.Context, m *domain.Market) error {
	if m == nil || m.GenesisIndex == nil || m.ClobTokenIDs[0] == nil || m.ClobTokenIDs[1] == nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO markets (genesis_index, genesis_last_submitted_price_a, clob_token_id_a, clob_token_id_b)
		VALUES ($1, $2::numeric, $3::numeric, $4::numeric)
		ON CONFLICT (genesis_index) DO UPDATE SET
			genesis_last_submitted_price_a = EXCLUDED.genesis_last_submitted_price_a,
			clob_token_id_a = EXCLUDED.clob_token_id_a,
			clob_token_id_b = EXCLUDED.clob_token_id_b
	`

	_, err := s.pool.Exec(ctx, query,
		*m.GenesisIndex,
		bigString(m.GenesisLastSubmittedPriceA),
		m.ClobTokenIDs[0].String(),
		m.ClobTokenIDs[1].String(),
	)
	if err != nil {
		return fmt.Errorf("upsert market: %w", err)
	}
	return nil
}

// GetByGenesisIndex retrieves a market by its genesis index. Returns
// ErrNotFound if not exists.
func (s *MarketStore) GetByGenesisIndex(ctx context.Context, index int64) (*domain.Market, error) {
	query := `
		SELECT genesis_index, genesis_last_submitted_price_a::text,
		       clob_token_id_a::text, clob_token_id_b::text
		FROM markets
		WHERE genesis_index = $1
	`

	m, err := scanMarket(s.pool.QueryRow(ctx, query, index))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get market by genesis index: %w", err)
	}
	return m, nil
}

// GetPriced retrieves all markets with a submitted price, ordered by
// genesis index ASC.
func (s *MarketStore) GetPriced(ctx context.Context) ([]*domain.Market, error) {
	query := `
		SELECT genesis_index, genesis_last_submitted_price_a::text,
		       clob_token_id_a::text, clob_token_id_b::text
		FROM markets
		WHERE genesis_last_submitted_price_a IS NOT NULL
		ORDER BY genesis_index ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get priced markets: %w", err)
	}
	defer rows.Close()

	var markets []*domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan market row: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate market rows: %w", err)
	}

	return markets, nil
}

func scanMarket(row pgx.Row) (*domain.Market, error) {
	var (
		m      domain.Market
		index  int64
		priceA *string
		tokenA string
		tokenB string
	)

	if err := row.Scan(&index, &priceA, &tokenA, &tokenB); err != nil {
		return nil, err
	}

	m.GenesisIndex = &index

	var err error
	if m.GenesisLastSubmittedPriceA, err = parseNullableBig(priceA); err != nil {
		return nil, err
	}
	if m.ClobTokenIDs[0], err = parseBig(tokenA); err != nil {
		return nil, err
	}
	if m.ClobTokenIDs[1], err = parseBig(tokenB); err != nil {
		return nil, err
	}

	return &m, nil
}
