package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"referral-ledger/internal/domain"
	"referral-ledger/internal/storage"
)

// ReferralCodeStore implements storage.ReferralCodeStore using PostgreSQL.
type ReferralCodeStore struct {
	pool *Pool
}

// NewReferralCodeStore creates a new ReferralCodeStore.
func NewReferralCodeStore(pool *Pool) *ReferralCodeStore {
	return &ReferralCodeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ReferralCodeStore = (*ReferralCodeStore)(nil)

// Insert adds a new code. Returns ErrDuplicateKey if ID or code exists.
func (s *ReferralCodeStore) Insert(ctx context.Context, c *domain.ReferralCode) error {
	if c == nil || c.ID == "" || c.Code == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO referral_codes (id, code, owner_address, owner_name, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.pool.Exec(ctx, query,
		c.ID,
		c.Code,
		strings.ToLower(c.OwnerAddress),
		c.OwnerName,
		c.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert referral code: %w", err)
	}
	return nil
}

// GetByID retrieves a code by its ID. Returns ErrNotFound if not exists.
func (s *ReferralCodeStore) GetByID(ctx context.Context, id string) (*domain.ReferralCode, error) {
	query := `
		SELECT id, code, owner_address, owner_name, created_at
		FROM referral_codes
		WHERE id = $1
	`
	return s.scanOne(s.pool.QueryRow(ctx, query, id), "get referral code by id")
}

// GetByCode retrieves a code by its code string. Returns ErrNotFound if
// not exists.
func (s *ReferralCodeStore) GetByCode(ctx context.Context, code string) (*domain.ReferralCode, error) {
	query := `
		SELECT id, code, owner_address, owner_name, created_at
		FROM referral_codes
		WHERE code = $1
	`
	return s.scanOne(s.pool.QueryRow(ctx, query, code), "get referral code by code")
}

// GetAll retrieves all codes, ordered by created_at ASC.
func (s *ReferralCodeStore) GetAll(ctx context.Context) ([]*domain.ReferralCode, error) {
	query := `
		SELECT id, code, owner_address, owner_name, created_at
		FROM referral_codes
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all referral codes: %w", err)
	}
	defer rows.Close()

	var codes []*domain.ReferralCode
	for rows.Next() {
		var c domain.ReferralCode
		if err := rows.Scan(&c.ID, &c.Code, &c.OwnerAddress, &c.OwnerName, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan referral code row: %w", err)
		}
		codes = append(codes, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate referral code rows: %w", err)
	}

	return codes, nil
}

func (s *ReferralCodeStore) scanOne(row pgx.Row, op string) (*domain.ReferralCode, error) {
	var c domain.ReferralCode
	err := row.Scan(&c.ID, &c.Code, &c.OwnerAddress, &c.OwnerName, &c.CreatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &c, nil
}
