package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"referral-ledger/internal/domain"
	"referral-ledger/internal/storage"
)

func TestSettlementHistoryStore_InsertBulkAndGet(t *testing.T) {
	store := NewSettlementHistoryStore()
	ctx := context.Background()

	records := []*domain.SettlementRecord{
		{RecordID: "r2", EntryID: "e1", ReferralCodeID: "code-1", Direction: domain.DirectionDecrement, ValueDelta: big.NewInt(50), Timestamp: 2000},
		{RecordID: "r1", EntryID: "e1", ReferralCodeID: "code-1", Direction: domain.DirectionSettle, ValueDelta: big.NewInt(100), Timestamp: 1000},
	}
	if err := store.InsertBulk(ctx, records); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := store.GetByReferralCode(ctx, "code-1")
	if err != nil {
		t.Fatalf("GetByReferralCode failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].RecordID != "r1" || got[1].RecordID != "r2" {
		t.Errorf("expected ascending timestamp order, got %s, %s", got[0].RecordID, got[1].RecordID)
	}
}

func TestSettlementHistoryStore_DuplicateFailsWholeBatch(t *testing.T) {
	store := NewSettlementHistoryStore()
	ctx := context.Background()

	first := []*domain.SettlementRecord{
		{RecordID: "r1", ReferralCodeID: "code-1", Direction: domain.DirectionSettle, ValueDelta: big.NewInt(1), Timestamp: 1},
	}
	if err := store.InsertBulk(ctx, first); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	second := []*domain.SettlementRecord{
		{RecordID: "r2", ReferralCodeID: "code-1", Direction: domain.DirectionSettle, ValueDelta: big.NewInt(1), Timestamp: 2},
		{RecordID: "r1", ReferralCodeID: "code-1", Direction: domain.DirectionSettle, ValueDelta: big.NewInt(1), Timestamp: 3},
	}
	if err := store.InsertBulk(ctx, second); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	got, _ := store.GetByReferralCode(ctx, "code-1")
	if len(got) != 1 {
		t.Errorf("failed batch must not partially apply: %d records", len(got))
	}
}
