package settlement

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/big"
	"testing"
	"time"

	"referral-ledger/internal/conditional"
	"referral-ledger/internal/domain"
	"referral-ledger/internal/ethereum"
	"referral-ledger/internal/ethereum/stub"
	"referral-ledger/internal/storage/memory"
)

const (
	testUser     = "0xAbCd000000000000000000000000000000000001"
	testCode     = "code-1"
	testContract = "0x4d97dcd97ec945f40cf65f87097ace5ea0476045"

	baseTs = int64(1_700_000_000_000)
)

type fixture struct {
	entries *memory.ReferralEntryStore
	markets *memory.MarketStore
	history *memory.SettlementHistoryStore
	chain   *stub.RPCClient
	settler *Settler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := log.New(io.Discard, "", 0)
	entries := memory.NewReferralEntryStore()
	markets := memory.NewMarketStore()
	history := memory.NewSettlementHistoryStore()
	chain := stub.NewRPCClient()

	noSleep := func(ctx context.Context, d time.Duration) error { return nil }
	matcher := NewMatcher(entries, DefaultMatchRetry, noSleep, logger)
	resolver := NewResolver(markets, chain, conditional.NewDecoder(testContract), logger)

	return &fixture{
		entries: entries,
		markets: markets,
		history: history,
		chain:   chain,
		settler: NewSettler(entries, matcher, resolver, history, logger),
	}
}

func (f *fixture) addEntry(t *testing.T, typ domain.EntryType, ts int64, tokens int64, realized *big.Int) *domain.ReferralEntry {
	t.Helper()

	e := &domain.ReferralEntry{
		ID:             domain.EntryID(testUser, ts, typ),
		ReferralCodeID: testCode,
		UserAddress:    testUser,
		TotalTokens:    big.NewInt(tokens),
		RealizedValue:  realized,
		Timestamp:      ts,
		Type:           typ,
	}
	if err := f.entries.Insert(context.Background(), e); err != nil {
		t.Fatalf("insert entry: %v", err)
	}
	return e
}

func (f *fixture) addMarket(t *testing.T, index int64, priceA *big.Int, tokenA, tokenB *big.Int) {
	t.Helper()

	m := &domain.Market{
		GenesisIndex:               &index,
		GenesisLastSubmittedPriceA: priceA,
		ClobTokenIDs:               [2]*big.Int{tokenA, tokenB},
	}
	if err := f.markets.Upsert(context.Background(), m); err != nil {
		t.Fatalf("upsert market: %v", err)
	}
}

func (f *fixture) realizedValue(t *testing.T, id string) *big.Int {
	t.Helper()

	e, err := f.entries.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get entry %s: %v", id, err)
	}
	return e.RealizedValue
}

func structured(index int64, isA bool, amount int64) *StructuredParams {
	return &StructuredParams{MarketIndex: index, IsA: isA, Amount: big.NewInt(amount)}
}

func TestDeposit_StructuredValue(t *testing.T) {
	f := newFixture(t)
	f.addMarket(t, 1, big.NewInt(600000), big.NewInt(11), big.NewInt(12))
	entry := f.addEntry(t, domain.EntryTypeDeposit, baseTs, 1000000, nil)

	err := f.settler.MatchDepositAndCalculateValue(context.Background(), MatchParams{
		UserAddress:     testUser,
		TotalTokens:     big.NewInt(1000000),
		EventTimestamp:  baseTs + 1000,
		TransactionHash: "0xdeadbeef",
		Structured:      structured(1, true, 1000000),
	})
	if err != nil {
		t.Fatalf("MatchDepositAndCalculateValue: %v", err)
	}

	got, gerr := f.entries.GetByID(context.Background(), entry.ID)
	if gerr != nil {
		t.Fatalf("get entry: %v", gerr)
	}
	if got.RealizedValue == nil || got.RealizedValue.Cmp(big.NewInt(600000)) != 0 {
		t.Errorf("realizedValue = %v, want 600000", got.RealizedValue)
	}
	if got.TransactionHash != "0xdeadbeef" {
		t.Errorf("transactionHash = %q, want 0xdeadbeef", got.TransactionHash)
	}
}

func TestDeposit_ComplementSide(t *testing.T) {
	f := newFixture(t)
	f.addMarket(t, 1, big.NewInt(700000), big.NewInt(11), big.NewInt(12))
	entry := f.addEntry(t, domain.EntryTypeDeposit, baseTs, 500000, nil)

	err := f.settler.MatchDepositAndCalculateValue(context.Background(), MatchParams{
		UserAddress:     testUser,
		TotalTokens:     big.NewInt(500000),
		EventTimestamp:  baseTs,
		TransactionHash: "0x01",
		Structured:      structured(1, false, 500000),
	})
	if err != nil {
		t.Fatalf("MatchDepositAndCalculateValue: %v", err)
	}

	// price of the B side is 1000000 - 700000 = 300000
	if v := f.realizedValue(t, entry.ID); v == nil || v.Cmp(big.NewInt(150000)) != 0 {
		t.Errorf("realizedValue = %v, want 150000", v)
	}
}

func TestDeposit_WindowBoundary(t *testing.T) {
	f := newFixture(t)
	f.addMarket(t, 1, big.NewInt(500000), big.NewInt(11), big.NewInt(12))

	tests := []struct {
		name    string
		eventTs int64
		settled bool
	}{
		{"just inside window", baseTs + 119_000, true},
		{"exactly at window", baseTs + 120_000, true},
		{"outside window", baseTs + 121_000, false},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Separate entries per case to keep settlements independent.
			ts := baseTs + int64(i)
			entry := f.addEntry(t, domain.EntryTypeDeposit, ts, 100+int64(i), nil)

			err := f.settler.MatchDepositAndCalculateValue(context.Background(), MatchParams{
				UserAddress:     testUser,
				TotalTokens:     big.NewInt(100 + int64(i)),
				EventTimestamp:  tt.eventTs + int64(i),
				TransactionHash: "0x01",
				Structured:      structured(1, true, 100),
			})
			if err != nil {
				t.Fatalf("MatchDepositAndCalculateValue: %v", err)
			}

			settled := f.realizedValue(t, entry.ID) != nil
			if settled != tt.settled {
				t.Errorf("settled = %v, want %v", settled, tt.settled)
			}
		})
	}
}

func TestDeposit_AtMostOnce(t *testing.T) {
	f := newFixture(t)
	f.addMarket(t, 1, big.NewInt(600000), big.NewInt(11), big.NewInt(12))
	entry := f.addEntry(t, domain.EntryTypeDeposit, baseTs, 1000, nil)

	params := MatchParams{
		UserAddress:     testUser,
		TotalTokens:     big.NewInt(1000),
		EventTimestamp:  baseTs,
		TransactionHash: "0x01",
		Structured:      structured(1, true, 1000),
	}

	if err := f.settler.MatchDepositAndCalculateValue(context.Background(), params); err != nil {
		t.Fatalf("first settlement: %v", err)
	}
	first := f.realizedValue(t, entry.ID)

	// Duplicate event delivery with a different price in place.
	f.addMarket(t, 1, big.NewInt(900000), big.NewInt(11), big.NewInt(12))
	if err := f.settler.MatchDepositAndCalculateValue(context.Background(), params); err != nil {
		t.Fatalf("second settlement: %v", err)
	}

	if v := f.realizedValue(t, entry.ID); v.Cmp(first) != 0 {
		t.Errorf("realizedValue changed on duplicate delivery: %s -> %s", first, v)
	}
}

func TestDeposit_MostRecentEntryWins(t *testing.T) {
	f := newFixture(t)
	f.addMarket(t, 1, big.NewInt(500000), big.NewInt(11), big.NewInt(12))
	older := f.addEntry(t, domain.EntryTypeDeposit, baseTs, 1000, nil)
	newer := f.addEntry(t, domain.EntryTypeDeposit, baseTs+5_000, 1000, nil)

	err := f.settler.MatchDepositAndCalculateValue(context.Background(), MatchParams{
		UserAddress:     testUser,
		TotalTokens:     big.NewInt(1000),
		EventTimestamp:  baseTs + 10_000,
		TransactionHash: "0x01",
		Structured:      structured(1, true, 1000),
	})
	if err != nil {
		t.Fatalf("MatchDepositAndCalculateValue: %v", err)
	}

	if f.realizedValue(t, newer.ID) == nil {
		t.Error("expected most recent entry to settle")
	}
	if f.realizedValue(t, older.ID) != nil {
		t.Error("older entry must remain unsettled")
	}
}

func TestDeposit_NoMatchIsNoop(t *testing.T) {
	f := newFixture(t)

	err := f.settler.MatchDepositAndCalculateValue(context.Background(), MatchParams{
		UserAddress:     testUser,
		TotalTokens:     big.NewInt(1000),
		EventTimestamp:  baseTs,
		TransactionHash: "0x01",
		Structured:      structured(1, true, 1000),
	})
	if err != nil {
		t.Fatalf("expected silent no-op, got %v", err)
	}
}

func TestDeposit_RetryFindsLateEntry(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	entries := memory.NewReferralEntryStore()
	markets := memory.NewMarketStore()
	chain := stub.NewRPCClient()

	// The entry appears between the first miss and the delayed retry,
	// simulating the frontend write racing event delivery.
	lateInsert := func(ctx context.Context, d time.Duration) error {
		e := &domain.ReferralEntry{
			ID:             domain.EntryID(testUser, baseTs, domain.EntryTypeDeposit),
			ReferralCodeID: testCode,
			UserAddress:    testUser,
			TotalTokens:    big.NewInt(1000),
			Timestamp:      baseTs,
			Type:           domain.EntryTypeDeposit,
		}
		return entries.Insert(ctx, e)
	}

	matcher := NewMatcher(entries, DefaultMatchRetry, lateInsert, logger)
	resolver := NewResolver(markets, chain, conditional.NewDecoder(testContract), logger)
	settler := NewSettler(entries, matcher, resolver, nil, logger)

	index := int64(1)
	markets.Upsert(context.Background(), &domain.Market{
		GenesisIndex:               &index,
		GenesisLastSubmittedPriceA: big.NewInt(500000),
		ClobTokenIDs:               [2]*big.Int{big.NewInt(11), big.NewInt(12)},
	})

	err := settler.MatchDepositAndCalculateValue(context.Background(), MatchParams{
		UserAddress:     testUser,
		TotalTokens:     big.NewInt(1000),
		EventTimestamp:  baseTs,
		TransactionHash: "0x01",
		Structured:      structured(1, true, 1000),
	})
	if err != nil {
		t.Fatalf("MatchDepositAndCalculateValue: %v", err)
	}

	got, err := entries.GetByID(context.Background(), domain.EntryID(testUser, baseTs, domain.EntryTypeDeposit))
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if got.RealizedValue == nil {
		t.Error("expected entry found on retry to settle")
	}
}

func TestDeposit_UnpricedMarketResolvesZero(t *testing.T) {
	f := newFixture(t)
	f.addMarket(t, 1, nil, big.NewInt(11), big.NewInt(12))
	entry := f.addEntry(t, domain.EntryTypeDeposit, baseTs, 1000, nil)

	err := f.settler.MatchDepositAndCalculateValue(context.Background(), MatchParams{
		UserAddress:     testUser,
		TotalTokens:     big.NewInt(1000),
		EventTimestamp:  baseTs,
		TransactionHash: "0x01",
		Structured:      structured(1, true, 1000),
	})
	if err != nil {
		t.Fatalf("MatchDepositAndCalculateValue: %v", err)
	}

	if v := f.realizedValue(t, entry.ID); v == nil || v.Sign() != 0 {
		t.Errorf("realizedValue = %v, want 0", v)
	}
}

func TestDeposit_ReceiptPath(t *testing.T) {
	f := newFixture(t)

	tokenA := big.NewInt(11)
	tokenB := big.NewInt(12)
	f.addMarket(t, 1, big.NewInt(700000), tokenA, tokenB)
	entry := f.addEntry(t, domain.EntryTypeDeposit, baseTs, 500000, nil)

	// Transfer of the B-side token; its price is the complement 300000.
	f.chain.AddReceipt(&ethereum.Receipt{
		TransactionHash: "0xreceipt",
		Status:          "0x1",
		Logs: []ethereum.Log{{
			Address: testContract,
			Topics:  []string{conditional.TransferSingleTopic},
			Data:    "0x" + fmt.Sprintf("%064x", tokenB) + fmt.Sprintf("%064x", big.NewInt(500000)),
		}},
	})

	err := f.settler.MatchDepositAndCalculateValue(context.Background(), MatchParams{
		UserAddress:     testUser,
		TotalTokens:     big.NewInt(500000),
		EventTimestamp:  baseTs,
		TransactionHash: "0xreceipt",
	})
	if err != nil {
		t.Fatalf("MatchDepositAndCalculateValue: %v", err)
	}

	if v := f.realizedValue(t, entry.ID); v == nil || v.Cmp(big.NewInt(150000)) != 0 {
		t.Errorf("realizedValue = %v, want 150000", v)
	}
}

func TestDeposit_ReceiptPath_MissingReceiptResolvesZero(t *testing.T) {
	f := newFixture(t)
	entry := f.addEntry(t, domain.EntryTypeDeposit, baseTs, 1000, nil)

	err := f.settler.MatchDepositAndCalculateValue(context.Background(), MatchParams{
		UserAddress:     testUser,
		TotalTokens:     big.NewInt(1000),
		EventTimestamp:  baseTs,
		TransactionHash: "0xunknown",
	})
	if err != nil {
		t.Fatalf("MatchDepositAndCalculateValue: %v", err)
	}

	if v := f.realizedValue(t, entry.ID); v == nil || v.Sign() != 0 {
		t.Errorf("realizedValue = %v, want 0", v)
	}
}

func TestWithdraw_DecrementMostRecentFirst(t *testing.T) {
	f := newFixture(t)
	// Price 1.0 so the withdrawal's resolved value equals its amount.
	f.addMarket(t, 1, new(big.Int).Set(domain.PriceScale), big.NewInt(11), big.NewInt(12))

	// Settled deposits, most recent first by timestamp: 100, 60, 30.
	d1 := f.addEntry(t, domain.EntryTypeDeposit, baseTs+3000, 1, big.NewInt(100))
	d2 := f.addEntry(t, domain.EntryTypeDeposit, baseTs+2000, 2, big.NewInt(60))
	d3 := f.addEntry(t, domain.EntryTypeDeposit, baseTs+1000, 3, big.NewInt(30))
	f.addEntry(t, domain.EntryTypeWithdraw, baseTs+4000, 150, nil)

	err := f.settler.MatchWithdrawAndDecreaseValue(context.Background(), MatchParams{
		UserAddress:     testUser,
		TotalTokens:     big.NewInt(150),
		EventTimestamp:  baseTs + 4000,
		TransactionHash: "0xwd",
		Structured:      structured(1, true, 150),
	})
	if err != nil {
		t.Fatalf("MatchWithdrawAndDecreaseValue: %v", err)
	}

	for _, tc := range []struct {
		id   string
		want int64
	}{
		{d1.ID, 0},
		{d2.ID, 0},
		{d3.ID, 40},
	} {
		if v := f.realizedValue(t, tc.id); v.Cmp(big.NewInt(tc.want)) != 0 {
			t.Errorf("entry %s realizedValue = %s, want %d", tc.id, v, tc.want)
		}
	}
}

func TestWithdraw_ExcessDroppedSilently(t *testing.T) {
	f := newFixture(t)
	f.addMarket(t, 1, new(big.Int).Set(domain.PriceScale), big.NewInt(11), big.NewInt(12))

	d1 := f.addEntry(t, domain.EntryTypeDeposit, baseTs+3000, 1, big.NewInt(100))
	d2 := f.addEntry(t, domain.EntryTypeDeposit, baseTs+2000, 2, big.NewInt(60))
	d3 := f.addEntry(t, domain.EntryTypeDeposit, baseTs+1000, 3, big.NewInt(30))
	f.addEntry(t, domain.EntryTypeWithdraw, baseTs+4000, 500, nil)

	err := f.settler.MatchWithdrawAndDecreaseValue(context.Background(), MatchParams{
		UserAddress:     testUser,
		TotalTokens:     big.NewInt(500),
		EventTimestamp:  baseTs + 4000,
		TransactionHash: "0xwd",
		Structured:      structured(1, true, 500),
	})
	if err != nil {
		t.Fatalf("MatchWithdrawAndDecreaseValue: %v", err)
	}

	for _, id := range []string{d1.ID, d2.ID, d3.ID} {
		if v := f.realizedValue(t, id); v.Sign() != 0 {
			t.Errorf("entry %s realizedValue = %s, want 0", id, v)
		}
	}
}

func TestWithdraw_LookbackExcludesOldDeposits(t *testing.T) {
	f := newFixture(t)
	f.addMarket(t, 1, new(big.Int).Set(domain.PriceScale), big.NewInt(11), big.NewInt(12))

	eventTs := baseTs + WithdrawLookback.Milliseconds() + 10_000
	old := f.addEntry(t, domain.EntryTypeDeposit, baseTs, 1, big.NewInt(100))
	recent := f.addEntry(t, domain.EntryTypeDeposit, eventTs-1000, 2, big.NewInt(100))
	f.addEntry(t, domain.EntryTypeWithdraw, eventTs, 50, nil)

	err := f.settler.MatchWithdrawAndDecreaseValue(context.Background(), MatchParams{
		UserAddress:     testUser,
		TotalTokens:     big.NewInt(50),
		EventTimestamp:  eventTs,
		TransactionHash: "0xwd",
		Structured:      structured(1, true, 50),
	})
	if err != nil {
		t.Fatalf("MatchWithdrawAndDecreaseValue: %v", err)
	}

	if v := f.realizedValue(t, old.ID); v.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("deposit outside lookback was touched: %s", v)
	}
	if v := f.realizedValue(t, recent.ID); v.Cmp(big.NewInt(50)) != 0 {
		t.Errorf("recent deposit realizedValue = %s, want 50", v)
	}
}

func TestWithdraw_NoWithdrawEntryIsNoop(t *testing.T) {
	f := newFixture(t)
	f.addMarket(t, 1, new(big.Int).Set(domain.PriceScale), big.NewInt(11), big.NewInt(12))
	dep := f.addEntry(t, domain.EntryTypeDeposit, baseTs, 1, big.NewInt(100))

	err := f.settler.MatchWithdrawAndDecreaseValue(context.Background(), MatchParams{
		UserAddress:     testUser,
		TotalTokens:     big.NewInt(50),
		EventTimestamp:  baseTs + 1000,
		TransactionHash: "0xwd",
		Structured:      structured(1, true, 50),
	})
	if err != nil {
		t.Fatalf("expected silent no-op, got %v", err)
	}

	if v := f.realizedValue(t, dep.ID); v.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("deposit was decremented without a withdraw entry: %s", v)
	}
}

func TestWithdraw_NoSettledDepositsIsNoop(t *testing.T) {
	f := newFixture(t)
	f.addMarket(t, 1, new(big.Int).Set(domain.PriceScale), big.NewInt(11), big.NewInt(12))
	unsettled := f.addEntry(t, domain.EntryTypeDeposit, baseTs, 1, nil)
	f.addEntry(t, domain.EntryTypeWithdraw, baseTs+1000, 50, nil)

	err := f.settler.MatchWithdrawAndDecreaseValue(context.Background(), MatchParams{
		UserAddress:     testUser,
		TotalTokens:     big.NewInt(50),
		EventTimestamp:  baseTs + 1000,
		TransactionHash: "0xwd",
		Structured:      structured(1, true, 50),
	})
	if err != nil {
		t.Fatalf("expected silent no-op, got %v", err)
	}

	if f.realizedValue(t, unsettled.ID) != nil {
		t.Error("unsettled deposit must remain unsettled")
	}
}

func TestHistory_RecordsWritten(t *testing.T) {
	f := newFixture(t)
	f.addMarket(t, 1, new(big.Int).Set(domain.PriceScale), big.NewInt(11), big.NewInt(12))

	f.addEntry(t, domain.EntryTypeDeposit, baseTs, 100, nil)
	if err := f.settler.MatchDepositAndCalculateValue(context.Background(), MatchParams{
		UserAddress:     testUser,
		TotalTokens:     big.NewInt(100),
		EventTimestamp:  baseTs,
		TransactionHash: "0xdep",
		Structured:      structured(1, true, 100),
	}); err != nil {
		t.Fatalf("deposit settlement: %v", err)
	}

	f.addEntry(t, domain.EntryTypeWithdraw, baseTs+1000, 40, nil)
	if err := f.settler.MatchWithdrawAndDecreaseValue(context.Background(), MatchParams{
		UserAddress:     testUser,
		TotalTokens:     big.NewInt(40),
		EventTimestamp:  baseTs + 1000,
		TransactionHash: "0xwd",
		Structured:      structured(1, true, 40),
	}); err != nil {
		t.Fatalf("withdraw settlement: %v", err)
	}

	records, err := f.history.GetByReferralCode(context.Background(), testCode)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 history records, got %d", len(records))
	}

	byDirection := make(map[string]*domain.SettlementRecord)
	for _, r := range records {
		byDirection[r.Direction] = r
	}

	settle := byDirection[domain.DirectionSettle]
	if settle == nil || settle.ValueDelta.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("settle record delta = %+v, want 100", settle)
	}
	dec := byDirection[domain.DirectionDecrement]
	if dec == nil || dec.ValueDelta.Cmp(big.NewInt(40)) != 0 {
		t.Errorf("decrement record delta = %+v, want 40", dec)
	}
}

func TestPlanDecrements_SkipsZeroValueDeposits(t *testing.T) {
	deposits := []*domain.ReferralEntry{
		{ID: "a", RealizedValue: big.NewInt(0)},
		{ID: "b", RealizedValue: big.NewInt(25)},
	}

	decs, records := planDecrements(deposits, big.NewInt(10), "0x01")
	if len(decs) != 1 || decs[0].EntryID != "b" {
		t.Fatalf("expected one decrement on entry b, got %+v", decs)
	}
	if decs[0].NewValue.Cmp(big.NewInt(15)) != 0 {
		t.Errorf("new value = %s, want 15", decs[0].NewValue)
	}
	if len(records) != 1 || records[0].ValueDelta.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("record delta = %+v, want 10", records)
	}
}
