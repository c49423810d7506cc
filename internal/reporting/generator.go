// Package reporting produces referral attribution reports from stored data.
package reporting

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"referral-ledger/internal/domain"
	"referral-ledger/internal/storage"
)

// Generator produces reports from stored data.
type Generator struct {
	codeStore  storage.ReferralCodeStore
	entryStore storage.ReferralEntryStore
	// historyStore is optional; nil skips audit-trail aggregates.
	historyStore storage.SettlementHistoryStore
	now          func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator. historyStore may be nil.
func NewGenerator(
	codeStore storage.ReferralCodeStore,
	entryStore storage.ReferralEntryStore,
	historyStore storage.SettlementHistoryStore,
) *Generator {
	return &Generator{
		codeStore:    codeStore,
		entryStore:   entryStore,
		historyStore: historyStore,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate produces a complete ledger report.
func (g *Generator) Generate(ctx context.Context) (*Report, error) {
	codes, err := g.codeStore.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load referral codes: %w", err)
	}

	var (
		rows       []CodeSummaryRow
		entryCount int
	)
	for _, code := range codes {
		row, n, err := g.summarizeCode(ctx, code)
		if err != nil {
			return nil, err
		}
		rows = append(rows, *row)
		entryCount += n
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Code < rows[j].Code
	})

	return &Report{
		GeneratedAt: g.now(),
		CodeCount:   len(codes),
		EntryCount:  entryCount,
		Summaries:   rows,
	}, nil
}

// summarizeCode aggregates the entries and history of one referral code.
func (g *Generator) summarizeCode(ctx context.Context, code *domain.ReferralCode) (*CodeSummaryRow, int, error) {
	entries, err := g.entryStore.GetByReferralCode(ctx, code.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("load entries for code %s: %w", code.Code, err)
	}

	row := CodeSummaryRow{
		Code:               code.Code,
		OwnerAddress:       code.OwnerAddress,
		OwnerName:          code.OwnerName,
		TotalRealizedValue: new(big.Int),
		GrossSettledValue:  new(big.Int),
		DecrementedValue:   new(big.Int),
	}

	for _, e := range entries {
		switch e.Type {
		case domain.EntryTypeDeposit:
			row.DepositCount++
			if e.Settled() {
				row.SettledCount++
				row.TotalRealizedValue.Add(row.TotalRealizedValue, e.RealizedValue)
			}
		case domain.EntryTypeWithdraw:
			row.WithdrawCount++
		}
		if e.Timestamp > row.LastActivity {
			row.LastActivity = e.Timestamp
		}
	}

	if g.historyStore != nil {
		records, err := g.historyStore.GetByReferralCode(ctx, code.ID)
		if err != nil {
			return nil, 0, fmt.Errorf("load history for code %s: %w", code.Code, err)
		}
		for _, r := range records {
			switch r.Direction {
			case domain.DirectionSettle:
				row.SettleRecords++
				row.GrossSettledValue.Add(row.GrossSettledValue, r.ValueDelta)
			case domain.DirectionDecrement:
				row.DecrementRecords++
				row.DecrementedValue.Add(row.DecrementedValue, r.ValueDelta)
			}
		}
	}

	return &row, len(entries), nil
}
