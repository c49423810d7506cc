// Package settlement reconciles off-chain referral entries with confirmed
// vault events and maintains their realized USD values.
package settlement

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"referral-ledger/internal/domain"
	"referral-ledger/internal/observability"
	"referral-ledger/internal/storage"
)

// WithdrawLookback bounds how far back settled deposits are eligible for
// withdraw-driven decrements.
const WithdrawLookback = 24 * time.Hour

// MatchParams carries the fields of a confirmed vault event relevant to
// settlement.
type MatchParams struct {
	UserAddress     string
	TotalTokens     *big.Int
	EventTimestamp  int64 // epoch millis
	TransactionHash string
	// Structured is set when the event itself identifies the market;
	// nil means the value must be resolved from the receipt logs.
	Structured *StructuredParams
}

// Settler applies resolved values to the ledger.
type Settler struct {
	entries  storage.ReferralEntryStore
	matcher  *Matcher
	resolver *Resolver
	// history is optional; nil disables the audit trail.
	history storage.SettlementHistoryStore
	logger  *log.Logger
	now     func() int64
}

// NewSettler creates a settler. history may be nil.
func NewSettler(entries storage.ReferralEntryStore, matcher *Matcher, resolver *Resolver, history storage.SettlementHistoryStore, logger *log.Logger) *Settler {
	return &Settler{
		entries:  entries,
		matcher:  matcher,
		resolver: resolver,
		history:  history,
		logger:   logger,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// MatchDepositAndCalculateValue attributes a confirmed deposit to its
// pending ledger entry and writes the realized value. Events without a
// matching entry are ignored. The matcher only returns unsettled entries,
// so duplicate event delivery settles an entry at most once.
func (s *Settler) MatchDepositAndCalculateValue(ctx context.Context, p MatchParams) error {
	start := time.Now()

	entry, err := s.matcher.Match(ctx, domain.EntryTypeDeposit, p.UserAddress, p.TotalTokens, p.EventTimestamp)
	if err != nil {
		observability.RecordSettlementError("deposit_match")
		return err
	}
	if entry == nil {
		return nil
	}

	value, err := s.resolver.Resolve(ctx, p.TransactionHash, p.Structured)
	if err != nil {
		observability.RecordSettlementError("deposit_resolve")
		return err
	}

	if err := s.entries.SetRealizedValue(ctx, entry.ID, value, p.TransactionHash); err != nil {
		observability.RecordSettlementError("deposit_write")
		return fmt.Errorf("set realized value %s: %w", entry.ID, err)
	}

	s.logger.Printf("deposit settled entry=%s value=%s tx=%s", entry.ID, value, p.TransactionHash)
	observability.RecordDepositSettled()
	observability.RecordSettlementLatency(time.Since(start).Seconds())

	s.writeHistory(ctx, []*domain.SettlementRecord{{
		EntryID:         entry.ID,
		ReferralCodeID:  entry.ReferralCodeID,
		UserAddress:     entry.UserAddress,
		Direction:       domain.DirectionSettle,
		ValueDelta:      value,
		TransactionHash: p.TransactionHash,
	}})
	return nil
}

// MatchWithdrawAndDecreaseValue attributes a confirmed withdrawal to its
// pending ledger entry, then consumes the withdrawal's resolved value from
// the user's settled deposits of the same referral code, most recent
// first, within the trailing lookback window. Each deposit is clamped at
// zero; value exceeding the available total is dropped. All decrements of
// one withdrawal are applied atomically.
func (s *Settler) MatchWithdrawAndDecreaseValue(ctx context.Context, p MatchParams) error {
	start := time.Now()

	entry, err := s.matcher.Match(ctx, domain.EntryTypeWithdraw, p.UserAddress, p.TotalTokens, p.EventTimestamp)
	if err != nil {
		observability.RecordSettlementError("withdraw_match")
		return err
	}
	if entry == nil {
		return nil
	}

	minTimestamp := p.EventTimestamp - WithdrawLookback.Milliseconds()
	deposits, err := s.entries.GetSettledDeposits(ctx, entry.ReferralCodeID, minTimestamp)
	if err != nil {
		observability.RecordSettlementError("withdraw_query")
		return fmt.Errorf("get settled deposits: %w", err)
	}
	if len(deposits) == 0 {
		s.logger.Printf("withdraw entry=%s has no settled deposits to decrement", entry.ID)
		return nil
	}

	value, err := s.resolver.Resolve(ctx, p.TransactionHash, p.Structured)
	if err != nil {
		observability.RecordSettlementError("withdraw_resolve")
		return err
	}

	decs, records := planDecrements(deposits, value, p.TransactionHash)
	if len(decs) == 0 {
		return nil
	}

	if err := s.entries.DecrementRealizedValues(ctx, decs); err != nil {
		observability.RecordSettlementError("withdraw_write")
		return fmt.Errorf("decrement realized values: %w", err)
	}

	s.logger.Printf("withdraw settled entry=%s value=%s deposits=%d tx=%s",
		entry.ID, value, len(decs), p.TransactionHash)
	observability.RecordWithdrawalSettled()
	observability.RecordSettlementLatency(time.Since(start).Seconds())

	s.writeHistory(ctx, records)
	return nil
}

// planDecrements walks deposits most-recent-first, consuming value until
// it is exhausted. Untouched entries produce no decrement.
func planDecrements(deposits []*domain.ReferralEntry, value *big.Int, txHash string) ([]storage.ValueDecrement, []*domain.SettlementRecord) {
	var (
		decs      []storage.ValueDecrement
		records   []*domain.SettlementRecord
		remaining = new(big.Int).Set(value)
	)

	for _, dep := range deposits {
		if remaining.Sign() == 0 {
			break
		}

		current := dep.RealizedValue
		if current == nil || current.Sign() == 0 {
			continue
		}

		var applied, newValue *big.Int
		if current.Cmp(remaining) <= 0 {
			applied = new(big.Int).Set(current)
			newValue = new(big.Int)
		} else {
			applied = new(big.Int).Set(remaining)
			newValue = new(big.Int).Sub(current, remaining)
		}
		remaining.Sub(remaining, applied)

		decs = append(decs, storage.ValueDecrement{EntryID: dep.ID, NewValue: newValue})
		records = append(records, &domain.SettlementRecord{
			EntryID:         dep.ID,
			ReferralCodeID:  dep.ReferralCodeID,
			UserAddress:     dep.UserAddress,
			Direction:       domain.DirectionDecrement,
			ValueDelta:      applied,
			TransactionHash: txHash,
		})
	}

	return decs, records
}

// writeHistory appends audit records, best effort. History failures never
// fail a settlement that already reached the ledger.
func (s *Settler) writeHistory(ctx context.Context, records []*domain.SettlementRecord) {
	if s.history == nil || len(records) == 0 {
		return
	}

	ts := s.now()
	for _, r := range records {
		r.Timestamp = ts
		r.RecordID = domain.SettlementRecordID(r.EntryID, r.Direction, r.TransactionHash, r.ValueDelta, ts)
	}

	if err := s.history.InsertBulk(ctx, records); err != nil {
		s.logger.Printf("write settlement history: %v", err)
		observability.RecordSettlementError("history_write")
		return
	}
	observability.RecordHistoryWritten(len(records))
}
