package settlement

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"referral-ledger/internal/domain"
	"referral-ledger/internal/observability"
	"referral-ledger/internal/storage"
)

// MatchWindow is how far back from the event timestamp an entry may have
// been created and still be attributed to the event.
const MatchWindow = 2 * time.Minute

// Matcher locates the ledger entry corresponding to an on-chain event.
type Matcher struct {
	entries storage.ReferralEntryStore
	retry   RetryPolicy
	sleep   SleepFunc
	logger  *log.Logger
}

// NewMatcher creates a matcher over the given entry store.
func NewMatcher(entries storage.ReferralEntryStore, retry RetryPolicy, sleep SleepFunc, logger *log.Logger) *Matcher {
	if sleep == nil {
		sleep = Sleep
	}
	return &Matcher{
		entries: entries,
		retry:   retry,
		sleep:   sleep,
		logger:  logger,
	}
}

// Match finds the most recent entry of the given type for the user whose
// totalTokens equals amount and whose timestamp falls within MatchWindow
// before the event. Deposit matches are restricted to unsettled entries.
// A miss after all attempts returns (nil, nil); storage failures are
// returned as errors.
func (m *Matcher) Match(ctx context.Context, typ domain.EntryType, userAddress string, amount *big.Int, eventTimestamp int64) (*domain.ReferralEntry, error) {
	filter := storage.EntryFilter{
		UserAddress:   userAddress,
		Type:          typ,
		MinTimestamp:  eventTimestamp - MatchWindow.Milliseconds(),
		TotalTokens:   amount,
		UnsettledOnly: typ == domain.EntryTypeDeposit,
	}

	for attempt := 1; ; attempt++ {
		entry, err := m.entries.FindMatch(ctx, filter)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("find match: %w", err)
		}

		if attempt >= m.retry.Attempts {
			break
		}

		observability.RecordMatchRetry()
		if err := m.sleep(ctx, m.retry.Delay); err != nil {
			return nil, err
		}
	}

	// No entry to attribute; the event belongs to a non-referred user.
	m.logger.Printf("no %s entry matched user=%s amount=%s eventTs=%d",
		typ, userAddress, amount, eventTimestamp)
	observability.RecordMatchMiss(string(typ))
	return nil, nil
}
