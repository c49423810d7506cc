package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// EntryType distinguishes deposit intents from withdraw intents.
type EntryType string

// Entry type constants
const (
	EntryTypeDeposit  EntryType = "deposit"
	EntryTypeWithdraw EntryType = "withdraw"
)

// ReferralCode represents a registered referrer code.
// Created once when a referrer registers; immutable thereafter.
type ReferralCode struct {
	ID           string
	Code         string
	OwnerAddress string // lowercased EVM address
	OwnerName    string
	CreatedAt    int64 // Unix timestamp in milliseconds
}

// ReferralEntry is an off-chain record of intent to deposit or withdraw,
// created by the frontend before on-chain confirmation and later enriched
// with a realized USD value once the matching vault event is observed.
// Corresponds to referral_entries table in PostgreSQL.
type ReferralEntry struct {
	ID              string    // deterministic, see EntryID
	ReferralCodeID  string    // FK to referral_codes
	UserAddress     string    // lowercased EVM address
	TotalTokens     *big.Int  // fixed-point token amount, PriceScale decimals
	RealizedValue   *big.Int  // fixed-point USD value; nil until settled
	Timestamp       int64     // Unix timestamp in milliseconds
	TransactionHash string    // empty until settled
	Type            EntryType // "deposit" | "withdraw"
}

// EntryID derives the deterministic entry identifier used by the
// frontend-facing creation path. The settlement core only reads entries
// by this ID, it never creates them.
func EntryID(userAddress string, timestamp int64, typ EntryType) string {
	return fmt.Sprintf("%s:%d:%s", strings.ToLower(userAddress), timestamp, typ)
}

// Settled reports whether the entry has been matched to an on-chain event.
func (e *ReferralEntry) Settled() bool {
	return e.RealizedValue != nil
}

// SettlementRecord is an append-only audit row written after each
// realized-value mutation. Direction is "settle" for the initial deposit
// settlement and "decrement" for withdraw-driven reductions.
type SettlementRecord struct {
	RecordID        string
	EntryID         string
	ReferralCodeID  string
	UserAddress     string
	Direction       string
	ValueDelta      *big.Int // fixed-point USD amount applied
	TransactionHash string
	Timestamp       int64 // Unix timestamp in milliseconds
}

// Settlement record directions
const (
	DirectionSettle    = "settle"
	DirectionDecrement = "decrement"
)

// SettlementRecordID derives the deterministic record id using SHA256.
// Formula: SHA256(entry_id|direction|tx_hash|value_delta|timestamp_ms)
func SettlementRecordID(entryID, direction, txHash string, valueDelta *big.Int, timestampMs int64) string {
	delta := ""
	if valueDelta != nil {
		delta = valueDelta.String()
	}
	data := fmt.Sprintf("%s|%s|%s|%s|%d", entryID, direction, txHash, delta, timestampMs)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
