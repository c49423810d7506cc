// Package vault decodes the vault contract's deposit and withdrawal events.
package vault

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"referral-ledger/internal/domain"
	"referral-ledger/internal/ethereum"
)

// Event signatures emitted by the vault contract. Single-market events
// carry the market reference inline; batch events require decoding the
// transaction receipt to price the moved tokens.
const (
	DepositedSig      = "Deposited(address,uint256,uint256,bool,uint256)"
	WithdrawnSig      = "Withdrawn(address,uint256,uint256,bool,uint256)"
	DepositedBatchSig = "DepositedBatch(address,uint256)"
	WithdrawnBatchSig = "WithdrawnBatch(address,uint256)"
)

var (
	depositedTopic      = ethereum.EventTopic(DepositedSig)
	withdrawnTopic      = ethereum.EventTopic(WithdrawnSig)
	depositedBatchTopic = ethereum.EventTopic(DepositedBatchSig)
	withdrawnBatchTopic = ethereum.EventTopic(WithdrawnBatchSig)
)

// Topics returns the topic0 hashes of all vault events, for log
// subscription filters.
func Topics() []string {
	return []string{depositedTopic, withdrawnTopic, depositedBatchTopic, withdrawnBatchTopic}
}

// MarketRef is the inline market reference of a single-market event.
type MarketRef struct {
	Index  int64
	IsA    bool
	Amount *big.Int
}

// Event is a decoded vault deposit or withdrawal.
type Event struct {
	Type            domain.EntryType
	UserAddress     string // lowercased
	TotalTokens     *big.Int
	TransactionHash string
	// Market is nil for batch events.
	Market *MarketRef
}

// ParseLog decodes a vault log. Logs with an unrecognized topic return
// (nil, nil).
func ParseLog(lg ethereum.Log) (*Event, error) {
	if len(lg.Topics) < 2 {
		return nil, nil
	}

	var (
		typ        domain.EntryType
		structured bool
	)
	switch strings.ToLower(lg.Topics[0]) {
	case depositedTopic:
		typ, structured = domain.EntryTypeDeposit, true
	case withdrawnTopic:
		typ, structured = domain.EntryTypeWithdraw, true
	case depositedBatchTopic:
		typ = domain.EntryTypeDeposit
	case withdrawnBatchTopic:
		typ = domain.EntryTypeWithdraw
	default:
		return nil, nil
	}

	user, err := addressFromTopic(lg.Topics[1])
	if err != nil {
		return nil, fmt.Errorf("parse user topic: %w", err)
	}

	words, err := dataWords(lg.Data)
	if err != nil {
		return nil, err
	}

	e := &Event{
		Type:            typ,
		UserAddress:     user,
		TransactionHash: lg.TxHash,
	}

	if structured {
		if len(words) < 4 {
			return nil, fmt.Errorf("expected 4 data words, got %d", len(words))
		}
		e.TotalTokens = new(big.Int).SetBytes(words[0])

		index := new(big.Int).SetBytes(words[1])
		if !index.IsInt64() {
			return nil, fmt.Errorf("market index %s out of range", index)
		}
		e.Market = &MarketRef{
			Index:  index.Int64(),
			IsA:    new(big.Int).SetBytes(words[2]).Sign() != 0,
			Amount: new(big.Int).SetBytes(words[3]),
		}
		return e, nil
	}

	if len(words) < 1 {
		return nil, fmt.Errorf("expected 1 data word, got %d", len(words))
	}
	e.TotalTokens = new(big.Int).SetBytes(words[0])
	return e, nil
}

// addressFromTopic extracts the address packed into an indexed topic.
func addressFromTopic(topic string) (string, error) {
	raw := strings.TrimPrefix(strings.ToLower(topic), "0x")
	if len(raw) != 64 {
		return "", fmt.Errorf("topic length %d, want 64", len(raw))
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("invalid topic hex: %w", err)
	}
	return "0x" + raw[24:], nil
}

// dataWords decodes hex log data into 32-byte words.
func dataWords(data string) ([][]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(data, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	if len(raw)%32 != 0 {
		return nil, fmt.Errorf("data length %d not word-aligned", len(raw))
	}

	words := make([][]byte, 0, len(raw)/32)
	for i := 0; i < len(raw); i += 32 {
		words = append(words, raw[i:i+32])
	}
	return words, nil
}
