// Package conditional decodes ERC-1155 transfer logs emitted by the
// conditional token contract.
package conditional

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"referral-ledger/internal/domain"
	"referral-ledger/internal/ethereum"
)

// ERC-1155 event topic hashes.
const (
	// TransferSingleTopic is keccak256("TransferSingle(address,address,address,uint256,uint256)").
	TransferSingleTopic = "0xc3d58168c5ae7397731d063d5bbf3d657854427343f4c083240f7aacaa2d0f62"
	// TransferBatchTopic is keccak256("TransferBatch(address,address,address,uint256[],uint256[])").
	TransferBatchTopic = "0x4a39dc06d4c0dbc64b70af90fd698a233a518aa5d07e595d983b8c0526c8f7fb"
)

const wordSize = 32

// Decoder extracts token transfers from transaction receipt logs.
type Decoder struct {
	contract string
}

// NewDecoder creates a decoder scoped to one conditional token contract.
func NewDecoder(contractAddress string) *Decoder {
	return &Decoder{contract: strings.ToLower(contractAddress)}
}

// DecodeTransfers returns the token transfers carried by logs from the
// decoder's contract. Logs from other contracts or with other event
// topics are skipped. A batch log whose ids and values arrays differ in
// length is a hard error.
func (d *Decoder) DecodeTransfers(logs []ethereum.Log) ([]*domain.TokenTransfer, error) {
	var transfers []*domain.TokenTransfer

	for i, lg := range logs {
		if strings.ToLower(lg.Address) != d.contract {
			continue
		}
		if len(lg.Topics) == 0 {
			continue
		}

		switch strings.ToLower(lg.Topics[0]) {
		case TransferSingleTopic:
			tr, err := decodeSingle(lg.Data)
			if err != nil {
				return nil, fmt.Errorf("decode TransferSingle log %d: %w", i, err)
			}
			transfers = append(transfers, tr)

		case TransferBatchTopic:
			batch, err := decodeBatch(lg.Data)
			if err != nil {
				return nil, fmt.Errorf("decode TransferBatch log %d: %w", i, err)
			}
			transfers = append(transfers, batch...)
		}
	}

	return transfers, nil
}

// decodeSingle parses TransferSingle data: two static words, id then value.
func decodeSingle(data string) (*domain.TokenTransfer, error) {
	words, err := dataWords(data)
	if err != nil {
		return nil, err
	}
	if len(words) < 2 {
		return nil, fmt.Errorf("expected 2 data words, got %d", len(words))
	}

	return &domain.TokenTransfer{
		TokenID: wordToBig(words[0]),
		Amount:  wordToBig(words[1]),
	}, nil
}

// decodeBatch parses TransferBatch data: two dynamic uint256 arrays
// referenced by head offsets.
func decodeBatch(data string) ([]*domain.TokenTransfer, error) {
	words, err := dataWords(data)
	if err != nil {
		return nil, err
	}
	if len(words) < 2 {
		return nil, fmt.Errorf("expected head with 2 offsets, got %d words", len(words))
	}

	ids, err := readArray(words, wordToBig(words[0]))
	if err != nil {
		return nil, fmt.Errorf("ids array: %w", err)
	}
	values, err := readArray(words, wordToBig(words[1]))
	if err != nil {
		return nil, fmt.Errorf("values array: %w", err)
	}

	if len(ids) != len(values) {
		return nil, fmt.Errorf("ids/values length mismatch: %d vs %d", len(ids), len(values))
	}

	transfers := make([]*domain.TokenTransfer, 0, len(ids))
	for i := range ids {
		transfers = append(transfers, &domain.TokenTransfer{
			TokenID: ids[i],
			Amount:  values[i],
		})
	}
	return transfers, nil
}

// readArray reads a dynamic uint256 array given its byte offset into the data.
func readArray(words [][]byte, offset *big.Int) ([]*big.Int, error) {
	if !offset.IsInt64() || offset.Int64()%wordSize != 0 {
		return nil, fmt.Errorf("invalid offset %s", offset)
	}
	start := offset.Int64() / wordSize
	if start < 0 || start >= int64(len(words)) {
		return nil, fmt.Errorf("offset %s out of range", offset)
	}

	length := wordToBig(words[start])
	if !length.IsInt64() {
		return nil, fmt.Errorf("invalid length %s", length)
	}
	n := length.Int64()
	if start+1+n > int64(len(words)) {
		return nil, fmt.Errorf("array of length %d exceeds data", n)
	}

	out := make([]*big.Int, 0, n)
	for i := int64(0); i < n; i++ {
		out = append(out, wordToBig(words[start+1+i]))
	}
	return out, nil
}

// dataWords decodes hex log data into 32-byte words.
func dataWords(data string) ([][]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(data, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	if len(raw)%wordSize != 0 {
		return nil, fmt.Errorf("data length %d not word-aligned", len(raw))
	}

	words := make([][]byte, 0, len(raw)/wordSize)
	for i := 0; i < len(raw); i += wordSize {
		words = append(words, raw[i:i+wordSize])
	}
	return words, nil
}

func wordToBig(w []byte) *big.Int {
	return new(big.Int).SetBytes(w)
}
