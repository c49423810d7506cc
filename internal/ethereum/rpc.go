package ethereum

import (
	"context"
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// RPCClient defines the Ethereum JSON-RPC HTTP interface consumed by the
// settlement core.
type RPCClient interface {
	// GetTransactionReceipt retrieves a receipt by transaction hash.
	// Returns (nil, nil) when the transaction is unknown or pending.
	GetTransactionReceipt(ctx context.Context, txHash string) (*Receipt, error)
}

// Log is a single event log from a transaction receipt.
type Log struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
	TxHash  string   `json:"transactionHash"`
}

// Receipt is a transaction receipt, reduced to the fields the settlement
// core reads.
type Receipt struct {
	TransactionHash string `json:"transactionHash"`
	BlockNumber     string `json:"blockNumber"`
	Status          string `json:"status"`
	Logs            []Log  `json:"logs"`
}

// EventTopic computes the topic0 hash for an event signature, e.g.
// "Transfer(address,address,uint256)".
func EventTopic(signature string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
