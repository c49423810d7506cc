// Package stub provides an in-memory RPCClient for tests and dry runs.
package stub

import (
	"context"

	"referral-ledger/internal/ethereum"
)

// RPCClient serves receipts from a fixed map.
type RPCClient struct {
	// Receipts maps transaction hash to receipt. Missing hashes behave
	// like unknown transactions.
	Receipts map[string]*ethereum.Receipt
}

// NewRPCClient creates an empty stub client.
func NewRPCClient() *RPCClient {
	return &RPCClient{Receipts: make(map[string]*ethereum.Receipt)}
}

var _ ethereum.RPCClient = (*RPCClient)(nil)

// AddReceipt registers a receipt under its transaction hash.
func (c *RPCClient) AddReceipt(r *ethereum.Receipt) {
	c.Receipts[r.TransactionHash] = r
}

// GetTransactionReceipt returns the registered receipt, or (nil, nil)
// when the hash is unknown.
func (c *RPCClient) GetTransactionReceipt(_ context.Context, txHash string) (*ethereum.Receipt, error) {
	return c.Receipts[txHash], nil
}
