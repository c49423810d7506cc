package settlement

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"

	"referral-ledger/internal/conditional"
	"referral-ledger/internal/domain"
	"referral-ledger/internal/ethereum"
	"referral-ledger/internal/observability"
	"referral-ledger/internal/storage"
)

// StructuredParams carries the market reference decoded from a vault event
// that identifies its market directly. When present, value resolution does
// not need the transaction receipt.
type StructuredParams struct {
	MarketIndex int64
	// IsA reports whether the deposit bought the "A"/YES side.
	IsA    bool
	Amount *big.Int
}

// Resolver computes the fixed-point USD value realized by a transaction.
type Resolver struct {
	markets storage.MarketStore
	chain   ethereum.RPCClient
	decoder *conditional.Decoder
	logger  *log.Logger
}

// NewResolver creates a resolver backed by the market table and an
// Ethereum RPC client.
func NewResolver(markets storage.MarketStore, chain ethereum.RPCClient, decoder *conditional.Decoder, logger *log.Logger) *Resolver {
	return &Resolver{
		markets: markets,
		chain:   chain,
		decoder: decoder,
		logger:  logger,
	}
}

// Resolve returns the realized value of the transaction. With structured
// params it prices the single referenced market; otherwise it decodes the
// receipt's conditional-token transfers and sums their values. Missing
// receipts, unknown markets, and unpriced markets all resolve to zero.
func (r *Resolver) Resolve(ctx context.Context, txHash string, params *StructuredParams) (*big.Int, error) {
	if params != nil {
		observability.RecordValueResolution("structured")
		return r.resolveStructured(ctx, params)
	}
	observability.RecordValueResolution("receipt")
	return r.resolveFromReceipt(ctx, txHash)
}

func (r *Resolver) resolveStructured(ctx context.Context, params *StructuredParams) (*big.Int, error) {
	market, err := r.markets.GetByGenesisIndex(ctx, params.MarketIndex)
	if errors.Is(err, storage.ErrNotFound) {
		r.logger.Printf("market index=%d not found, resolving to zero", params.MarketIndex)
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get market %d: %w", params.MarketIndex, err)
	}

	if !market.Priced() {
		r.logger.Printf("market index=%d has no price, resolving to zero", params.MarketIndex)
		return new(big.Int), nil
	}

	price := market.GenesisLastSubmittedPriceA
	if !params.IsA {
		price = domain.ComplementPrice(price)
	}
	return domain.ScaleValue(params.Amount, price), nil
}

func (r *Resolver) resolveFromReceipt(ctx context.Context, txHash string) (*big.Int, error) {
	receipt, err := r.chain.GetTransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("get receipt %s: %w", txHash, err)
	}
	if receipt == nil {
		r.logger.Printf("no receipt for tx=%s, resolving to zero", txHash)
		return new(big.Int), nil
	}

	transfers, err := r.decoder.DecodeTransfers(receipt.Logs)
	if err != nil {
		return nil, fmt.Errorf("decode transfers %s: %w", txHash, err)
	}

	index, err := r.tokenIndex(ctx)
	if err != nil {
		return nil, err
	}

	total := new(big.Int)
	for _, tr := range transfers {
		side, ok := index[tr.TokenID.String()]
		if !ok {
			r.logger.Printf("tx=%s transfer of unknown token=%s skipped", txHash, tr.TokenID)
			observability.RecordUnmatchedTransfer()
			continue
		}

		price := side.market.GenesisLastSubmittedPriceA
		if !side.isA {
			price = domain.ComplementPrice(price)
		}
		total.Add(total, domain.ScaleValue(tr.Amount, price))
	}
	return total, nil
}

// marketSide binds a conditional-token id to its market and outcome side.
type marketSide struct {
	market *domain.Market
	isA    bool
}

// tokenIndex maps token id to market side over all priced markets. When
// two markets claim the same token id, the one with the lower genesis
// index wins; GetPriced returns markets in that order.
func (r *Resolver) tokenIndex(ctx context.Context) (map[string]marketSide, error) {
	markets, err := r.markets.GetPriced(ctx)
	if err != nil {
		return nil, fmt.Errorf("get priced markets: %w", err)
	}

	index := make(map[string]marketSide)
	for _, m := range markets {
		for i, tokenID := range m.ClobTokenIDs {
			if tokenID == nil {
				continue
			}
			key := tokenID.String()
			if _, exists := index[key]; exists {
				continue
			}
			index[key] = marketSide{market: m, isA: i == 0}
		}
	}
	return index, nil
}
