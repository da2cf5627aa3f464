package executor

import (
	"context"
	"fmt"
	"time"

	"TradeWarden/internal/market"
	"TradeWarden/internal/model"
)

// Executor turns a buy/sell instruction into a fill. The ledger records only
// what the executor reports, never the instruction itself.
type Executor interface {
	Execute(ctx context.Context, in model.Instruction) (model.Fill, error)
}

// PaperExecutor fills instantly at the instruction's limit price, or at the
// cached reference price for market orders. No slippage model.
type PaperExecutor struct {
	Prices *market.PriceCache
}

func NewPaperExecutor(prices *market.PriceCache) *PaperExecutor {
	return &PaperExecutor{Prices: prices}
}

func (e *PaperExecutor) Execute(_ context.Context, in model.Instruction) (model.Fill, error) {
	price := in.Price
	if price.IsZero() {
		ref, err := e.Prices.Price(in.Token)
		if err != nil {
			return model.Fill{}, fmt.Errorf("market order for %s: %w", in.Symbol, err)
		}
		price = ref
	}
	return model.Fill{
		Price:     price,
		Amount:    in.Amount,
		Timestamp: time.Now().UTC(),
	}, nil
}
