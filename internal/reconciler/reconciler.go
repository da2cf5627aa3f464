package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"TradeWarden/internal/chain"
	"TradeWarden/internal/ledger"
	"TradeWarden/internal/model"
	"TradeWarden/internal/store"
)

// ErrOrphanCloseEvent means a TradeClosed event references an open trade the
// ledger has never seen. Ingest halts at the event rather than guessing an
// association; a full Rebuild is the repair path.
var ErrOrphanCloseEvent = errors.New("orphan close event")

// SymbolFn maps a canonical token address to a display symbol. May return ""
// when the token is unknown.
type SymbolFn func(token string) string

// Result summarizes one ingest pass.
type Result struct {
	Applied   int
	Orphans   int
	Clamped   int
	Watermark int64
}

// Reconciler tails the strategy contract's event log and folds it into the
// ledger. The chain log is authoritative: ingest is ordered by tradeId, a
// checkpoint watermark makes re-ingest idempotent, and Rebuild discards all
// derived state in favor of a full replay.
type Reconciler struct {
	store    store.Store
	ledger   *ledger.Ledger
	source   chain.EventSource
	network  string
	contract string
	trader   string // optional: ignore events from other wallets
	symbol   SymbolFn
}

func New(st store.Store, ld *ledger.Ledger, src chain.EventSource, network, contract, trader string, symbol SymbolFn) *Reconciler {
	if symbol == nil {
		symbol = func(string) string { return "" }
	}
	return &Reconciler{
		store:    st,
		ledger:   ld,
		source:   src,
		network:  network,
		contract: contract,
		trader:   trader,
		symbol:   symbol,
	}
}

func (r *Reconciler) scope() string {
	return r.network + "|" + r.contract
}

// Ingest pulls events above the checkpoint watermark and applies them in
// tradeId order. A close whose referenced open was never seen is an orphan:
// ingest halts there with ErrOrphanCloseEvent, the watermark stays below the
// event, and the gap is repaired by a full Rebuild. The watermark only
// advances past applied events, so a mid-batch failure resumes exactly where
// it stopped.
func (r *Reconciler) Ingest(ctx context.Context) (Result, error) {
	var res Result

	watermark, err := r.store.Checkpoint(r.scope())
	if err != nil {
		return res, model.External("load checkpoint", err)
	}
	res.Watermark = watermark

	events, err := r.source.EventsAfter(ctx, r.contract, watermark)
	if err != nil {
		return res, model.External("fetch chain events", err)
	}
	if len(events) == 0 {
		return res, nil
	}

	for _, ev := range events {
		if r.trader != "" && ev.Trader != r.trader {
			res.Watermark = ev.TradeID
			continue
		}

		t, clamped, err := r.toTrade(ev)
		if err != nil {
			if errors.Is(err, ErrOrphanCloseEvent) {
				res.Orphans++
			}
			return res, r.commit(res, err)
		}
		if clamped {
			res.Clamped++
		}

		if err := r.ledger.ApplyTrade(t); err != nil {
			return res, r.commit(res, fmt.Errorf("apply chain trade %d: %w", t.ID, err))
		}
		res.Applied++
		res.Watermark = ev.TradeID
	}

	if err := r.commit(res, nil); err != nil {
		return res, err
	}
	log.Printf("[INFO] reconciler ingested %d events (%d clamped), watermark=%d",
		res.Applied, res.Clamped, res.Watermark)
	return res, nil
}

// commit persists the watermark reached so far, even on a failed batch.
func (r *Reconciler) commit(res Result, cause error) error {
	if err := r.store.SetCheckpoint(r.scope(), res.Watermark); err != nil {
		if cause != nil {
			return fmt.Errorf("%w (checkpoint save also failed: %v)", cause, err)
		}
		return model.External("save checkpoint", err)
	}
	return cause
}

// toTrade resolves a chain event against the live book. Zero-amount closes
// mean "close everything remaining"; oversize closes are clamped to the open
// amount with a warning, since the chain has already settled them.
func (r *Reconciler) toTrade(ev chain.Event) (t model.Trade, clamped bool, err error) {
	t = model.Trade{
		ID:         ev.TradeID,
		RefID:      ev.RefID,
		Trader:     ev.Trader,
		Token:      ev.Token,
		Symbol:     r.symbol(ev.Token),
		Strategy:   r.contract,
		Price:      ev.Price,
		Amount:     ev.Amount,
		Timestamp:  ev.BlockTime,
		Source:     model.SourceChain,
		Reconciled: true,
	}

	switch ev.Kind {
	case chain.EventTradeOpen:
		t.Action = model.ActionOpen
		return t, false, nil

	case chain.EventTradeClosed:
		t.Action = model.ActionClose
		if _, found, err := r.store.GetTrade(ev.RefID); err != nil {
			return t, false, model.External("lookup referenced trade", err)
		} else if !found {
			return t, false, fmt.Errorf("%w: event %s references unknown trade %d", ErrOrphanCloseEvent, ev.UID, ev.RefID)
		}
		pos, ok := r.ledger.Position(model.PositionKey(ev.Token, r.contract))
		if !ok {
			return t, false, fmt.Errorf("%w: event %s has no open position for %s", ErrOrphanCloseEvent, ev.UID, ev.Token)
		}
		if t.Amount.IsZero() {
			t.Amount = pos.Amount
		} else if t.Amount.GreaterThan(pos.Amount) {
			log.Printf("[WARN] close event %s amount %s exceeds position %s, clamping",
				ev.UID, t.Amount, pos.Amount)
			t.Amount = pos.Amount
			clamped = true
		}
		return t, clamped, nil

	default:
		return t, false, fmt.Errorf("unhandled event kind %q", ev.Kind)
	}
}

// Rebuild fetches the full event log and replays it from scratch, replacing
// every derived position and trade row. Local unreconciled trades are
// discarded; the chain log wins. The live book is swapped only after the
// whole replay succeeds.
func (r *Reconciler) Rebuild(ctx context.Context) (Result, error) {
	var res Result

	events, err := r.source.AllEvents(ctx, r.contract)
	if err != nil {
		return res, model.External("fetch full event log", err)
	}

	// Resolve close amounts against a scratch book so zero and oversize
	// amounts are concrete before the ledger replay sees them.
	open := make(map[string]decimal.Decimal) // position key -> open amount
	seen := make(map[int64]bool)             // open tradeIds observed
	trades := make([]model.Trade, 0, len(events))

	for _, ev := range events {
		if r.trader != "" && ev.Trader != r.trader {
			res.Watermark = ev.TradeID
			continue
		}
		key := model.PositionKey(ev.Token, r.contract)
		t := model.Trade{
			ID:         ev.TradeID,
			RefID:      ev.RefID,
			Trader:     ev.Trader,
			Token:      ev.Token,
			Symbol:     r.symbol(ev.Token),
			Strategy:   r.contract,
			Price:      ev.Price,
			Amount:     ev.Amount,
			Timestamp:  ev.BlockTime,
			Source:     model.SourceChain,
			Reconciled: true,
		}

		switch ev.Kind {
		case chain.EventTradeOpen:
			t.Action = model.ActionOpen
			open[key] = open[key].Add(t.Amount)
			seen[t.ID] = true

		case chain.EventTradeClosed:
			t.Action = model.ActionClose
			have := open[key]
			if !seen[ev.RefID] || have.IsZero() {
				log.Printf("[WARN] rebuild: orphan close event %s (ref %d)", ev.UID, ev.RefID)
				res.Orphans++
				res.Watermark = ev.TradeID
				continue
			}
			if t.Amount.IsZero() {
				t.Amount = have
			} else if t.Amount.GreaterThan(have) {
				log.Printf("[WARN] rebuild: clamping close event %s from %s to %s", ev.UID, t.Amount, have)
				t.Amount = have
				res.Clamped++
			}
			open[key] = have.Sub(t.Amount)

		default:
			log.Printf("[WARN] rebuild: skipping event kind %q", ev.Kind)
			continue
		}

		trades = append(trades, t)
		res.Watermark = ev.TradeID
	}

	if err := r.ledger.Rebuild(trades); err != nil {
		if errors.Is(err, ledger.ErrBusy) {
			return res, err
		}
		return res, fmt.Errorf("replay ledger: %w", err)
	}
	res.Applied = len(trades)

	if err := r.store.SetCheckpoint(r.scope(), res.Watermark); err != nil {
		return res, model.External("save checkpoint", err)
	}
	log.Printf("[INFO] reconciler rebuild complete: %d trades replayed, watermark=%d",
		res.Applied, res.Watermark)
	return res, nil
}
