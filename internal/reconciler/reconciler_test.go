package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"TradeWarden/internal/chain"
	"TradeWarden/internal/ledger"
	"TradeWarden/internal/model"
	"TradeWarden/internal/store"
)

const (
	testToken    = "41a614f803b6fd780986a42c78ec9c7f77e6ded13c"
	testContract = "41bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	testTrader   = "41cccccccccccccccccccccccccccccccccccccccc"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func openEvent(tradeID int64, price, amount string) chain.Event {
	return chain.Event{
		UID:       "tx",
		Kind:      chain.EventTradeOpen,
		TradeID:   tradeID,
		Trader:    testTrader,
		Token:     testToken,
		Price:     dec(price),
		Amount:    dec(amount),
		BlockTime: time.Unix(1700000000+tradeID, 0).UTC(),
	}
}

func closeEvent(tradeID, refID int64, price, amount string) chain.Event {
	ev := openEvent(tradeID, price, amount)
	ev.Kind = chain.EventTradeClosed
	ev.RefID = refID
	return ev
}

func newReconciler(t *testing.T, events []chain.Event) (*Reconciler, *ledger.Ledger, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	ld := ledger.New(st)
	if err := ld.Load(); err != nil {
		t.Fatal(err)
	}
	src := &chain.MockSource{Events: events}
	r := New(st, ld, src, "tron", testContract, "", nil)
	return r, ld, st
}

func TestIngest_AppliesOrderedEvents(t *testing.T) {
	r, ld, st := newReconciler(t, []chain.Event{
		openEvent(1, "100", "10"),
		openEvent(2, "200", "10"),
		closeEvent(3, 1, "170", "10"),
	})

	res, err := r.Ingest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied != 3 {
		t.Errorf("expected 3 applied, got %d", res.Applied)
	}
	if res.Watermark != 3 {
		t.Errorf("expected watermark 3, got %d", res.Watermark)
	}

	pos, ok := ld.Position(model.PositionKey(testToken, testContract))
	if !ok {
		t.Fatal("expected chain position")
	}
	if !pos.Amount.Equal(dec("10")) || !pos.AvgEntryPrice.Equal(dec("150")) {
		t.Errorf("got amount=%s avg=%s", pos.Amount, pos.AvgEntryPrice)
	}
	if !pos.RealizedPnL.Equal(dec("200")) {
		t.Errorf("expected realized 200, got %s", pos.RealizedPnL)
	}

	if cp, _ := st.Checkpoint("tron|" + testContract); cp != 3 {
		t.Errorf("expected persisted checkpoint 3, got %d", cp)
	}
}

func TestIngest_Rerunning_IsNoOp(t *testing.T) {
	r, ld, _ := newReconciler(t, []chain.Event{openEvent(1, "100", "10")})

	if _, err := r.Ingest(context.Background()); err != nil {
		t.Fatal(err)
	}
	res, err := r.Ingest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied != 0 {
		t.Errorf("second ingest must apply nothing, got %d", res.Applied)
	}
	pos, _ := ld.Position(model.PositionKey(testToken, testContract))
	if !pos.Amount.Equal(dec("10")) {
		t.Errorf("re-ingest mutated the book: %s", pos.Amount)
	}
}

func TestIngest_OrphanCloseHaltsIngest(t *testing.T) {
	r, ld, st := newReconciler(t, []chain.Event{
		openEvent(1, "100", "5"),
		closeEvent(2, 42, "170", "10"), // references an open nobody saw
		openEvent(3, "200", "5"),
	})

	res, err := r.Ingest(context.Background())
	if !errors.Is(err, ErrOrphanCloseEvent) {
		t.Fatalf("expected ErrOrphanCloseEvent, got %v", err)
	}
	if res.Orphans != 1 {
		t.Errorf("expected 1 orphan, got %d", res.Orphans)
	}
	if res.Applied != 1 {
		t.Errorf("only events before the orphan may apply, got %d", res.Applied)
	}
	if cp, _ := st.Checkpoint("tron|" + testContract); cp != 1 {
		t.Errorf("watermark must stop below the orphan, got %d", cp)
	}

	// A rebuild repairs: the orphan is dropped and ingest resumes clean.
	if _, err := r.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}
	if res, err := r.Ingest(context.Background()); err != nil || res.Applied != 0 {
		t.Errorf("post-rebuild ingest must be a no-op, got %+v (%v)", res, err)
	}
	pos, _ := ld.Position(model.PositionKey(testToken, testContract))
	if !pos.Amount.Equal(dec("10")) {
		t.Errorf("expected both opens in the book, got %s", pos.Amount)
	}
}

func TestIngest_ZeroAmountClosesFullPosition(t *testing.T) {
	r, ld, _ := newReconciler(t, []chain.Event{
		openEvent(1, "100", "10"),
		closeEvent(2, 1, "120", "0"),
	})
	if _, err := r.Ingest(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := ld.Position(model.PositionKey(testToken, testContract)); ok {
		t.Error("zero-amount close must flatten the position")
	}
}

func TestIngest_OversizeCloseClamped(t *testing.T) {
	r, ld, _ := newReconciler(t, []chain.Event{
		openEvent(1, "100", "10"),
		closeEvent(2, 1, "120", "50"), // chain says 50, we only track 10
	})
	res, err := r.Ingest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Clamped != 1 {
		t.Errorf("expected 1 clamp, got %d", res.Clamped)
	}
	if _, ok := ld.Position(model.PositionKey(testToken, testContract)); ok {
		t.Error("clamped close must still flatten the position")
	}
}

func TestIngest_TraderFilter(t *testing.T) {
	st := store.NewMemoryStore()
	ld := ledger.New(st)
	if err := ld.Load(); err != nil {
		t.Fatal(err)
	}
	stranger := openEvent(1, "100", "10")
	stranger.Trader = "41dddddddddddddddddddddddddddddddddddddddd"
	src := &chain.MockSource{Events: []chain.Event{stranger, openEvent(2, "100", "5")}}
	r := New(st, ld, src, "tron", testContract, testTrader, nil)

	res, err := r.Ingest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied != 1 {
		t.Errorf("expected only own trades applied, got %d", res.Applied)
	}
	pos, _ := ld.Position(model.PositionKey(testToken, testContract))
	if !pos.Amount.Equal(dec("5")) {
		t.Errorf("expected amount 5, got %s", pos.Amount)
	}
	if res.Watermark != 2 {
		t.Errorf("filtered events must still advance the watermark, got %d", res.Watermark)
	}
}

func TestRebuild_DiscardsLocalTrades(t *testing.T) {
	r, ld, st := newReconciler(t, []chain.Event{
		openEvent(1, "100", "10"),
		closeEvent(2, 1, "150", "4"),
	})

	// A local paper trade that the authoritative replay must erase.
	local := model.Trade{
		ID: 900000, Token: testToken, Strategy: "paper",
		Action: model.ActionOpen, Price: dec("1"), Amount: dec("1"),
		Timestamp: time.Now(), Source: model.SourceLocal,
	}
	if err := ld.ApplyTrade(local); err != nil {
		t.Fatal(err)
	}

	res, err := r.Rebuild(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied != 2 {
		t.Errorf("expected 2 replayed trades, got %d", res.Applied)
	}

	if _, found, _ := st.GetTrade(900000); found {
		t.Error("rebuild must discard local unreconciled trades")
	}
	pos, ok := ld.Position(model.PositionKey(testToken, testContract))
	if !ok {
		t.Fatal("expected rebuilt chain position")
	}
	if !pos.Amount.Equal(dec("6")) {
		t.Errorf("expected remaining 6, got %s", pos.Amount)
	}
	if cp, _ := st.Checkpoint("tron|" + testContract); cp != 2 {
		t.Errorf("expected checkpoint reset to 2, got %d", cp)
	}
}

func TestRebuild_OrphansSkipped(t *testing.T) {
	r, ld, _ := newReconciler(t, []chain.Event{
		closeEvent(1, 77, "150", "4"),
		openEvent(2, "100", "10"),
	})
	res, err := r.Rebuild(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Orphans != 1 || res.Applied != 1 {
		t.Errorf("expected 1 orphan and 1 applied, got %+v", res)
	}
	pos, _ := ld.Position(model.PositionKey(testToken, testContract))
	if !pos.Amount.Equal(dec("10")) {
		t.Errorf("expected amount 10, got %s", pos.Amount)
	}
}
