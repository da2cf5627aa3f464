package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"TradeWarden/internal/model"
	"TradeWarden/internal/store"
)

const (
	testToken    = "41a614f803b6fd780986a42c78ec9c7f77e6ded13c"
	testStrategy = "paper"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func open(id int64, price, amount string) model.Trade {
	return model.Trade{
		ID:        id,
		Token:     testToken,
		Symbol:    "WIN",
		Strategy:  testStrategy,
		Action:    model.ActionOpen,
		Price:     dec(price),
		Amount:    dec(amount),
		Timestamp: time.Unix(1700000000+id, 0).UTC(),
		Source:    model.SourceLocal,
	}
}

func closeTrade(id int64, price, amount string) model.Trade {
	t := open(id, price, amount)
	t.Action = model.ActionClose
	return t
}

func newLedger(t *testing.T) (*Ledger, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	l := New(st)
	if err := l.Load(); err != nil {
		t.Fatal(err)
	}
	return l, st
}

func TestApplyTrade_OpenCreatesPosition(t *testing.T) {
	l, _ := newLedger(t)
	if err := l.ApplyTrade(open(1, "100", "10")); err != nil {
		t.Fatal(err)
	}
	pos, ok := l.Position(model.PositionKey(testToken, testStrategy))
	if !ok {
		t.Fatal("expected position")
	}
	if !pos.Amount.Equal(dec("10")) || !pos.AvgEntryPrice.Equal(dec("100")) {
		t.Errorf("got amount=%s avg=%s", pos.Amount, pos.AvgEntryPrice)
	}
	if pos.OpeningTradeID != 1 {
		t.Errorf("expected opening trade 1, got %d", pos.OpeningTradeID)
	}
}

func TestApplyTrade_WeightedAverageMerge(t *testing.T) {
	l, _ := newLedger(t)
	if err := l.ApplyTrade(open(1, "100", "10")); err != nil {
		t.Fatal(err)
	}
	if err := l.ApplyTrade(open(2, "200", "10")); err != nil {
		t.Fatal(err)
	}
	pos, _ := l.Position(model.PositionKey(testToken, testStrategy))
	if !pos.Amount.Equal(dec("20")) {
		t.Errorf("expected amount 20, got %s", pos.Amount)
	}
	if !pos.AvgEntryPrice.Equal(dec("150")) {
		t.Errorf("expected avg 150, got %s", pos.AvgEntryPrice)
	}
	if pos.OpeningTradeID != 1 {
		t.Errorf("merge must preserve the first opening trade, got %d", pos.OpeningTradeID)
	}
}

func TestApplyTrade_Idempotent(t *testing.T) {
	l, _ := newLedger(t)
	tr := open(1, "100", "10")
	for i := 0; i < 3; i++ {
		if err := l.ApplyTrade(tr); err != nil {
			t.Fatal(err)
		}
	}
	pos, _ := l.Position(model.PositionKey(testToken, testStrategy))
	if !pos.Amount.Equal(dec("10")) {
		t.Errorf("re-applying the same trade must be a no-op, got amount %s", pos.Amount)
	}
}

func TestApplyTrade_PartialCloseRealizesPnL(t *testing.T) {
	l, st := newLedger(t)
	if err := l.ApplyTrade(open(1, "100", "10")); err != nil {
		t.Fatal(err)
	}
	if err := l.ApplyTrade(open(2, "200", "10")); err != nil {
		t.Fatal(err)
	}
	if err := l.ApplyTrade(closeTrade(3, "170", "10")); err != nil {
		t.Fatal(err)
	}

	pos, ok := l.Position(model.PositionKey(testToken, testStrategy))
	if !ok {
		t.Fatal("partial close must keep the position open")
	}
	if !pos.Amount.Equal(dec("10")) {
		t.Errorf("expected remaining 10, got %s", pos.Amount)
	}
	if !pos.RealizedPnL.Equal(dec("200")) {
		t.Errorf("expected realized 200, got %s", pos.RealizedPnL)
	}
	if !pos.AvgEntryPrice.Equal(dec("150")) {
		t.Errorf("close must not move the average entry, got %s", pos.AvgEntryPrice)
	}

	tr, found, err := st.GetTrade(3)
	if err != nil || !found {
		t.Fatalf("close trade not persisted: found=%v err=%v", found, err)
	}
	if !tr.PnL.Valid || !tr.PnL.Decimal.Equal(dec("200")) {
		t.Errorf("expected persisted PnL 200, got %+v", tr.PnL)
	}
}

func TestApplyTrade_FullCloseRemovesPosition(t *testing.T) {
	l, _ := newLedger(t)
	if err := l.ApplyTrade(open(1, "100", "10")); err != nil {
		t.Fatal(err)
	}
	if err := l.ApplyTrade(closeTrade(2, "120", "10")); err != nil {
		t.Fatal(err)
	}
	if _, ok := l.Position(model.PositionKey(testToken, testStrategy)); ok {
		t.Error("expected position removed at zero")
	}
}

func TestApplyTrade_InsufficientPosition(t *testing.T) {
	l, _ := newLedger(t)
	if err := l.ApplyTrade(open(1, "100", "10")); err != nil {
		t.Fatal(err)
	}

	err := l.ApplyTrade(closeTrade(2, "120", "50"))
	if !errors.Is(err, ErrInsufficientPosition) {
		t.Fatalf("expected ErrInsufficientPosition, got %v", err)
	}

	// Ledger must be exactly as before the rejected close.
	pos, _ := l.Position(model.PositionKey(testToken, testStrategy))
	if !pos.Amount.Equal(dec("10")) || !pos.RealizedPnL.IsZero() {
		t.Errorf("rejected close mutated the position: %+v", pos)
	}
	if err := l.ApplyTrade(closeTrade(2, "120", "10")); err != nil {
		t.Errorf("trade ID must be reusable after a rejected apply: %v", err)
	}
}

func TestApplyTrade_CloseWithoutPosition(t *testing.T) {
	l, _ := newLedger(t)
	err := l.ApplyTrade(closeTrade(1, "120", "10"))
	if !errors.Is(err, ErrInsufficientPosition) {
		t.Fatalf("expected ErrInsufficientPosition, got %v", err)
	}
}

// failingStore rejects trade persistence to prove apply is all-or-nothing.
type failingStore struct {
	*store.MemoryStore
}

func (f *failingStore) SaveTradeResult(model.Trade, model.Position, bool) error {
	return errors.New("disk full")
}

func TestApplyTrade_StoreFailureLeavesMemoryUntouched(t *testing.T) {
	fs := &failingStore{MemoryStore: store.NewMemoryStore()}
	l := New(fs)
	if err := l.Load(); err != nil {
		t.Fatal(err)
	}

	err := l.ApplyTrade(open(1, "100", "10"))
	if !model.IsExternal(err) {
		t.Fatalf("expected external error, got %v", err)
	}
	if _, ok := l.Position(model.PositionKey(testToken, testStrategy)); ok {
		t.Error("failed persist must not create an in-memory position")
	}
}

func TestRebuild_ReplaysFromScratch(t *testing.T) {
	l, st := newLedger(t)
	// Seed some state that the rebuild must discard.
	if err := l.ApplyTrade(open(99, "5", "1")); err != nil {
		t.Fatal(err)
	}

	log := []model.Trade{
		open(1, "100", "10"),
		open(2, "200", "10"),
		closeTrade(3, "170", "10"),
	}
	if err := l.Rebuild(log); err != nil {
		t.Fatal(err)
	}

	pos, ok := l.Position(model.PositionKey(testToken, testStrategy))
	if !ok {
		t.Fatal("expected rebuilt position")
	}
	if !pos.Amount.Equal(dec("10")) || !pos.AvgEntryPrice.Equal(dec("150")) {
		t.Errorf("rebuilt position wrong: amount=%s avg=%s", pos.Amount, pos.AvgEntryPrice)
	}

	if _, found, _ := st.GetTrade(99); found {
		t.Error("rebuild must discard trades not in the replay log")
	}
	trades, _ := st.ListTradesAsc()
	if len(trades) != 3 {
		t.Errorf("expected 3 trades after rebuild, got %d", len(trades))
	}
}

func TestRebuild_FailureLeavesBookUnchanged(t *testing.T) {
	l, _ := newLedger(t)
	if err := l.ApplyTrade(open(1, "100", "10")); err != nil {
		t.Fatal(err)
	}

	// Close without a matching open poisons the replay.
	bad := []model.Trade{closeTrade(5, "120", "10")}
	if err := l.Rebuild(bad); err == nil {
		t.Fatal("expected rebuild to fail")
	}

	pos, ok := l.Position(model.PositionKey(testToken, testStrategy))
	if !ok || !pos.Amount.Equal(dec("10")) {
		t.Errorf("failed rebuild must leave the live book intact: %+v", pos)
	}
}

func TestResolveSellAmount(t *testing.T) {
	pos := model.Position{Amount: dec("10"), AvgEntryPrice: dec("2")}

	got, err := ResolveSellAmount(pos, model.SizePercent, dec("50"), decimal.Zero, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(dec("5")) {
		t.Errorf("50%% of 10 floored to 0dp: expected 5, got %s", got)
	}

	got, err = ResolveSellAmount(pos, model.SizeDollars, dec("100"), dec("3"), 6)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(dec("33.333333")) {
		t.Errorf("$100 at 3: expected 33.333333, got %s", got)
	}

	if _, err := ResolveSellAmount(pos, model.SizeDollars, dec("100"), decimal.Zero, 6); err == nil {
		t.Error("dollar sizing without a reference price must fail")
	}

	got, err = ResolveSellAmount(pos, model.SizeUnits, dec("7"), decimal.Zero, 6)
	if err != nil || !got.Equal(dec("7")) {
		t.Errorf("unit sizing: expected 7, got %s (%v)", got, err)
	}
}

func TestResolveBuyAmount(t *testing.T) {
	got, err := ResolveBuyAmount(model.SizeDollars, dec("90"), dec("4.5"), 6)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(dec("20")) {
		t.Errorf("$90 at 4.5: expected 20, got %s", got)
	}
	if _, err := ResolveBuyAmount(model.SizePercent, dec("50"), dec("1"), 6); err == nil {
		t.Error("percent sizing must be rejected for buys")
	}
}
