package signal

import (
	"testing"
	"time"

	"TradeWarden/internal/model"
	"TradeWarden/internal/store"
)

const testToken = "41a614f803b6fd780986a42c78ec9c7f77e6ded13c"

func smaSub() model.Subscription {
	return model.Subscription{
		ID:        "sub-sma",
		Token:     testToken,
		Indicator: model.IndicatorSMA,
		Fast:      2,
		Slow:      3,
		Timeframe: "1h",
	}
}

func rsiSub() model.Subscription {
	return model.Subscription{
		ID:        "sub-rsi",
		Token:     testToken,
		Indicator: model.IndicatorRSI,
		Period:    3,
		Timeframe: "1h",
	}
}

func feed(t *testing.T, e *Evaluator, sub model.Subscription, closes []float64) []model.SignalEvent {
	t.Helper()
	var fired []model.SignalEvent
	for i, c := range closes {
		bar := model.PriceBar{
			Token:     sub.Token,
			Timeframe: sub.Timeframe,
			Close:     c,
			Time:      time.Date(2024, 1, 1, i, 0, 0, 0, time.UTC),
			Seq:       int64(i + 1),
		}
		ev, err := e.OnPriceBar(sub, bar)
		if err != nil {
			t.Fatalf("bar %d: %v", i, err)
		}
		if ev != nil {
			fired = append(fired, *ev)
		}
	}
	return fired
}

func TestEvaluator_SMACrossUpAndDown(t *testing.T) {
	e := NewEvaluator(store.NewMemoryStore())
	fired := feed(t, e, smaSub(), []float64{5, 4, 3, 3, 10, 1, 1})

	if len(fired) != 2 {
		t.Fatalf("expected 2 signals, got %d: %+v", len(fired), fired)
	}
	if fired[0].Trigger != model.TriggerCrossUp {
		t.Errorf("first signal: expected cross_up, got %s", fired[0].Trigger)
	}
	if fired[1].Trigger != model.TriggerCrossDown {
		t.Errorf("second signal: expected cross_down, got %s", fired[1].Trigger)
	}
	if fired[0].Price != 10 {
		t.Errorf("cross_up should carry the triggering close, got %f", fired[0].Price)
	}
}

func TestEvaluator_NoSignalDuringWarmup(t *testing.T) {
	e := NewEvaluator(store.NewMemoryStore())
	// First computable reading has no previous bar to compare against,
	// even though fast > slow from the start.
	fired := feed(t, e, smaSub(), []float64{1, 2, 3})
	if len(fired) != 0 {
		t.Fatalf("expected no signals during warm-up, got %+v", fired)
	}
}

func TestEvaluator_DuplicateBarsIgnored(t *testing.T) {
	e := NewEvaluator(store.NewMemoryStore())
	sub := smaSub()

	bar := model.PriceBar{Token: sub.Token, Timeframe: sub.Timeframe, Close: 5, Seq: 1, Time: time.Now()}
	if _, err := e.OnPriceBar(sub, bar); err != nil {
		t.Fatal(err)
	}
	if _, err := e.OnPriceBar(sub, bar); err != nil {
		t.Fatal(err)
	}

	st := e.states[sub.Key()]
	if len(st.closes) != 1 {
		t.Errorf("duplicate delivery must not extend the window, got %d closes", len(st.closes))
	}
}

func TestEvaluator_IgnoresForeignBars(t *testing.T) {
	e := NewEvaluator(store.NewMemoryStore())
	sub := smaSub()
	bar := model.PriceBar{Token: "41ffffffffffffffffffffffffffffffffffffffff", Timeframe: "1h", Close: 5, Seq: 1}
	if ev, err := e.OnPriceBar(sub, bar); err != nil || ev != nil {
		t.Errorf("bar for another token must be ignored, got ev=%v err=%v", ev, err)
	}
	if len(e.states) != 0 {
		t.Error("foreign bar must not create state")
	}
}

func TestEvaluator_RSIOversoldFiresOnceUntilRecovery(t *testing.T) {
	e := NewEvaluator(store.NewMemoryStore())
	// Rise first (RSI pegged at 100), then crash through 30: the crossing
	// bar fires, the bars that stay below 30 do not.
	closes := []float64{1, 2, 3, 4, 5, 0.5, 0.1, 0.05}
	fired := feed(t, e, rsiSub(), closes)

	oversold := 0
	for _, ev := range fired {
		if ev.Trigger == model.TriggerOversold {
			oversold++
		}
	}
	if oversold != 1 {
		t.Fatalf("expected exactly one oversold signal, got %d (%+v)", oversold, fired)
	}
}

func TestEvaluator_RSIOverboughtOnCrossing(t *testing.T) {
	e := NewEvaluator(store.NewMemoryStore())
	// Fall first so RSI starts below 70, then pump through it.
	closes := []float64{10, 9, 8, 7, 6, 30, 60, 90}
	fired := feed(t, e, rsiSub(), closes)

	overbought := 0
	for _, ev := range fired {
		if ev.Trigger == model.TriggerOverbought {
			overbought++
		}
	}
	if overbought != 1 {
		t.Fatalf("expected exactly one overbought signal, got %d (%+v)", overbought, fired)
	}
}

func TestEvaluator_Forget(t *testing.T) {
	e := NewEvaluator(store.NewMemoryStore())
	sub := smaSub()
	feed(t, e, sub, []float64{1, 2, 3})
	e.Forget(sub.Key())
	if len(e.states) != 0 {
		t.Error("expected state dropped after Forget")
	}
}
