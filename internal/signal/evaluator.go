package signal

import (
	"errors"
	"log"
	"math"
	"sync"

	"TradeWarden/internal/calculator"
	"TradeWarden/internal/model"
	"TradeWarden/internal/store"
)

// RSI trigger thresholds. Hysteresis: a signal fires only on the bar that
// crosses the threshold, and cannot fire again until the indicator has left
// the zone.
const (
	rsiOversold   = 30.0
	rsiOverbought = 70.0
)

// subState is the per-subscription evaluation runtime. Closes is a trailing
// window of bar closes; prevDiff and prevRSI hold the previous bar's
// indicator reading so crossings are detected as transitions, not levels.
type subState struct {
	closes   []float64
	lastSeq  int64
	prevDiff float64 // fastMA - slowMA
	prevRSI  float64
	warm     bool // previous reading exists
}

// Evaluator feeds price bars through each subscription's indicator and emits
// SignalEvents on crossings. It holds no market data itself; bars arrive via
// OnPriceBar from whatever feed the caller wires up.
type Evaluator struct {
	mu     sync.Mutex
	store  store.Store
	states map[string]*subState // keyed by Subscription.Key()
}

func NewEvaluator(st store.Store) *Evaluator {
	return &Evaluator{
		store:  st,
		states: make(map[string]*subState),
	}
}

// Forget drops the runtime state for a removed subscription.
func (e *Evaluator) Forget(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, key)
}

// OnPriceBar advances one subscription by one bar and returns the signal it
// fired, if any. Bars must arrive in Seq order; duplicates and replays
// (Seq not advancing) are ignored, so at-least-once feeds are safe.
func (e *Evaluator) OnPriceBar(sub model.Subscription, bar model.PriceBar) (*model.SignalEvent, error) {
	if bar.Token != sub.Token || bar.Timeframe != sub.Timeframe {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[sub.Key()]
	if !ok {
		st = &subState{}
		e.states[sub.Key()] = st
	}
	if st.lastSeq != 0 && bar.Seq <= st.lastSeq {
		return nil, nil
	}
	st.lastSeq = bar.Seq
	st.closes = append(st.closes, bar.Close)

	// Cap the window; nothing needs more history than the slowest period
	// plus the warm-up bar.
	max := sub.Slow
	if sub.Period > max {
		max = sub.Period
	}
	if keep := max*2 + 2; len(st.closes) > keep {
		st.closes = st.closes[len(st.closes)-keep:]
	}

	var ev *model.SignalEvent
	switch sub.Indicator {
	case model.IndicatorSMA:
		ev = e.evalSMA(sub, st, bar)
	case model.IndicatorRSI:
		ev = e.evalRSI(sub, st, bar)
	}
	if ev == nil {
		return nil, nil
	}

	if err := e.store.UpsertSignal(*ev); err != nil {
		return nil, model.External("record signal", err)
	}
	log.Printf("[INFO] signal fired: %s %s %s @ %.6f", sub.Key(), ev.Trigger, bar.Timeframe, bar.Close)
	return ev, nil
}

func (e *Evaluator) evalSMA(sub model.Subscription, st *subState, bar model.PriceBar) *model.SignalEvent {
	fastMA, slowMA, err := calculator.SMAPair(st.closes, sub.Fast, sub.Slow)
	if err != nil {
		if !errors.Is(err, calculator.ErrInsufficientData) {
			log.Printf("[WARN] sma %s: %v", sub.Key(), err)
		}
		return nil
	}
	diff := fastMA - slowMA

	defer func() {
		st.prevDiff = diff
		st.warm = true
	}()
	if !st.warm {
		return nil
	}

	var trigger model.TriggerType
	switch {
	case st.prevDiff <= 0 && diff > 0:
		trigger = model.TriggerCrossUp
	case st.prevDiff >= 0 && diff < 0:
		trigger = model.TriggerCrossDown
	default:
		return nil
	}
	return &model.SignalEvent{
		SubscriptionID: sub.ID,
		Token:          sub.Token,
		Timeframe:      sub.Timeframe,
		Trigger:        trigger,
		Value:          diff,
		Price:          bar.Close,
		BarTime:        bar.Time,
	}
}

func (e *Evaluator) evalRSI(sub model.Subscription, st *subState, bar model.PriceBar) *model.SignalEvent {
	rsi, err := calculator.RSI(st.closes, sub.Period)
	if err != nil {
		if !errors.Is(err, calculator.ErrInsufficientData) {
			log.Printf("[WARN] rsi %s: %v", sub.Key(), err)
		}
		return nil
	}
	if math.IsNaN(rsi) {
		return nil
	}

	defer func() {
		st.prevRSI = rsi
		st.warm = true
	}()
	if !st.warm {
		return nil
	}

	var trigger model.TriggerType
	switch {
	case st.prevRSI >= rsiOversold && rsi < rsiOversold:
		trigger = model.TriggerOversold
	case st.prevRSI <= rsiOverbought && rsi > rsiOverbought:
		trigger = model.TriggerOverbought
	default:
		return nil
	}
	return &model.SignalEvent{
		SubscriptionID: sub.ID,
		Token:          sub.Token,
		Timeframe:      sub.Timeframe,
		Trigger:        trigger,
		Value:          rsi,
		Price:          bar.Close,
		BarTime:        bar.Time,
	}
}
