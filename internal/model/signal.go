package model

import (
	"fmt"
	"time"
)

// IndicatorKind identifies the indicator a subscription evaluates.
type IndicatorKind string

const (
	IndicatorSMA IndicatorKind = "sma"
	IndicatorRSI IndicatorKind = "rsi"
)

// TriggerType indicates what fired a signal.
type TriggerType string

const (
	TriggerCrossUp    TriggerType = "cross_up"
	TriggerCrossDown  TriggerType = "cross_down"
	TriggerOversold   TriggerType = "oversold"
	TriggerOverbought TriggerType = "overbought"
)

// Subscription is one active indicator watch on a token/timeframe.
// For SMA the parameters are Fast/Slow periods; for RSI only Period is used.
type Subscription struct {
	ID        string
	Token     string
	Indicator IndicatorKind
	Fast      int
	Slow      int
	Period    int
	Timeframe string
	Network   string
	CreatedAt time.Time
}

// Key returns the uniqueness key: one subscription per
// (token, indicator, parameters, timeframe).
func (s Subscription) Key() string {
	switch s.Indicator {
	case IndicatorSMA:
		return fmt.Sprintf("%s|sma|%d/%d|%s", s.Token, s.Fast, s.Slow, s.Timeframe)
	default:
		return fmt.Sprintf("%s|rsi|%d|%s", s.Token, s.Period, s.Timeframe)
	}
}

// SignalEvent is emitted when a subscription's indicator triggers.
type SignalEvent struct {
	SubscriptionID string
	Token          string
	Timeframe      string
	Trigger        TriggerType
	Value          float64 // indicator value at the triggering bar
	Price          float64 // close of the triggering bar
	BarTime        time.Time
}

// DedupeKey is stable per (subscription, bar), so repeated scans of the same
// bar upsert instead of duplicating alerts.
func (e SignalEvent) DedupeKey() string {
	return fmt.Sprintf("%s|%s|%s|%d", e.SubscriptionID, e.Timeframe, e.Trigger, e.BarTime.Unix())
}
