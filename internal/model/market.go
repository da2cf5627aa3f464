package model

import "time"

// PriceBar represents a single candlestick bar for one token/timeframe.
// Seq increases monotonically per (token, timeframe) stream; the evaluator
// ignores bars whose Seq does not advance, which makes duplicate delivery safe.
type PriceBar struct {
	Token     string
	Timeframe string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Time      time.Time
	Seq       int64
}
