package calculator

import "errors"

// ErrInsufficientData signals that the trailing window is still warming up.
// Callers suppress emission rather than treating this as a failure.
var ErrInsufficientData = errors.New("not enough bars for calculation")

// SMA computes the simple moving average of the last `period` closes.
func SMA(closes []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be positive")
	}
	if len(closes) < period {
		return 0, ErrInsufficientData
	}
	sum := 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		sum += closes[i]
	}
	return sum / float64(period), nil
}

// SMAPair computes fast and slow SMAs over the same close series.
func SMAPair(closes []float64, fast, slow int) (fastMA, slowMA float64, err error) {
	fastMA, err = SMA(closes, fast)
	if err != nil {
		return 0, 0, err
	}
	slowMA, err = SMA(closes, slow)
	if err != nil {
		return 0, 0, err
	}
	return fastMA, slowMA, nil
}
