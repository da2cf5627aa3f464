package market

import (
	"time"

	"TradeWarden/internal/model"
)

// Fetcher defines the interface for fetching token market data.
type Fetcher interface {
	FetchBars(token, timeframe string, count int) ([]model.PriceBar, error)
	FetchCurrentPrice(token string) (float64, error)
	Name() string
}

// MockFetcher returns controllable fixed data for development and testing.
type MockFetcher struct {
	Price float64
	Bars  []model.PriceBar
	Err   error
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) FetchBars(token, timeframe string, count int) ([]model.PriceBar, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Bars != nil {
		return m.Bars, nil
	}
	return generateMockBars(token, timeframe, m.Price, count), nil
}

func (m *MockFetcher) FetchCurrentPrice(string) (float64, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	return m.Price, nil
}

func generateMockBars(token, timeframe string, basePrice float64, count int) []model.PriceBar {
	bars := make([]model.PriceBar, count)
	for i := 0; i < count; i++ {
		p := basePrice * (1 + float64(i-count/2)*0.001)
		bars[i] = model.PriceBar{
			Token:     token,
			Timeframe: timeframe,
			Time:      time.Now().Add(-time.Duration(count-i) * time.Hour),
			Open:      p * 0.999,
			High:      p * 1.005,
			Low:       p * 0.995,
			Close:     p,
			Volume:    1000000,
			Seq:       int64(i + 1),
		}
	}
	return bars
}
