package market

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"TradeWarden/internal/model"
)

// HTTPFetcher implements Fetcher against a candles HTTP API that serves
// per-token OHLCV series keyed by contract address.
type HTTPFetcher struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewHTTPFetcher(baseURL, apiKey string) *HTTPFetcher {
	return &HTTPFetcher{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (f *HTTPFetcher) Name() string { return "http" }

// candlesResponse is the chart endpoint's payload shape.
type candlesResponse struct {
	Data []struct {
		Time   int64   `json:"time"` // unix seconds, bar open
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		Volume float64 `json:"volume"`
	} `json:"data"`
	Error string `json:"error"`
}

func (f *HTTPFetcher) FetchBars(token, timeframe string, count int) ([]model.PriceBar, error) {
	q := url.Values{}
	q.Set("interval", timeframe)
	q.Set("limit", fmt.Sprintf("%d", count))
	endpoint := fmt.Sprintf("%s/v1/candles/%s?%s", f.BaseURL, url.PathEscape(token), q.Encode())

	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if f.APIKey != "" {
		req.Header.Set("X-API-KEY", f.APIKey)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("candles fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("candles read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("candles: status %d, body: %s", resp.StatusCode, string(body))
	}

	var cr candlesResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("candles decode: %w", err)
	}
	if cr.Error != "" {
		return nil, fmt.Errorf("candles api error: %s", cr.Error)
	}

	bars := make([]model.PriceBar, 0, len(cr.Data))
	for _, d := range cr.Data {
		if d.Open == 0 && d.High == 0 && d.Low == 0 && d.Close == 0 {
			continue // skip null bars
		}
		bars = append(bars, model.PriceBar{
			Token:     token,
			Timeframe: timeframe,
			Time:      time.Unix(d.Time, 0).UTC(),
			Open:      d.Open,
			High:      d.High,
			Low:       d.Low,
			Close:     d.Close,
			Volume:    d.Volume,
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	for i := range bars {
		bars[i].Seq = bars[i].Time.Unix()
	}
	if len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	return bars, nil
}

func (f *HTTPFetcher) FetchCurrentPrice(token string) (float64, error) {
	bars, err := f.FetchBars(token, "1m", 1)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, fmt.Errorf("candles: no price data for %s", token)
	}
	return bars[len(bars)-1].Close, nil
}
