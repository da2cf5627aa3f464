package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"time"
)

// EventSource supplies ordered strategy-contract events. EventsAfter returns
// everything with tradeId strictly above the watermark; AllEvents returns the
// complete log for rebuilds. Both return events sorted by (tradeId, logIndex).
type EventSource interface {
	EventsAfter(ctx context.Context, contract string, afterTradeID int64) ([]Event, error)
	AllEvents(ctx context.Context, contract string) ([]Event, error)
}

// Client reads contract events from a TronGrid-compatible HTTP API.
type Client struct {
	baseURL  string
	apiKey   string
	client   *http.Client
	decimals DecimalsFn
	pageSize int
}

func NewClient(baseURL, apiKey string, decimals DecimalsFn) *Client {
	if decimals == nil {
		decimals = DefaultDecimals
	}
	return &Client{
		baseURL:  baseURL,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 15 * time.Second},
		decimals: decimals,
		pageSize: 200,
	}
}

type eventsPage struct {
	Data    []rawEvent `json:"data"`
	Success bool       `json:"success"`
	Meta    struct {
		Fingerprint string `json:"fingerprint"`
	} `json:"meta"`
}

func (c *Client) EventsAfter(ctx context.Context, contract string, afterTradeID int64) ([]Event, error) {
	all, err := c.fetchAll(ctx, contract)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, ev := range all {
		if ev.TradeID > afterTradeID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (c *Client) AllEvents(ctx context.Context, contract string) ([]Event, error) {
	return c.fetchAll(ctx, contract)
}

// fetchAll walks every event page for a contract via fingerprint pagination
// and returns the decoded events in (tradeId, logIndex) order. TronGrid pages
// newest-first; ordering is restored after the walk.
func (c *Client) fetchAll(ctx context.Context, contract string) ([]Event, error) {
	var events []Event
	fingerprint := ""

	for page := 0; ; page++ {
		p, err := c.fetchPage(ctx, contract, fingerprint)
		if err != nil {
			return nil, fmt.Errorf("events page %d: %w", page, err)
		}
		for _, raw := range p.Data {
			ev, err := raw.decode(c.decimals)
			if err != nil {
				log.Printf("[WARN] skipping undecodable event: %v", err)
				continue
			}
			events = append(events, ev)
		}
		if p.Meta.Fingerprint == "" || len(p.Data) == 0 {
			break
		}
		fingerprint = p.Meta.Fingerprint
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].TradeID != events[j].TradeID {
			return events[i].TradeID < events[j].TradeID
		}
		return events[i].LogIndex < events[j].LogIndex
	})
	return events, nil
}

func (c *Client) fetchPage(ctx context.Context, contract, fingerprint string) (*eventsPage, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", c.pageSize))
	q.Set("order_by", "block_timestamp,desc")
	if fingerprint != "" {
		q.Set("fingerprint", fingerprint)
	}
	endpoint := fmt.Sprintf("%s/v1/contracts/%s/events?%s", c.baseURL, contract, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("TRON-PRO-API-KEY", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	var page eventsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !page.Success {
		return nil, fmt.Errorf("api reported failure")
	}
	return &page, nil
}

// MockSource serves canned events in tests.
type MockSource struct {
	Events []Event
	Err    error
}

func (m *MockSource) EventsAfter(_ context.Context, _ string, after int64) ([]Event, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]Event, 0, len(m.Events))
	for _, ev := range m.Events {
		if ev.TradeID > after {
			out = append(out, ev)
		}
	}
	sortEvents(out)
	return out, nil
}

func (m *MockSource) AllEvents(context.Context, string) ([]Event, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	out := append([]Event(nil), m.Events...)
	sortEvents(out)
	return out, nil
}

func sortEvents(evs []Event) {
	sort.Slice(evs, func(i, j int) bool {
		if evs[i].TradeID != evs[j].TradeID {
			return evs[i].TradeID < evs[j].TradeID
		}
		return evs[i].LogIndex < evs[j].LogIndex
	})
}
