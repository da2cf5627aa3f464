package market

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoPrice means no fresh reference price is cached for the token.
var ErrNoPrice = errors.New("no reference price available")

type cachedPrice struct {
	price decimal.Decimal
	at    time.Time
}

// PriceCache holds reference prices used for market orders and percent/dollar
// sizing. A background refresh keeps subscribed tokens warm; lookups never
// block on the network.
type PriceCache struct {
	mu      sync.Mutex
	fetcher Fetcher
	maxAge  time.Duration
	prices  map[string]cachedPrice
}

func NewPriceCache(f Fetcher, maxAge time.Duration) *PriceCache {
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &PriceCache{
		fetcher: f,
		maxAge:  maxAge,
		prices:  make(map[string]cachedPrice),
	}
}

// Price returns the cached reference price if it is still fresh.
func (c *PriceCache) Price(token string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.prices[token]
	if !ok || time.Since(p.at) > c.maxAge {
		return decimal.Zero, ErrNoPrice
	}
	return p.price, nil
}

// Set stores a price directly. Used for synthetic tokens whose price comes
// from user-supplied fills rather than a feed.
func (c *PriceCache) Set(token string, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[token] = cachedPrice{price: price, at: time.Now()}
}

// Refresh fetches the current price for a token and caches it.
func (c *PriceCache) Refresh(token string) (decimal.Decimal, error) {
	px, err := c.fetcher.FetchCurrentPrice(token)
	if err != nil {
		return decimal.Zero, err
	}
	d := decimal.NewFromFloat(px)
	c.Set(token, d)
	return d, nil
}

// RefreshAll warms the cache for every given token, logging and skipping
// failures so one dead feed does not block the rest.
func (c *PriceCache) RefreshAll(tokens []string) {
	for _, token := range tokens {
		if _, err := c.Refresh(token); err != nil {
			log.Printf("[WARN] price refresh %s: %v", token, err)
		}
	}
}
