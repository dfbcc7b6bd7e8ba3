// Package gas provides fee suggestions and ETH price data for gas cost
// estimates.
package gas

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// DefaultPriceURL is the CoinGecko simple price endpoint (free, no key required).
const DefaultPriceURL = "https://api.coingecko.com/api/v3/simple/price?ids=ethereum&vs_currencies=usd"

// PriceOracle provides ETH/USD price with caching
type PriceOracle struct {
	mu         sync.RWMutex
	price      float64
	lastUpdate time.Time
	ttl        time.Duration
	fallback   float64
	url        string
	client     *http.Client
	now        func() time.Time
}

// OracleOption configures a PriceOracle.
type OracleOption func(*PriceOracle)

// WithPriceURL overrides the price endpoint.
func WithPriceURL(url string) OracleOption {
	return func(o *PriceOracle) {
		if url != "" {
			o.url = url
		}
	}
}

// WithOracleClock overrides the time source (tests).
func WithOracleClock(now func() time.Time) OracleOption {
	return func(o *PriceOracle) { o.now = now }
}

// NewPriceOracle creates a price oracle with a fallback price and cache TTL
func NewPriceOracle(fallbackPrice float64, cacheTTL time.Duration, opts ...OracleOption) *PriceOracle {
	o := &PriceOracle{
		price:    fallbackPrice,
		fallback: fallbackPrice,
		ttl:      cacheTTL,
		url:      DefaultPriceURL,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ETHPrice returns the current ETH/USD price. It refreshes from the price
// API when the cached value is stale and falls back to the last known price.
func (o *PriceOracle) ETHPrice(ctx context.Context) float64 {
	o.mu.RLock()
	if !o.lastUpdate.IsZero() && o.now().Sub(o.lastUpdate) < o.ttl && o.price > 0 {
		price := o.price
		o.mu.RUnlock()
		return price
	}
	o.mu.RUnlock()

	newPrice, err := o.fetchPrice(ctx)
	if err != nil {
		// Leave lastUpdate zero so the next call retries immediately.
		o.mu.Lock()
		o.lastUpdate = time.Time{}
		price := o.price
		o.mu.Unlock()
		if price > 0 {
			return price
		}
		return o.fallback
	}

	o.mu.Lock()
	o.price = newPrice
	o.lastUpdate = o.now()
	o.mu.Unlock()

	return newPrice
}

func (o *PriceOracle) fetchPrice(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("price API returned status %d", resp.StatusCode)
	}

	var result struct {
		Ethereum struct {
			USD float64 `json:"usd"`
		} `json:"ethereum"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to decode price response: %w", err)
	}

	if result.Ethereum.USD <= 0 {
		return 0, fmt.Errorf("invalid price returned: %f", result.Ethereum.USD)
	}

	return result.Ethereum.USD, nil
}
