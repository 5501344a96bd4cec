// Package ratecache caches currency exchange rates fetched from an
// external quote API. The cache is an explicit object constructed once
// per process and passed to its consumers; the clock and the HTTP
// client are injected so tests control both.
package ratecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var ErrUnknownCurrency = errors.New("unknown currency code")

// Doer is the slice of http.Client the cache needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithDoer(d Doer) Option {
	return func(c *Cache) { c.client = d }
}

type entry struct {
	rates     map[string]float64
	fetchedAt time.Time
}

type Cache struct {
	baseURL string
	ttl     time.Duration
	now     func() time.Time
	client  Doer

	mu      sync.RWMutex
	entries map[string]entry
	flight  singleflight.Group
}

// New builds a cache against a quote API serving GET {baseURL}/{BASE}
// responses of the shape {"base_code": "...", "rates": {"EUR": 0.92}}.
func New(baseURL string, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
		client:  &http.Client{Timeout: 10 * time.Second},
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rate returns how many units of quote one unit of base buys. Expired
// entries are refreshed once even under concurrent callers; everyone
// waits on the same fetch.
func (c *Cache) Rate(ctx context.Context, base, quote string) (float64, error) {
	base = strings.ToUpper(base)
	quote = strings.ToUpper(quote)
	if base == quote {
		return 1, nil
	}

	c.mu.RLock()
	e, ok := c.entries[base]
	c.mu.RUnlock()

	if !ok || c.now().Sub(e.fetchedAt) >= c.ttl {
		refreshed, err, _ := c.flight.Do(base, func() (interface{}, error) {
			return c.fetch(ctx, base)
		})
		if err != nil {
			// Serve a stale entry over failing when we have one.
			if ok {
				return rateFrom(e.rates, quote)
			}
			return 0, err
		}
		e = refreshed.(entry)
	}

	return rateFrom(e.rates, quote)
}

func rateFrom(rates map[string]float64, quote string) (float64, error) {
	r, ok := rates[quote]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCurrency, quote)
	}
	return r, nil
}

type quoteResponse struct {
	BaseCode string             `json:"base_code"`
	Rates    map[string]float64 `json:"rates"`
}

func (c *Cache) fetch(ctx context.Context, base string) (entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+base, nil)
	if err != nil {
		return entry{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return entry{}, fmt.Errorf("fetch rates for %s: %w", base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return entry{}, fmt.Errorf("%w: %s", ErrUnknownCurrency, base)
	}
	if resp.StatusCode != http.StatusOK {
		return entry{}, fmt.Errorf("fetch rates for %s: HTTP %d", base, resp.StatusCode)
	}

	var body quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return entry{}, fmt.Errorf("decode rates for %s: %w", base, err)
	}
	if len(body.Rates) == 0 {
		return entry{}, fmt.Errorf("empty rate table for %s", base)
	}

	e := entry{rates: body.Rates, fetchedAt: c.now()}
	c.mu.Lock()
	c.entries[base] = e
	c.mu.Unlock()
	return e, nil
}
