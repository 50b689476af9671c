// Package pricefeed fetches external per-resource price modifiers from an
// upstream oracle endpoint. Every failure mode degrades to neutral 1.0
// multipliers so the market never stalls on a collaborator.
package pricefeed

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/talgya/harborsim/internal/sim"
)

// cacheTTL bounds how often the upstream is hit; one tick is typically
// much longer than this.
const cacheTTL = 30 * time.Second

// Client polls an oracle endpoint for price modifiers. A nil *Client is
// valid and always reports neutral modifiers.
type Client struct {
	url    string
	client *http.Client

	mu        sync.Mutex
	cached    map[sim.Resource]float64
	fetchedAt time.Time
}

// NewClient creates a price-feed client. Returns nil if url is empty.
func NewClient(url string) *Client {
	if url == "" {
		return nil
	}
	return &Client{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// PriceModifiers returns the current per-resource multipliers. Implements
// sim.PriceFeed. Missing resources and fetch failures mean 1.0.
func (c *Client) PriceModifiers() map[sim.Resource]float64 {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.fetchedAt) < cacheTTL && c.cached != nil {
		return c.cached
	}

	mods, err := c.fetch()
	if err != nil {
		slog.Warn("price feed unavailable, using neutral modifiers", "error", err)
		// Keep serving the stale cache if there is one.
		return c.cached
	}

	c.cached = mods
	c.fetchedAt = time.Now()
	return c.cached
}

func (c *Client) fetch() (map[sim.Resource]float64, error) {
	resp, err := c.client.Get(c.url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, err
	}

	var payload struct {
		Modifiers map[sim.Resource]float64 `json:"modifiers"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	// Clamp to a sane band so a misbehaving oracle cannot blow the market
	// through its price clamps in a single tick.
	mods := make(map[sim.Resource]float64, len(payload.Modifiers))
	for res, m := range payload.Modifiers {
		if m < 0.5 {
			m = 0.5
		}
		if m > 2.0 {
			m = 2.0
		}
		mods[res] = m
	}
	return mods, nil
}
