package links

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// BalanceOracle reports a wallet's balance. Implementations may block on the
// network; callers bound them with a context deadline.
type BalanceOracle interface {
	Balance(ctx context.Context, address string) (float64, error)
}

// oracleTimeout is the caller-side deadline on a single balance fetch.
const oracleTimeout = 3 * time.Second

// HTTPOracle reads balances from an external chain endpoint over JSON.
type HTTPOracle struct {
	URL    string
	client *http.Client
}

// NewHTTPOracle creates an oracle against the given endpoint.
func NewHTTPOracle(url string) *HTTPOracle {
	return &HTTPOracle{
		URL:    url,
		client: &http.Client{Timeout: oracleTimeout},
	}
}

// Balance posts {"address": ...} and expects {"balance": ...} back.
func (o *HTTPOracle) Balance(ctx context.Context, address string) (float64, error) {
	body, err := json.Marshal(map[string]string{"address": address})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build balance request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("balance fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("balance endpoint returned %d", resp.StatusCode)
	}

	var out struct {
		Balance float64 `json:"balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode balance response: %w", err)
	}
	if out.Balance < 0 {
		return 0, fmt.Errorf("balance endpoint returned negative balance %v", out.Balance)
	}
	return out.Balance, nil
}

// ZeroOracle always reports a zero balance. Used when no chain endpoint is
// configured, so every wallet-less deployment degrades to free-tier links.
type ZeroOracle struct{}

func (ZeroOracle) Balance(ctx context.Context, address string) (float64, error) {
	return 0, nil
}

type cacheEntry struct {
	balance   float64
	fetchedAt time.Time
}

// CachedOracle is a read-through cache in front of a BalanceOracle. Entries
// are fresh for TTL; a fetch failure is swallowed by serving the last known
// value, or zero when the address has never resolved.
type CachedOracle struct {
	inner BalanceOracle
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewCachedOracle wraps inner with a read-through cache. A non-positive ttl
// gets the 5 minute default.
func NewCachedOracle(inner BalanceOracle, ttl time.Duration) *CachedOracle {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedOracle{
		inner:   inner,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// Balance returns the cached balance when fresh, otherwise fetches through.
// Never returns an error: oracle failures degrade to the last cached value.
func (c *CachedOracle) Balance(ctx context.Context, address string) (float64, error) {
	c.mu.RLock()
	entry, ok := c.entries[address]
	c.mu.RUnlock()

	if ok && time.Since(entry.fetchedAt) < c.ttl {
		return entry.balance, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, oracleTimeout)
	defer cancel()

	balance, err := c.inner.Balance(fetchCtx, address)
	if err != nil {
		log.Printf("Links: balance fetch for %s failed, using cached value: %v", address, err)
		if ok {
			return entry.balance, nil
		}
		return 0, nil
	}

	c.mu.Lock()
	c.entries[address] = cacheEntry{balance: balance, fetchedAt: time.Now()}
	c.mu.Unlock()
	return balance, nil
}
