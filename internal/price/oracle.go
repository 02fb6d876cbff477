// Package price implements a CoinGecko-backed spot price oracle with
// response caching, global request spacing, retry with backoff, and a
// stale-cache fallback when the upstream API is unavailable.
package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"crypto-clash-bot/internal/config"
	"crypto-clash-bot/internal/model"
)

// ErrPriceUnavailable is returned when the upstream API fails and no
// cached price exists for the asset, not even a stale one.
var ErrPriceUnavailable = errors.New("price unavailable")

type cacheEntry struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

// Oracle fetches USD spot prices for supported assets. A single Oracle
// is safe for concurrent use; all callers share one cache and one
// upstream pacing window.
type Oracle struct {
	cfg    config.OracleConfig
	client *http.Client

	mu       sync.Mutex
	cache    map[model.Asset]cacheEntry
	lastCall time.Time

	// Overridable in tests.
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewOracle creates a price oracle against the configured CoinGecko
// endpoint.
func NewOracle(cfg config.OracleConfig) *Oracle {
	return &Oracle{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		cache: make(map[model.Asset]cacheEntry),
		now:   time.Now,
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// GetPrice returns the current USD price for the asset. A cache entry
// younger than the configured cache duration is served without touching
// the network. On upstream failure a stale cache entry is served as a
// degraded fallback; ErrPriceUnavailable is returned only when no price
// has ever been fetched for the asset.
func (o *Oracle) GetPrice(ctx context.Context, asset model.Asset) (decimal.Decimal, error) {
	o.mu.Lock()
	if entry, ok := o.cache[asset]; ok && o.now().Sub(entry.fetchedAt) < o.cfg.CacheDuration {
		o.mu.Unlock()
		return entry.price, nil
	}
	o.mu.Unlock()

	price, err := o.fetchWithRetry(ctx, asset)
	if err != nil {
		o.mu.Lock()
		entry, ok := o.cache[asset]
		o.mu.Unlock()
		if ok {
			log.Warn().
				Err(err).
				Str("asset", string(asset)).
				Time("fetched_at", entry.fetchedAt).
				Msg("Price fetch failed, serving stale cache")
			return entry.price, nil
		}
		return decimal.Zero, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, asset, err)
	}

	o.mu.Lock()
	o.cache[asset] = cacheEntry{price: price, fetchedAt: o.now()}
	o.mu.Unlock()

	return price, nil
}

func (o *Oracle) fetchWithRetry(ctx context.Context, asset model.Asset) (decimal.Decimal, error) {
	var lastErr error
	attempts := o.cfg.Retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := time.Duration(3+attempt*2) * time.Second
			log.Debug().
				Str("asset", string(asset)).
				Int("attempt", attempt).
				Dur("wait", wait).
				Msg("Retrying price fetch")
			if err := o.sleep(ctx, wait); err != nil {
				return decimal.Zero, err
			}
		}

		price, retryAfter, err := o.fetchOnce(ctx, asset)
		if err == nil {
			return price, nil
		}
		lastErr = err

		if retryAfter > 0 {
			if max := o.cfg.MaxRetryWait; max > 0 && retryAfter > max {
				retryAfter = max
			}
			log.Warn().
				Str("asset", string(asset)).
				Dur("retry_after", retryAfter).
				Msg("Rate limited by price API")
			if err := o.sleep(ctx, retryAfter); err != nil {
				return decimal.Zero, err
			}
		}
	}
	return decimal.Zero, lastErr
}

// fetchOnce performs a single upstream request, honoring the global
// minimum spacing between API calls. The returned duration is non-zero
// only for HTTP 429 responses carrying a Retry-After header.
func (o *Oracle) fetchOnce(ctx context.Context, asset model.Asset) (decimal.Decimal, time.Duration, error) {
	if err := o.pace(ctx); err != nil {
		return decimal.Zero, 0, err
	}

	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd",
		o.cfg.BaseURL, url.QueryEscape(string(asset)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("failed to build price request: %w", err)
	}
	if o.cfg.APIKey != "" {
		req.Header.Set("x-cg-pro-api-key", o.cfg.APIKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("price request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return decimal.Zero, retryAfter, fmt.Errorf("price API rate limited (429)")
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, 0, fmt.Errorf("price API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("failed to read price response: %w", err)
	}

	var payload map[string]map[string]json.Number
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Zero, 0, fmt.Errorf("failed to decode price response: %w", err)
	}
	quote, ok := payload[string(asset)]
	if !ok {
		return decimal.Zero, 0, fmt.Errorf("price response missing asset %s", asset)
	}
	raw, ok := quote["usd"]
	if !ok {
		return decimal.Zero, 0, fmt.Errorf("price response missing usd quote for %s", asset)
	}
	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("invalid usd quote %q for %s: %w", raw.String(), asset, err)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, 0, fmt.Errorf("non-positive usd quote %s for %s", price, asset)
	}
	return price, 0, nil
}

// pace enforces the global minimum interval between upstream calls.
func (o *Oracle) pace(ctx context.Context) error {
	for {
		o.mu.Lock()
		elapsed := o.now().Sub(o.lastCall)
		if elapsed >= o.cfg.MinAPIInterval {
			o.lastCall = o.now()
			o.mu.Unlock()
			return nil
		}
		wait := o.cfg.MinAPIInterval - elapsed
		o.mu.Unlock()
		if err := o.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 5 * time.Second
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 5 * time.Second
}
