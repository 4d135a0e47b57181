// Package quotecache keeps recently fetched quotes so trades and overviews
// do not hit the upstream provider on every request.
package quotecache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/dgraph-io/ristretto"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/vadiminshakov/stockfolio/internal/domain"
)

const (
	defaultTimeout     = 5 * time.Second
	defaultMaxEntries  = 10_000
	defaultBasketLimit = 8
	warmupPoolSize     = 8
)

// Provider fetches a single quote from an upstream source.
type Provider interface {
	FetchQuote(ctx context.Context, symbol string) (domain.Quote, error)
}

// Policy is the freshness window for one quote kind. A zero TTL never expires.
type Policy struct {
	TTL time.Duration
}

// DefaultPolicies returns the windows used when none are configured.
func DefaultPolicies() map[domain.QuoteKind]Policy {
	return map[domain.QuoteKind]Policy{
		domain.QuoteLive:      {TTL: 60 * time.Second},
		domain.QuoteReference: {TTL: 0},
		domain.QuoteBursty:    {TTL: 30 * time.Second},
	}
}

// Stats counts cache lookups since start or the last Reset.
type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Fetches uint64 `json:"fetches"`
	Errors  uint64 `json:"errors"`
}

// Cache is a freshness-aware quote cache. Concurrent misses for the same key
// share a single provider call, and failed fetches are never stored.
type Cache struct {
	provider    Provider
	store       *ristretto.Cache
	flights     singleflight.Group
	policies    map[domain.QuoteKind]Policy
	timeout     time.Duration
	maxEntries  int64
	basketLimit int
	now         func() time.Time
	logger      *zap.Logger
	pool        gopool.Pool

	hits, misses, fetches, errs atomic.Uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now for freshness checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTimeout bounds every provider call.
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithPolicy overrides the window of one kind.
func WithPolicy(kind domain.QuoteKind, ttl time.Duration) Option {
	return func(c *Cache) {
		c.policies[kind] = Policy{TTL: ttl}
	}
}

// WithMaxEntries bounds the number of stored quotes.
func WithMaxEntries(n int64) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithBasketConcurrency limits parallel fetches in Basket.
func WithBasketConcurrency(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.basketLimit = n
		}
	}
}

// New creates a cache in front of provider.
func New(provider Provider, opts ...Option) (*Cache, error) {
	if provider == nil {
		return nil, errors.New("quote provider is nil")
	}

	c := &Cache{
		provider:    provider,
		policies:    DefaultPolicies(),
		timeout:     defaultTimeout,
		maxEntries:  defaultMaxEntries,
		basketLimit: defaultBasketLimit,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	store, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        c.maxEntries * 10,
		MaxCost:            c.maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create quote store")
	}
	c.store = store

	c.pool = gopool.NewPool("quote-warmup", warmupPoolSize, gopool.NewConfig())
	c.pool.SetPanicHandler(func(_ context.Context, r interface{}) {
		c.logger.Error("quote warm-up panicked", zap.Any("panic", r))
	})

	return c, nil
}

// Get returns a fresh quote for symbol, fetching it when the cached one is missing or stale.
// Errors are the provider's classified failures; see domain.QuoteCauseOf.
func (c *Cache) Get(ctx context.Context, symbol string, kind domain.QuoteKind) (domain.Quote, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" {
		return domain.Quote{}, errors.Wrap(domain.ErrQuoteNotFound, "empty symbol")
	}
	policy, ok := c.policies[kind]
	if !ok {
		return domain.Quote{}, domain.Validationf("unknown quote kind %q", kind)
	}

	k := key(kind, symbol)
	if q, ok := c.lookup(k); ok {
		c.hits.Add(1)
		return q, nil
	}
	c.misses.Add(1)

	ch := c.flights.DoChan(k, func() (interface{}, error) {
		// a flight that finished just before this one may have filled the key
		if q, ok := c.lookup(k); ok {
			return q, nil
		}
		return c.fetch(ctx, k, symbol, policy)
	})

	select {
	case <-ctx.Done():
		return domain.Quote{}, errors.Wrapf(domain.ErrQuoteTimeout, "%s: %v", symbol, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return domain.Quote{}, res.Err
		}
		return res.Val.(domain.Quote), nil
	}
}

// fetch runs detached from the caller's cancellation so that other waiters on the
// same flight still get the result; it is bounded by the provider timeout instead.
func (c *Cache) fetch(ctx context.Context, k, symbol string, policy Policy) (domain.Quote, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	c.fetches.Add(1)
	q, err := c.provider.FetchQuote(fctx, symbol)
	if err == nil && !q.Price.IsPositive() {
		err = errors.Wrapf(domain.ErrQuoteProvider, "non-positive price %s for %s", q.Price, symbol)
	}
	if err != nil {
		if fctx.Err() != nil && !errors.Is(err, domain.ErrQuoteTimeout) {
			err = errors.Wrapf(domain.ErrQuoteTimeout, "%s: %v", symbol, err)
		}
		c.errs.Add(1)
		c.logger.Debug("quote fetch failed",
			zap.String("symbol", symbol),
			zap.String("cause", string(domain.QuoteCauseOf(err))),
			zap.Error(err))
		return domain.Quote{}, err
	}

	q.Symbol = symbol
	q.FetchedAt = c.now()
	q.TTL = policy.TTL

	c.store.Set(k, q, 1)
	c.store.Wait()

	return q, nil
}

func (c *Cache) lookup(k string) (domain.Quote, bool) {
	v, ok := c.store.Get(k)
	if !ok {
		return domain.Quote{}, false
	}
	q, ok := v.(domain.Quote)
	if !ok || !q.FreshAt(c.now()) {
		return domain.Quote{}, false
	}
	return q, true
}

// Basket fetches several symbols in parallel. Symbols that fail are left out;
// the rest keep their input order, and duplicates are fetched once.
func (c *Cache) Basket(ctx context.Context, symbols []string, kind domain.QuoteKind) []domain.Quote {
	unique := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		s = domain.NormalizeSymbol(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		unique = append(unique, s)
	}

	results := make([]*domain.Quote, len(unique))
	g := new(errgroup.Group)
	g.SetLimit(c.basketLimit)
	for i, symbol := range unique {
		g.Go(func() error {
			q, err := c.Get(ctx, symbol, kind)
			if err != nil {
				c.logger.Warn("basket quote skipped", zap.String("symbol", symbol), zap.Error(err))
				return nil
			}
			results[i] = &q
			return nil
		})
	}
	_ = g.Wait()

	quotes := make([]domain.Quote, 0, len(results))
	for _, q := range results {
		if q != nil {
			quotes = append(quotes, *q)
		}
	}
	return quotes
}

// Warm prefetches symbols in the background. It returns immediately.
func (c *Cache) Warm(symbols []string, kind domain.QuoteKind) {
	for _, symbol := range symbols {
		c.pool.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
			defer cancel()
			if _, err := c.Get(ctx, symbol, kind); err != nil {
				c.logger.Warn("quote warm-up failed", zap.String("symbol", symbol), zap.Error(err))
			}
		})
	}
}

// Invalidate drops every cached kind of symbol.
func (c *Cache) Invalidate(symbol string) {
	symbol = domain.NormalizeSymbol(symbol)
	for kind := range c.policies {
		c.store.Del(key(kind, symbol))
	}
	c.store.Wait()
}

// Reset empties the cache and its counters.
func (c *Cache) Reset() {
	c.store.Clear()
	c.hits.Store(0)
	c.misses.Store(0)
	c.fetches.Store(0)
	c.errs.Store(0)
}

func (c *Cache) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Fetches: c.fetches.Load(),
		Errors:  c.errs.Load(),
	}
}

// Close releases the underlying store.
func (c *Cache) Close() {
	c.store.Close()
}

func key(kind domain.QuoteKind, symbol string) string {
	return string(kind) + ":" + symbol
}
