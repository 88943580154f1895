package cache

import (
	"container/list"
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"MarketScreener/internal/collector"
	"MarketScreener/internal/model"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultCapacity     = 100
	DefaultFetchTimeout = 10 * time.Second
)

// Options configures a HistoryCache.
type Options struct {
	Capacity     int
	TTL          time.Duration // 0 keeps entries for the process lifetime
	FetchTimeout time.Duration
}

// Stats counts cache activity since creation.
type Stats struct {
	Hits     int64
	Misses   int64
	Failures int64
	Size     int
}

type entry struct {
	symbol  string
	history *model.PriceHistory
	addedAt time.Time
}

// HistoryCache memoizes per-symbol price history with LRU eviction.
// Only successful fetches are cached; failures are reported as a miss and
// retried on the next call.
type HistoryCache struct {
	source collector.HistorySource
	opts   Options

	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
	stats Stats

	group singleflight.Group
	now   func() time.Time
}

// New creates a HistoryCache in front of source.
func New(source collector.HistorySource, opts Options) *HistoryCache {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	return &HistoryCache{
		source: source,
		opts:   opts,
		ll:     list.New(),
		items:  make(map[string]*list.Element),
		now:    time.Now,
	}
}

// Fetch returns the history of symbol, fetching it on a miss.
// It never returns an error: any failure is logged and reported as (nil, false).
func (c *HistoryCache) Fetch(ctx context.Context, symbol string) (*model.PriceHistory, bool) {
	if h, ok := c.get(symbol); ok {
		return h, true
	}

	v, err, _ := c.group.Do(symbol, func() (interface{}, error) {
		// another caller may have filled the entry while we waited
		if h, ok := c.peek(symbol); ok {
			return h, nil
		}
		h, err := c.load(ctx, symbol)
		if err != nil {
			return nil, err
		}
		c.add(symbol, h)
		return h, nil
	})
	if err != nil {
		c.mu.Lock()
		c.stats.Failures++
		c.mu.Unlock()
		log.Printf("[WARN] history %s unavailable: %v", symbol, err)
		return nil, false
	}
	return v.(*model.PriceHistory), true
}

func (c *HistoryCache) load(ctx context.Context, symbol string) (h *model.PriceHistory, err error) {
	// the load is shared by every caller waiting on symbol, so one caller
	// giving up must not fail the others
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.FetchTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("history source panic: %v", r)
		}
	}()

	h, err = c.source.History(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if h == nil || len(h.Bars) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, collector.ErrNoData)
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

func (c *HistoryCache) get(symbol string) (*model.PriceHistory, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.lookupLocked(symbol); ok {
		c.stats.Hits++
		return h, true
	}
	c.stats.Misses++
	return nil, false
}

func (c *HistoryCache) peek(symbol string) (*model.PriceHistory, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(symbol)
}

func (c *HistoryCache) lookupLocked(symbol string) (*model.PriceHistory, bool) {
	el, ok := c.items[symbol]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if c.opts.TTL > 0 && c.now().Sub(e.addedAt) > c.opts.TTL {
		c.ll.Remove(el)
		delete(c.items, symbol)
		return nil, false
	}
	c.ll.MoveToFront(el)
	return e.history, true
}

func (c *HistoryCache) add(symbol string, h *model.PriceHistory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[symbol]; ok {
		el.Value = &entry{symbol: symbol, history: h, addedAt: c.now()}
		c.ll.MoveToFront(el)
		return
	}
	c.items[symbol] = c.ll.PushFront(&entry{symbol: symbol, history: h, addedAt: c.now()})
	for c.ll.Len() > c.opts.Capacity {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*entry).symbol)
	}
}

// Len returns the number of cached symbols.
func (c *HistoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Purge drops every cached entry.
func (c *HistoryCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
}

// Stats returns a copy of the cache counters.
func (c *HistoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.ll.Len()
	return s
}
