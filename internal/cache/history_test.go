package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"MarketScreener/internal/collector"
	"MarketScreener/internal/model"
)

func newSource(symbols ...string) *collector.MockSource {
	m := collector.NewMockSource()
	for _, s := range symbols {
		m.AddCandidate(s, 1, []float64{1, 2, 3, 4})
	}
	return m
}

func TestFetch_SecondCallIsHit(t *testing.T) {
	src := newSource("600000")
	c := New(src, Options{Capacity: 10})

	ctx := context.Background()
	h1, ok := c.Fetch(ctx, "600000")
	if !ok || h1 == nil {
		t.Fatal("expected history on first fetch")
	}
	h2, ok := c.Fetch(ctx, "600000")
	if !ok || h2 != h1 {
		t.Fatal("expected cached history on second fetch")
	}
	if n := src.HistoryCalls("600000"); n != 1 {
		t.Errorf("expected 1 upstream call, got %d", n)
	}
	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.Size != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestFetch_CapacityAndLRU(t *testing.T) {
	src := newSource("A", "B", "C", "D")
	c := New(src, Options{Capacity: 3})
	ctx := context.Background()

	for _, s := range []string{"A", "B", "C"} {
		c.Fetch(ctx, s)
	}
	c.Fetch(ctx, "A") // A becomes most recent, B is now oldest
	c.Fetch(ctx, "D") // evicts B

	if c.Len() != 3 {
		t.Fatalf("expected size 3, got %d", c.Len())
	}
	c.Fetch(ctx, "A")
	if n := src.HistoryCalls("A"); n != 1 {
		t.Errorf("A should still be cached, upstream calls = %d", n)
	}
	c.Fetch(ctx, "B")
	if n := src.HistoryCalls("B"); n != 2 {
		t.Errorf("B should have been evicted, upstream calls = %d", n)
	}
	if c.Len() > 3 {
		t.Errorf("cache exceeded capacity: %d", c.Len())
	}
}

func TestFetch_FailureNotCached(t *testing.T) {
	src := newSource()
	src.HistoryErrs["BAD"] = errors.New("network down")
	c := New(src, Options{Capacity: 5})
	ctx := context.Background()

	if h, ok := c.Fetch(ctx, "BAD"); ok || h != nil {
		t.Fatal("expected failed fetch")
	}
	if _, ok := c.Fetch(ctx, "BAD"); ok {
		t.Fatal("expected failed fetch")
	}
	if n := src.HistoryCalls("BAD"); n != 2 {
		t.Errorf("failures must be retried, upstream calls = %d", n)
	}
	if c.Len() != 0 {
		t.Errorf("failures must not be cached, size = %d", c.Len())
	}
	if st := c.Stats(); st.Failures != 2 {
		t.Errorf("expected 2 failures, got %d", st.Failures)
	}
}

func TestFetch_RejectsUnorderedHistory(t *testing.T) {
	src := newSource()
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	src.Histories["DUP"] = &model.PriceHistory{Symbol: "DUP", Bars: []model.PriceBar{
		{Date: day, Close: 1},
		{Date: day, Close: 2},
	}}
	c := New(src, Options{})
	if _, ok := c.Fetch(context.Background(), "DUP"); ok {
		t.Error("expected duplicate dates to be rejected")
	}
}

func TestFetch_Timeout(t *testing.T) {
	src := newSource("SLOW")
	src.Delay = time.Second
	c := New(src, Options{FetchTimeout: 20 * time.Millisecond})

	start := time.Now()
	if _, ok := c.Fetch(context.Background(), "SLOW"); ok {
		t.Fatal("expected timeout")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("fetch timeout not applied, took %v", time.Since(start))
	}
}

func TestFetch_CallerCancelDoesNotFailSharedLoad(t *testing.T) {
	src := newSource("600000")
	src.Delay = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	src.OnHistory = func(context.Context, string) { cancel() }
	c := New(src, Options{})

	if _, ok := c.Fetch(ctx, "600000"); !ok {
		t.Fatal("load should outlive the caller that started it")
	}
	src.OnHistory = nil
	if _, ok := c.Fetch(context.Background(), "600000"); !ok {
		t.Fatal("expected cached history")
	}
	if n := src.HistoryCalls("600000"); n != 1 {
		t.Errorf("expected one upstream call, got %d", n)
	}
}

func TestFetch_SourcePanicIsContained(t *testing.T) {
	src := newSource("BOOM")
	src.OnHistory = func(context.Context, string) { panic("decoder exploded") }
	c := New(src, Options{})
	if _, ok := c.Fetch(context.Background(), "BOOM"); ok {
		t.Error("expected failure from panicking source")
	}
}

func TestFetch_TTLExpiry(t *testing.T) {
	src := newSource("A")
	c := New(src, Options{TTL: time.Hour})
	now := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	ctx := context.Background()
	c.Fetch(ctx, "A")
	now = now.Add(30 * time.Minute)
	c.Fetch(ctx, "A")
	if n := src.HistoryCalls("A"); n != 1 {
		t.Fatalf("expected hit within TTL, upstream calls = %d", n)
	}
	now = now.Add(2 * time.Hour)
	c.Fetch(ctx, "A")
	if n := src.HistoryCalls("A"); n != 2 {
		t.Errorf("expected refetch after TTL, upstream calls = %d", n)
	}
}

func TestFetch_ConcurrentSameSymbol(t *testing.T) {
	symbols := make([]string, 20)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("S%02d", i)
	}
	src := newSource(symbols...)
	src.Delay = 5 * time.Millisecond
	c := New(src, Options{Capacity: 8})

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 40; i++ {
				s := symbols[(w+i)%len(symbols)]
				if h, ok := c.Fetch(context.Background(), s); !ok || h.Symbol != s {
					t.Errorf("fetch %s failed", s)
				}
			}
		}(w)
	}
	wg.Wait()

	if c.Len() > 8 {
		t.Errorf("cache exceeded capacity: %d", c.Len())
	}
}

func TestPurge(t *testing.T) {
	src := newSource("A", "B")
	c := New(src, Options{})
	c.Fetch(context.Background(), "A")
	c.Fetch(context.Background(), "B")
	c.Purge()
	if c.Len() != 0 {
		t.Errorf("expected empty cache, got %d", c.Len())
	}
}
