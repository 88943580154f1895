package collector

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"MarketScreener/internal/model"
)

// MockSource returns controllable fixed data for development and testing.
// Configure it before use; it is read-only while a run is in progress.
type MockSource struct {
	Quotes      []model.CandidateQuote
	Histories   map[string]*model.PriceHistory
	SnapshotErr error
	HistoryErrs map[string]error
	Delay       time.Duration
	// OnHistory, if set, is called at the start of every History call.
	OnHistory func(ctx context.Context, symbol string)

	mu    sync.Mutex
	calls map[string]int
}

// NewMockSource creates an empty MockSource.
func NewMockSource() *MockSource {
	return &MockSource{
		Histories:   map[string]*model.PriceHistory{},
		HistoryErrs: map[string]error{},
		calls:       map[string]int{},
	}
}

func (m *MockSource) Name() string { return "mock" }

// AddCandidate registers a quote for symbol whose history has the given closes.
// The last close is used as the quote's last price.
func (m *MockSource) AddCandidate(symbol string, volume float64, closes []float64) {
	var last *float64
	if len(closes) > 0 {
		p := closes[len(closes)-1]
		last = &p
	}
	m.Quotes = append(m.Quotes, model.CandidateQuote{
		Symbol:    symbol,
		Name:      "MOCK" + symbol,
		LastPrice: last,
		Volume:    volume,
	})
	if closes != nil {
		m.Histories[symbol] = &model.PriceHistory{Symbol: symbol, Bars: BarsFromCloses(closes)}
	}
}

func (m *MockSource) Snapshot(ctx context.Context) ([]model.CandidateQuote, error) {
	if err := m.wait(ctx); err != nil {
		return nil, snapshotErr(m.Name(), err)
	}
	if m.SnapshotErr != nil {
		return nil, snapshotErr(m.Name(), m.SnapshotErr)
	}
	out := make([]model.CandidateQuote, len(m.Quotes))
	copy(out, m.Quotes)
	return out, nil
}

func (m *MockSource) History(ctx context.Context, symbol string) (*model.PriceHistory, error) {
	m.mu.Lock()
	if m.calls == nil {
		m.calls = map[string]int{}
	}
	m.calls[symbol]++
	m.mu.Unlock()

	if m.OnHistory != nil {
		m.OnHistory(ctx, symbol)
	}
	if err := m.wait(ctx); err != nil {
		return nil, historyErr(m.Name(), symbol, err)
	}
	if err, ok := m.HistoryErrs[symbol]; ok {
		return nil, historyErr(m.Name(), symbol, err)
	}
	h, ok := m.Histories[symbol]
	if !ok {
		return nil, historyErr(m.Name(), symbol, ErrUnknownSymbol)
	}
	return h, nil
}

// HistoryCalls returns how many times History was called for symbol.
func (m *MockSource) HistoryCalls(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[symbol]
}

// TotalHistoryCalls returns the number of History calls across all symbols.
func (m *MockSource) TotalHistoryCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

func (m *MockSource) wait(ctx context.Context) error {
	if m.Delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.Delay):
		return nil
	}
}

// BarsFromCloses builds consecutive weekday bars ending today from close prices.
func BarsFromCloses(closes []float64) []model.PriceBar {
	bars := make([]model.PriceBar, len(closes))
	day := time.Now().UTC().Truncate(24 * time.Hour)
	for i := len(closes) - 1; i >= 0; i-- {
		for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			day = day.AddDate(0, 0, -1)
		}
		c := closes[i]
		bars[i] = model.PriceBar{
			Date:   day,
			Open:   c,
			High:   c * 1.005,
			Low:    c * 0.995,
			Close:  c,
			Volume: 1000000,
		}
		day = day.AddDate(0, 0, -1)
	}
	return bars
}

// NewDemoSource generates a deterministic universe of n A-share-like symbols.
// Every fifth symbol is in a steady decline, so a default run finds matches.
func NewDemoSource(n, bars int) *MockSource {
	m := NewMockSource()
	for i := 0; i < n; i++ {
		prefix := "600"
		if i%2 == 1 {
			prefix = "000"
		}
		symbol := fmt.Sprintf("%s%03d", prefix, i)
		m.AddCandidate(symbol, float64((n-i)*10000), generateDemoCloses(10+float64(i%7), bars, i%5 == 0))
		m.Quotes[len(m.Quotes)-1].ChangePercent = float64(i%9) - 4
	}
	return m
}

func generateDemoCloses(basePrice float64, count int, declining bool) []float64 {
	closes := make([]float64, count)
	for i := 0; i < count; i++ {
		if declining {
			closes[i] = basePrice * math.Pow(0.996, float64(i))
			continue
		}
		wave := math.Sin(float64(i)/3) * 0.02
		closes[i] = basePrice * (1 + 0.001*float64(i) + wave)
	}
	return closes
}
