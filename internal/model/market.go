package model

import (
	"fmt"
	"time"
)

// PriceBar represents a single daily candlestick bar.
type PriceBar struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// PriceHistory holds the chronological daily bars of one instrument.
// Once handed out by the history cache it must be treated as read-only.
type PriceHistory struct {
	Symbol    string
	Bars      []PriceBar
	FetchedAt time.Time
}

// Len returns the number of bars.
func (h *PriceHistory) Len() int {
	if h == nil {
		return 0
	}
	return len(h.Bars)
}

// Closes extracts the close prices in chronological order.
func (h *PriceHistory) Closes() []float64 {
	closes := make([]float64, len(h.Bars))
	for i, b := range h.Bars {
		closes[i] = b.Close
	}
	return closes
}

// Validate checks that bar dates are strictly increasing.
func (h *PriceHistory) Validate() error {
	for i := 1; i < len(h.Bars); i++ {
		if !h.Bars[i].Date.After(h.Bars[i-1].Date) {
			return fmt.Errorf("history %s: bar %d (%s) not after %s", h.Symbol, i,
				h.Bars[i].Date.Format("2006-01-02"), h.Bars[i-1].Date.Format("2006-01-02"))
		}
	}
	return nil
}
