package collector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"MarketScreener/internal/model"

	"golang.org/x/sync/errgroup"
)

// MirrorStats summarizes a Mirror call.
type MirrorStats struct {
	Quotes  int
	Symbols int
	Failed  int
}

// Mirror copies quotes and the history of each quote's symbol into dst.
// Per-symbol history failures are logged and counted; only storage errors abort.
func Mirror(ctx context.Context, dst *SQLiteSource, history HistorySource, quotes []model.CandidateQuote, workers int) (MirrorStats, error) {
	stats := MirrorStats{Quotes: len(quotes)}
	if err := dst.SaveQuotes(ctx, quotes); err != nil {
		return stats, fmt.Errorf("save quotes: %w", err)
	}
	if workers <= 0 {
		workers = 4
	}

	var saved, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, q := range quotes {
		symbol := q.Symbol
		g.Go(func() error {
			h, err := history.History(gctx, symbol)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				var dse *DataSourceError
				if !errors.As(err, &dse) {
					err = historyErr(history.Name(), symbol, err)
				}
				log.Printf("[WARN] mirror: %v", err)
				failed.Add(1)
				return nil
			}
			if err := dst.SaveBars(gctx, symbol, h.Bars); err != nil {
				return fmt.Errorf("save bars %s: %w", symbol, err)
			}
			if n := saved.Add(1); n%100 == 0 {
				log.Printf("[INFO] mirrored %d/%d symbols", n, len(quotes))
			}
			return nil
		})
	}
	err := g.Wait()
	stats.Symbols = int(saved.Load())
	stats.Failed = int(failed.Load())
	return stats, err
}
