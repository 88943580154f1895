package screener

import (
	"context"
	"fmt"
	"log"
	"sync"

	"MarketScreener/internal/model"
	"MarketScreener/internal/strategy"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"
)

// DefaultWorkers is the pool size used when none is configured.
const DefaultWorkers = 10

// HistoryProvider returns the cached price history of a symbol.
// A false result means the history is unavailable and the candidate is skipped.
type HistoryProvider interface {
	Fetch(ctx context.Context, symbol string) (*model.PriceHistory, bool)
}

// Outcome is the result of screening one candidate.
type Outcome struct {
	Symbol string
	Match  *model.ScreeningResult
	Reason strategy.SkipReason
	Err    error
}

// SkipFetchFailed marks a candidate whose history could not be obtained.
const SkipFetchFailed strategy.SkipReason = "fetch_failed"

// SkipPanicked marks a candidate whose evaluation panicked.
const SkipPanicked strategy.SkipReason = "panicked"

// Pool screens candidates concurrently with bounded parallelism.
type Pool struct {
	History HistoryProvider
	Workers int
}

// Run evaluates rule against every candidate and returns how many were processed.
//
// onResult is called for matches and onProgress once per processed candidate,
// both from the calling goroutine, so they never run concurrently. When ctx is
// cancelled no further candidates are dispatched, but those already dispatched
// finish and are reported before Run returns.
func (p *Pool) Run(ctx context.Context, candidates []model.CandidateQuote, rule strategy.Rule,
	onResult func(model.ScreeningResult), onProgress func(completed, total int)) int {

	total := len(candidates)
	if total == 0 {
		return 0
	}
	workers := p.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	sem := semaphore.NewWeighted(int64(workers))
	outcomes := make(chan Outcome, workers)
	workCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	go func() {
		defer func() {
			wg.Wait()
			close(outcomes)
		}()
		for _, c := range candidates {
			if ctx.Err() != nil {
				return
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			wg.Add(1)
			go func(c model.CandidateQuote) {
				defer wg.Done()
				defer sem.Release(1)
				outcomes <- p.screen(workCtx, c, rule)
			}(c)
		}
	}()

	completed := 0
	for o := range outcomes {
		completed++
		if o.Err != nil {
			log.Printf("[WARN] skip %s: %v", o.Symbol, o.Err)
		}
		if o.Match != nil && onResult != nil {
			onResult(*o.Match)
		}
		if onProgress != nil {
			onProgress(completed, total)
		}
	}
	return completed
}

// screen processes one candidate. Any panic is converted into a skipped outcome.
func (p *Pool) screen(ctx context.Context, c model.CandidateQuote, rule strategy.Rule) (out Outcome) {
	out.Symbol = c.Symbol
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Symbol: c.Symbol, Reason: SkipPanicked, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	history, ok := p.History.Fetch(ctx, c.Symbol)
	if !ok {
		out.Reason = SkipFetchFailed
		return out
	}
	if history.Len() < rule.MinBars() {
		out.Reason = strategy.SkipInsufficientHistory
		return out
	}

	verdict := rule.Evaluate(history.Closes())
	if !verdict.Matched {
		out.Reason = verdict.Reason
		return out
	}
	out.Match = buildResult(c, verdict.Latest)
	return out
}

func buildResult(c model.CandidateQuote, latest float64) *model.ScreeningResult {
	industry := c.Industry
	if industry == "" {
		industry = model.UnknownIndustry
	}
	var price float64
	if c.LastPrice != nil {
		price = *c.LastPrice
	}
	return &model.ScreeningResult{
		Symbol:        c.Symbol,
		Name:          c.Name,
		LastPrice:     price,
		Oscillator:    decimal.NewFromFloat(latest).Round(2).InexactFloat64(),
		ChangePercent: c.ChangePercent,
		Industry:      industry,
	}
}
