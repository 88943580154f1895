package screener

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"MarketScreener/internal/collector"
	"MarketScreener/internal/model"
	"MarketScreener/internal/strategy"
)

var (
	ErrAlreadyRunning = errors.New("a screening run is already in progress")
	ErrInvalidParams  = errors.New("invalid screening parameters")
)

// Params are the full settings of one screening run.
type Params struct {
	Segment       model.MarketSegment
	Days          int
	Period        int
	Threshold     float64
	MaxCandidates int
	Workers       int
}

// DefaultParams returns the stock screening settings: RSI(14) below 30 for 5 sessions.
func DefaultParams() Params {
	return Params{
		Segment:       model.SegmentAll,
		Days:          5,
		Period:        14,
		Threshold:     30,
		MaxCandidates: DefaultMaxCandidates,
		Workers:       DefaultWorkers,
	}
}

// Rule returns the predicate described by p.
func (p Params) Rule() strategy.Rule {
	return strategy.Rule{Days: p.Days, Period: p.Period, Threshold: p.Threshold}
}

// Validate checks p, wrapping ErrInvalidParams.
func (p Params) Validate() error {
	if !p.Segment.Valid() {
		return fmt.Errorf("%w: unknown market segment %q", ErrInvalidParams, p.Segment)
	}
	if err := p.Rule().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.Segment == "" {
		p.Segment = d.Segment
	}
	if p.Days == 0 {
		p.Days = d.Days
	}
	if p.Period == 0 {
		p.Period = d.Period
	}
	if p.Threshold == 0 {
		p.Threshold = d.Threshold
	}
	if p.MaxCandidates <= 0 {
		p.MaxCandidates = d.MaxCandidates
	}
	if p.Workers <= 0 {
		p.Workers = d.Workers
	}
	return p
}

// Request is a user-initiated run. Zero fields fall back to the coordinator defaults.
type Request struct {
	Segment model.MarketSegment `json:"segment"`
	Days    int                 `json:"days"`
}

// RunSummary describes a finished run.
type RunSummary struct {
	Status    model.RunStatus
	Total     int
	Processed int
	Matches   []model.ScreeningResult
	Duration  time.Duration
}

// Coordinator owns the screening lifecycle: snapshot, filtering, the worker
// pool and event delivery. At most one run is active at a time.
type Coordinator struct {
	snapshots collector.SnapshotSource
	history   HistoryProvider
	defaults  Params

	mu              sync.Mutex
	listeners       Listeners
	state           model.RunSnapshot
	running         bool
	cancelRequested bool
	cancel          context.CancelFunc
	done            chan struct{}
	runs            sync.WaitGroup

	now func() time.Time
}

// NewCoordinator creates an idle Coordinator. Zero fields of defaults take the stock values.
func NewCoordinator(snapshots collector.SnapshotSource, history HistoryProvider, defaults Params, listeners ...Listener) *Coordinator {
	return &Coordinator{
		snapshots: snapshots,
		history:   history,
		defaults:  defaults.withDefaults(),
		listeners: listeners,
		state:     model.RunSnapshot{Status: model.StatusIdle},
		now:       time.Now,
	}
}

// AddListener registers l for subsequent runs.
func (c *Coordinator) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Defaults returns the parameters used for zero request fields.
func (c *Coordinator) Defaults() Params {
	return c.defaults
}

// Run executes a screening run and blocks until it ends.
// A snapshot failure is reported both to listeners and as the returned error.
func (c *Coordinator) Run(ctx context.Context, req Request) (*RunSummary, error) {
	p, err := c.resolve(req)
	if err != nil {
		return nil, err
	}
	runCtx, listeners, err := c.begin(ctx, p)
	if err != nil {
		return nil, err
	}
	return c.execute(runCtx, p, listeners)
}

// Start launches a run in the background. ctx bounds the run's lifetime, so
// callers should not pass a request-scoped context.
func (c *Coordinator) Start(ctx context.Context, req Request) error {
	p, err := c.resolve(req)
	if err != nil {
		return err
	}
	runCtx, listeners, err := c.begin(ctx, p)
	if err != nil {
		return err
	}
	c.runs.Add(1)
	go func() {
		defer c.runs.Done()
		if _, err := c.execute(runCtx, p, listeners); err != nil {
			log.Printf("[ERROR] screening run: %v", err)
		}
	}()
	return nil
}

// Cancel stops dispatching new candidates for the active run.
// Candidates already in flight still complete and are reported.
// It returns false if no run is active.
func (c *Coordinator) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return false
	}
	c.cancelRequested = true
	c.cancel()
	return true
}

// Running reports whether a run is active.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Status returns a copy of the active or most recent run.
func (c *Coordinator) Status() model.RunSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.Matches = append([]model.ScreeningResult(nil), c.state.Matches...)
	return s
}

// Wait blocks until the active run, if any, has reached its terminal state.
func (c *Coordinator) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Drain blocks until every run launched with Start has returned, terminal
// event included. It must not be called from a listener.
func (c *Coordinator) Drain() {
	c.runs.Wait()
}

func (c *Coordinator) resolve(req Request) (Params, error) {
	p := c.defaults
	if req.Segment != "" {
		p.Segment = req.Segment
	}
	if req.Days != 0 {
		p.Days = req.Days
	}
	return p, p.Validate()
}

func (c *Coordinator) begin(ctx context.Context, p Params) (context.Context, Listeners, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil, nil, ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancelRequested = false
	c.cancel = cancel
	c.done = make(chan struct{})
	c.state = model.RunSnapshot{
		Status:    model.StatusRunning,
		Segment:   p.Segment,
		Days:      p.Days,
		Period:    p.Period,
		Threshold: p.Threshold,
		StartedAt: c.now(),
	}
	listeners := append(Listeners(nil), c.listeners...)
	return runCtx, listeners, nil
}

func (c *Coordinator) execute(ctx context.Context, p Params, ls Listeners) (*RunSummary, error) {
	log.Printf("[INFO] screening started: segment=%s days=%d RSI(%d)<%.1f", p.Segment, p.Days, p.Period, p.Threshold)
	snapshot, err := c.snapshots.Snapshot(ctx)
	if err != nil {
		if c.cancelled() {
			return c.end(ls, model.StatusCancelled, nil), nil
		}
		err = fmt.Errorf("fetch snapshot: %w", err)
		return c.end(ls, model.StatusCompleted, err), err
	}

	ls.OnStatusChange(model.StatusRunning, "")
	candidates := Select(snapshot, p.Segment, p.MaxCandidates)
	c.update(func(s *model.RunSnapshot) { s.Total = len(candidates) })
	log.Printf("[INFO] %d candidates selected from %d quotes", len(candidates), len(snapshot))

	pool := &Pool{History: c.history, Workers: p.Workers}
	pool.Run(ctx, candidates, p.Rule(),
		func(r model.ScreeningResult) {
			c.update(func(s *model.RunSnapshot) { s.Matches = append(s.Matches, r) })
			ls.OnMatch(r)
		},
		func(completed, total int) {
			c.update(func(s *model.RunSnapshot) { s.Completed = completed })
			ls.OnProgress(completed, total)
		})

	status := model.StatusCompleted
	if c.cancelled() {
		status = model.StatusCancelled
	}
	return c.end(ls, status, nil), nil
}

// end records the terminal state, returns the coordinator to idle and only
// then emits the terminal event, so listeners may start the next run.
func (c *Coordinator) end(ls Listeners, status model.RunStatus, err error) *RunSummary {
	var errMsg string
	if err != nil {
		errMsg = err.Error()
	}
	snap := c.finish(status, errMsg)
	log.Printf("[INFO] screening %s: %d/%d processed, %d matches", status, snap.Completed, snap.Total, len(snap.Matches))
	ls.OnStatusChange(status, errMsg)

	return &RunSummary{
		Status:    status,
		Total:     snap.Total,
		Processed: snap.Completed,
		Matches:   snap.Matches,
		Duration:  snap.FinishedAt.Sub(snap.StartedAt),
	}
}

func (c *Coordinator) finish(status model.RunStatus, errMsg string) model.RunSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Status = status
	c.state.Error = errMsg
	c.state.FinishedAt = c.now()
	c.cancel()
	c.running = false
	close(c.done)

	s := c.state
	s.Matches = append([]model.ScreeningResult(nil), c.state.Matches...)
	return s
}

func (c *Coordinator) cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelRequested
}

func (c *Coordinator) update(fn func(s *model.RunSnapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.state)
}
