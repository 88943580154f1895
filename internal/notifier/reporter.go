package notifier

import (
	"context"
	"fmt"
	"log"
	"sync"

	"MarketScreener/internal/model"
)

// Sender delivers a formatted message.
type Sender interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// RunStatusProvider exposes the state of the current or last run.
type RunStatusProvider interface {
	Status() model.RunSnapshot
}

// ReportError is a run report that could not be delivered.
type ReportError struct {
	Status model.RunStatus
	Err    error
}

func (e *ReportError) Error() string {
	return fmt.Sprintf("deliver %s run report: %v", e.Status, e.Err)
}

func (e *ReportError) Unwrap() error { return e.Err }

// TelegramReporter is a run listener that sends one report when a run ends.
// Sends happen off the event goroutine so a slow API never stalls a run.
type TelegramReporter struct {
	ctx     context.Context
	sender  Sender
	runs    RunStatusProvider
	retries int

	wg sync.WaitGroup
}

// NewTelegramReporter creates a reporter. ctx bounds retries of pending sends.
func NewTelegramReporter(ctx context.Context, sender Sender, runs RunStatusProvider) *TelegramReporter {
	return &TelegramReporter{ctx: ctx, sender: sender, runs: runs, retries: 3}
}

func (r *TelegramReporter) OnMatch(model.ScreeningResult) {}

func (r *TelegramReporter) OnProgress(int, int) {}

func (r *TelegramReporter) OnStatusChange(status model.RunStatus, errMsg string) {
	if !status.Terminal() {
		return
	}
	run := r.runs.Status()
	run.Status = status
	run.Error = errMsg
	report := FormatRunReport(run)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.sender.SendWithRetry(r.ctx, report, r.retries); err != nil {
			log.Printf("[ERROR] %v", &ReportError{Status: status, Err: err})
		}
	}()
}

// Wait blocks until pending reports have been sent or abandoned.
func (r *TelegramReporter) Wait() {
	r.wg.Wait()
}
