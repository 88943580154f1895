package screener

import (
	"log"

	"MarketScreener/internal/model"
)

// Listener receives run events. All calls for one run come from a single
// goroutine, in order; implementations that render elsewhere must hand off
// the events themselves.
type Listener interface {
	OnMatch(result model.ScreeningResult)
	OnProgress(completed, total int)
	OnStatusChange(status model.RunStatus, errMsg string)
}

// Listeners fans events out to every listener in order.
type Listeners []Listener

func (ls Listeners) OnMatch(result model.ScreeningResult) {
	for _, l := range ls {
		l.OnMatch(result)
	}
}

func (ls Listeners) OnProgress(completed, total int) {
	for _, l := range ls {
		l.OnProgress(completed, total)
	}
}

func (ls Listeners) OnStatusChange(status model.RunStatus, errMsg string) {
	for _, l := range ls {
		l.OnStatusChange(status, errMsg)
	}
}

// ListenerFuncs adapts plain functions to a Listener. Nil fields are ignored.
type ListenerFuncs struct {
	Match    func(model.ScreeningResult)
	Progress func(completed, total int)
	Status   func(status model.RunStatus, errMsg string)
}

func (f ListenerFuncs) OnMatch(result model.ScreeningResult) {
	if f.Match != nil {
		f.Match(result)
	}
}

func (f ListenerFuncs) OnProgress(completed, total int) {
	if f.Progress != nil {
		f.Progress(completed, total)
	}
}

func (f ListenerFuncs) OnStatusChange(status model.RunStatus, errMsg string) {
	if f.Status != nil {
		f.Status(status, errMsg)
	}
}

// LogListener writes run events to the standard logger, reporting progress
// every 10%.
type LogListener struct {
	lastStep int
}

// NewLogListener creates a LogListener.
func NewLogListener() *LogListener {
	return &LogListener{lastStep: -1}
}

func (l *LogListener) OnMatch(r model.ScreeningResult) {
	log.Printf("[INFO] match %s %s RSI=%.2f price=%.2f change=%+.2f%% industry=%s",
		r.Symbol, r.Name, r.Oscillator, r.LastPrice, r.ChangePercent, r.Industry)
}

func (l *LogListener) OnProgress(completed, total int) {
	step := int(model.ProgressPercent(completed, total)) / 10
	if step == l.lastStep {
		return
	}
	l.lastStep = step
	log.Printf("[INFO] progress %d/%d (%.0f%%)", completed, total, model.ProgressPercent(completed, total))
}

func (l *LogListener) OnStatusChange(status model.RunStatus, errMsg string) {
	switch {
	case errMsg != "":
		log.Printf("[ERROR] run %s: %s", status, errMsg)
	default:
		log.Printf("[INFO] run %s", status)
	}
	if status == model.StatusRunning {
		l.lastStep = -1
	}
}
