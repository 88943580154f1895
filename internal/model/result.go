package model

import "time"

// ScreeningResult is emitted once per matching candidate and never mutated afterwards.
type ScreeningResult struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	LastPrice     float64 `json:"last_price"`
	Oscillator    float64 `json:"rsi"`
	ChangePercent float64 `json:"change_percent"`
	Industry      string  `json:"industry"`
}

// RunStatus is the coordinator state.
type RunStatus string

const (
	StatusIdle      RunStatus = "idle"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status ends a run.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// RunSnapshot is a point-in-time copy of a run, safe to hand to other goroutines.
type RunSnapshot struct {
	Status     RunStatus         `json:"status"`
	Segment    MarketSegment     `json:"segment"`
	Days       int               `json:"days"`
	Period     int               `json:"period"`
	Threshold  float64           `json:"threshold"`
	Total      int               `json:"total"`
	Completed  int               `json:"completed"`
	Matches    []ScreeningResult `json:"matches"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at,omitempty"`
}

// Percent returns the run progress in the 0~100 range.
func (s RunSnapshot) Percent() float64 {
	return ProgressPercent(s.Completed, s.Total)
}

// ProgressPercent returns (completed / total) * 100, or 0 for an empty run.
func ProgressPercent(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(completed) / float64(total) * 100
}
