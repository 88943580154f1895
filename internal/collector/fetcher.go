package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"MarketScreener/internal/model"
)

// SnapshotSource returns the full-market quote listing used to seed a run.
type SnapshotSource interface {
	Snapshot(ctx context.Context) ([]model.CandidateQuote, error)
	Name() string
}

// HistorySource returns the daily price history of one symbol.
type HistorySource interface {
	History(ctx context.Context, symbol string) (*model.PriceHistory, error)
	Name() string
}

var (
	ErrNoData        = errors.New("no data returned")
	ErrUnknownSymbol = errors.New("unknown symbol")
)

// DataSourceError reports a snapshot or history fetch failure.
type DataSourceError struct {
	Source string
	Op     string
	Symbol string
	Err    error
}

func (e *DataSourceError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Source, e.Op, e.Symbol, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Source, e.Op, e.Err)
}

func (e *DataSourceError) Unwrap() error { return e.Err }

func snapshotErr(source string, err error) error {
	return &DataSourceError{Source: source, Op: "snapshot", Err: err}
}

func historyErr(source, symbol string, err error) error {
	return &DataSourceError{Source: source, Op: "history", Symbol: symbol, Err: err}
}

// newHTTPClient builds a client with optional proxy support.
func newHTTPClient(proxyURL string, timeout time.Duration) *http.Client {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// toFloat converts a loosely typed JSON number. Strings such as "-" report false.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
