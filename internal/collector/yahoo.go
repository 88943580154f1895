package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"MarketScreener/internal/model"
)

// YahooSource implements HistorySource using the Yahoo Finance chart API.
// It has no market listing, so it is only used for history.
type YahooSource struct {
	BaseURL     string
	HistoryDays int
	Client      *http.Client
	SymbolMap   map[string]string // maps internal symbol to Yahoo ticker
}

// NewYahooSource creates a new Yahoo Finance history source.
func NewYahooSource(proxyURL string, historyDays int) *YahooSource {
	return &YahooSource{
		BaseURL:     "https://query1.finance.yahoo.com",
		HistoryDays: historyDays,
		Client:      newHTTPClient(proxyURL, 30*time.Second),
		SymbolMap:   map[string]string{},
	}
}

func (f *YahooSource) Name() string { return "yahoo" }

// yahooSymbol maps bare A-share codes onto Yahoo's exchange suffixes.
func (f *YahooSource) yahooSymbol(symbol string) string {
	if mapped, ok := f.SymbolMap[symbol]; ok {
		return mapped
	}
	if len(symbol) != 6 || strings.Contains(symbol, ".") {
		return symbol
	}
	switch symbol[0] {
	case '6', '9', '5':
		return symbol + ".SS"
	case '0', '2', '3', '1':
		return symbol + ".SZ"
	}
	return symbol
}

// yahooChart is the response structure from Yahoo Finance chart API.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []interface{} `json:"open"`
					High   []interface{} `json:"high"`
					Low    []interface{} `json:"low"`
					Close  []interface{} `json:"close"`
					Volume []interface{} `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func yahooRange(days int) string {
	switch {
	case days <= 0:
		return "2y"
	case days <= 30:
		return "3mo"
	case days <= 90:
		return "6mo"
	case days <= 180:
		return "1y"
	default:
		return "2y"
	}
}

// History fetches daily bars. Yahoo has no forward adjustment switch, so
// closes are the raw exchange closes.
func (f *YahooSource) History(ctx context.Context, symbol string) (*model.PriceHistory, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=%s",
		f.BaseURL, url.PathEscape(f.yahooSymbol(symbol)), yahooRange(f.HistoryDays))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, historyErr(f.Name(), symbol, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, historyErr(f.Name(), symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, historyErr(f.Name(), symbol, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, historyErr(f.Name(), symbol, ErrUnknownSymbol)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, historyErr(f.Name(), symbol, fmt.Errorf("status %d, body: %s", resp.StatusCode, string(body)))
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, historyErr(f.Name(), symbol, fmt.Errorf("decode: %w", err))
	}
	if chart.Chart.Error != nil {
		return nil, historyErr(f.Name(), symbol, fmt.Errorf("api error: %s", chart.Chart.Error.Description))
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Timestamp) == 0 ||
		len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, historyErr(f.Name(), symbol, ErrNoData)
	}

	result := chart.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	bars := make([]model.PriceBar, 0, len(result.Timestamp))

	for i, ts := range result.Timestamp {
		c, ok := at(quote.Close, i)
		if !ok {
			continue // skip null bars (holidays etc.)
		}
		o, _ := at(quote.Open, i)
		h, _ := at(quote.High, i)
		l, _ := at(quote.Low, i)
		v, _ := at(quote.Volume, i)
		bars = append(bars, model.PriceBar{
			Date:   time.Unix(ts, 0).UTC().Truncate(24 * time.Hour),
			Open:   o,
			High:   h,
			Low:    l,
			Close:  c,
			Volume: v,
		})
	}
	if len(bars) == 0 {
		return nil, historyErr(f.Name(), symbol, ErrNoData)
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	bars = dedupeDays(bars)
	if f.HistoryDays > 0 && len(bars) > f.HistoryDays {
		bars = bars[len(bars)-f.HistoryDays:]
	}
	return &model.PriceHistory{Symbol: symbol, Bars: bars, FetchedAt: time.Now()}, nil
}

// dedupeDays keeps the last bar of each date. The chart API may append the
// live session after a daily bar stamped with the same day.
func dedupeDays(bars []model.PriceBar) []model.PriceBar {
	out := bars[:0]
	for _, b := range bars {
		if n := len(out); n > 0 && out[n-1].Date.Equal(b.Date) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}

func at(values []interface{}, i int) (float64, bool) {
	if i >= len(values) {
		return 0, false
	}
	return toFloat(values[i])
}
