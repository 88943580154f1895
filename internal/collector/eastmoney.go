package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"MarketScreener/internal/model"
)

const (
	eastMoneySnapshotURL = "https://82.push2.eastmoney.com/api/qt/clist/get"
	eastMoneyHistoryURL  = "https://push2his.eastmoney.com/api/qt/stock/kline/get"

	// Shanghai and Shenzhen A-share boards.
	eastMoneyAShareFilter = "m:0 t:6,m:0 t:80,m:1 t:2,m:1 t:23,m:0 t:81 s:2048"
)

// EastMoneySource implements SnapshotSource and HistorySource using the
// public EastMoney quote endpoints.
type EastMoneySource struct {
	SnapshotURL string
	HistoryURL  string
	HistoryDays int
	PageSize    int
	Client      *http.Client
}

// NewEastMoneySource creates a new EastMoney source with optional proxy support.
func NewEastMoneySource(proxyURL string, historyDays int) *EastMoneySource {
	return &EastMoneySource{
		SnapshotURL: eastMoneySnapshotURL,
		HistoryURL:  eastMoneyHistoryURL,
		HistoryDays: historyDays,
		PageSize:    5000,
		Client:      newHTTPClient(proxyURL, 30*time.Second),
	}
}

func (s *EastMoneySource) Name() string { return "eastmoney" }

// emQuote is one row of the clist response. Numeric fields come back as "-" when missing.
type emQuote struct {
	Price    interface{} `json:"f2"`
	Change   interface{} `json:"f3"`
	Volume   interface{} `json:"f5"`
	Code     string      `json:"f12"`
	Name     string      `json:"f14"`
	Industry interface{} `json:"f100"`
}

type emSnapshotResponse struct {
	Data *struct {
		Total int       `json:"total"`
		Diff  []emQuote `json:"diff"`
	} `json:"data"`
}

type emKlineResponse struct {
	Data *struct {
		Code   string   `json:"code"`
		Name   string   `json:"name"`
		Klines []string `json:"klines"`
	} `json:"data"`
}

// Snapshot pages through the A-share listing.
func (s *EastMoneySource) Snapshot(ctx context.Context) ([]model.CandidateQuote, error) {
	var quotes []model.CandidateQuote
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("pn", strconv.Itoa(page))
		q.Set("pz", strconv.Itoa(s.PageSize))
		q.Set("po", "1")
		q.Set("np", "1")
		q.Set("ut", "bd1d9ddb04089700cf9c27f6f7426281")
		q.Set("fltt", "2")
		q.Set("invt", "2")
		q.Set("fid", "f3")
		q.Set("fs", eastMoneyAShareFilter)
		q.Set("fields", "f2,f3,f5,f12,f14,f100")

		var resp emSnapshotResponse
		if err := s.getJSON(ctx, s.SnapshotURL+"?"+q.Encode(), &resp); err != nil {
			return nil, snapshotErr(s.Name(), err)
		}
		if resp.Data == nil || len(resp.Data.Diff) == 0 {
			break
		}
		for _, row := range resp.Data.Diff {
			quotes = append(quotes, row.toQuote())
		}
		if len(quotes) >= resp.Data.Total {
			break
		}
	}
	if len(quotes) == 0 {
		return nil, snapshotErr(s.Name(), ErrNoData)
	}
	return quotes, nil
}

func (r emQuote) toQuote() model.CandidateQuote {
	q := model.CandidateQuote{Symbol: r.Code, Name: r.Name}
	if p, ok := toFloat(r.Price); ok {
		q.LastPrice = &p
	}
	q.ChangePercent, _ = toFloat(r.Change)
	q.Volume, _ = toFloat(r.Volume)
	if ind, ok := r.Industry.(string); ok && ind != "-" {
		q.Industry = ind
	}
	return q
}

// History fetches forward-adjusted daily bars.
func (s *EastMoneySource) History(ctx context.Context, symbol string) (*model.PriceHistory, error) {
	q := url.Values{}
	q.Set("secid", eastMoneySecID(symbol))
	q.Set("ut", "7eea3edcaed734bea9cbfc24409ed989")
	q.Set("fields1", "f1,f2,f3,f4,f5,f6")
	q.Set("fields2", "f51,f52,f53,f54,f55,f56")
	q.Set("klt", "101")
	q.Set("fqt", "1")
	q.Set("beg", "0")
	q.Set("end", "20500000")
	if s.HistoryDays > 0 {
		q.Set("lmt", strconv.Itoa(s.HistoryDays))
	}

	var resp emKlineResponse
	if err := s.getJSON(ctx, s.HistoryURL+"?"+q.Encode(), &resp); err != nil {
		return nil, historyErr(s.Name(), symbol, err)
	}
	if resp.Data == nil {
		return nil, historyErr(s.Name(), symbol, ErrUnknownSymbol)
	}
	if len(resp.Data.Klines) == 0 {
		return nil, historyErr(s.Name(), symbol, ErrNoData)
	}

	bars := make([]model.PriceBar, 0, len(resp.Data.Klines))
	for _, line := range resp.Data.Klines {
		bar, err := parseKline(line)
		if err != nil {
			return nil, historyErr(s.Name(), symbol, err)
		}
		bars = append(bars, bar)
	}
	// Ensure chronological order
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return &model.PriceHistory{Symbol: symbol, Bars: bars, FetchedAt: time.Now()}, nil
}

// parseKline decodes "date,open,close,high,low,volume".
func parseKline(line string) (model.PriceBar, error) {
	parts := strings.Split(line, ",")
	if len(parts) < 6 {
		return model.PriceBar{}, fmt.Errorf("malformed kline %q", line)
	}
	date, err := time.Parse("2006-01-02", parts[0])
	if err != nil {
		return model.PriceBar{}, fmt.Errorf("kline date: %w", err)
	}
	var v [5]float64
	for i := range v {
		if v[i], err = strconv.ParseFloat(parts[i+1], 64); err != nil {
			return model.PriceBar{}, fmt.Errorf("kline field %d: %w", i+1, err)
		}
	}
	return model.PriceBar{Date: date, Open: v[0], Close: v[1], High: v[2], Low: v[3], Volume: v[4]}, nil
}

// eastMoneySecID maps a bare A-share code to market.code (1 = Shanghai, 0 = Shenzhen).
func eastMoneySecID(symbol string) string {
	if strings.HasPrefix(symbol, "6") || strings.HasPrefix(symbol, "9") || strings.HasPrefix(symbol, "5") {
		return "1." + symbol
	}
	return "0." + symbol
}

func (s *EastMoneySource) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d, body: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
