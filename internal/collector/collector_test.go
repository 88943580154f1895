package collector

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"MarketScreener/internal/model"
)

func TestEastMoneySnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fs") == "" {
			t.Errorf("missing fs filter")
		}
		w.Write([]byte(`{"rc":0,"data":{"total":3,"diff":[
			{"f2":10.5,"f3":-1.2,"f5":12345,"f12":"600000","f14":"浦发银行","f100":"银行"},
			{"f2":"-","f3":"-","f5":"-","f12":"000004","f14":"退市股","f100":"-"},
			{"f2":3.21,"f3":0.5,"f5":999,"f12":"000001","f14":"平安银行","f100":"-"}
		]}}`))
	}))
	defer srv.Close()

	src := NewEastMoneySource("", 100)
	src.SnapshotURL = srv.URL
	quotes, err := src.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(quotes) != 3 {
		t.Fatalf("expected 3 quotes, got %d", len(quotes))
	}
	if quotes[0].LastPrice == nil || *quotes[0].LastPrice != 10.5 {
		t.Errorf("unexpected price %v", quotes[0].LastPrice)
	}
	if quotes[0].Industry != "银行" || quotes[0].Volume != 12345 || quotes[0].ChangePercent != -1.2 {
		t.Errorf("unexpected quote %+v", quotes[0])
	}
	if quotes[1].LastPrice != nil {
		t.Errorf("expected nil price for halted symbol, got %v", *quotes[1].LastPrice)
	}
	if quotes[2].Industry != "" {
		t.Errorf("expected empty industry, got %q", quotes[2].Industry)
	}
}

func TestEastMoneySnapshot_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	src := NewEastMoneySource("", 100)
	src.SnapshotURL = srv.URL
	_, err := src.Snapshot(context.Background())
	var dsErr *DataSourceError
	if !errors.As(err, &dsErr) {
		t.Fatalf("expected DataSourceError, got %v", err)
	}
	if dsErr.Op != "snapshot" || dsErr.Source != "eastmoney" {
		t.Errorf("unexpected error fields %+v", dsErr)
	}
}

func TestEastMoneyHistory(t *testing.T) {
	var gotSecID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecID = r.URL.Query().Get("secid")
		w.Write([]byte(`{"data":{"code":"600000","name":"浦发银行","klines":[
			"2024-01-03,6.60,6.63,6.67,6.59,313123",
			"2024-01-02,6.50,6.58,6.61,6.48,210000"
		]}}`))
	}))
	defer srv.Close()

	src := NewEastMoneySource("", 100)
	src.HistoryURL = srv.URL
	h, err := src.History(context.Background(), "600000")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if gotSecID != "1.600000" {
		t.Errorf("expected secid 1.600000, got %q", gotSecID)
	}
	if h.Len() != 2 {
		t.Fatalf("expected 2 bars, got %d", h.Len())
	}
	if h.Bars[0].Close != 6.58 || h.Bars[1].Close != 6.63 {
		t.Errorf("bars not sorted or misparsed: %+v", h.Bars)
	}
	if h.Bars[1].High != 6.67 || h.Bars[1].Low != 6.59 || h.Bars[1].Volume != 313123 {
		t.Errorf("unexpected bar fields %+v", h.Bars[1])
	}
	if err := h.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestEastMoneyHistory_UnknownSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rc":0,"data":null}`))
	}))
	defer srv.Close()

	src := NewEastMoneySource("", 100)
	src.HistoryURL = srv.URL
	_, err := src.History(context.Background(), "999999")
	if !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("expected ErrUnknownSymbol, got %v", err)
	}
}

func TestEastMoneySecID(t *testing.T) {
	tests := map[string]string{
		"600000": "1.600000",
		"688001": "1.688001",
		"000001": "0.000001",
		"300750": "0.300750",
	}
	for in, want := range tests {
		if got := eastMoneySecID(in); got != want {
			t.Errorf("%s: expected %s, got %s", in, want, got)
		}
	}
}

func TestYahooHistory(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"chart":{"result":[{"timestamp":[1704160800,1704247200,1704333600],
			"indicators":{"quote":[{"open":[1,null,3],"high":[1,null,3],"low":[1,null,3],
			"close":[1.5,null,3.5],"volume":[100,null,300]}]}}],"error":null}}`))
	}))
	defer srv.Close()

	src := NewYahooSource("", 100)
	src.BaseURL = srv.URL
	h, err := src.History(context.Background(), "000001")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.HasSuffix(gotPath, "/000001.SZ") {
		t.Errorf("expected .SZ ticker, got path %q", gotPath)
	}
	if h.Len() != 2 {
		t.Fatalf("expected null bar skipped, got %d bars", h.Len())
	}
	if h.Bars[1].Close != 3.5 {
		t.Errorf("unexpected close %v", h.Bars[1].Close)
	}
}

func TestYahooHistory_SameDayBarsKeepLast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chart":{"result":[{"timestamp":[1704160800,1704247200,1704265200],
			"indicators":{"quote":[{"open":[1,2,2],"high":[1,2,3],"low":[1,2,2],
			"close":[1.5,2.5,2.8],"volume":[100,200,250]}]}}],"error":null}}`))
	}))
	defer srv.Close()

	src := NewYahooSource("", 100)
	src.BaseURL = srv.URL
	h, err := src.History(context.Background(), "600000")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if h.Len() != 2 {
		t.Fatalf("expected same-day bars merged, got %d bars", h.Len())
	}
	if h.Bars[1].Close != 2.8 {
		t.Errorf("expected the later bar to win, got close %v", h.Bars[1].Close)
	}
	if err := h.Validate(); err != nil {
		t.Errorf("deduplicated history should validate: %v", err)
	}
}

func TestYahooSymbol(t *testing.T) {
	f := NewYahooSource("", 0)
	f.SymbolMap["SPX"] = "^GSPC"
	tests := map[string]string{
		"600519":  "600519.SS",
		"000001":  "000001.SZ",
		"300750":  "300750.SZ",
		"AAPL":    "AAPL",
		"SPX":     "^GSPC",
		"0700.HK": "0700.HK",
	}
	for in, want := range tests {
		if got := f.yahooSymbol(in); got != want {
			t.Errorf("%s: expected %s, got %s", in, want, got)
		}
	}
}

func TestSQLiteSource_RoundTrip(t *testing.T) {
	src, err := OpenSQLiteSource(filepath.Join(t.TempDir(), "market.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()

	ctx := context.Background()
	if _, err := src.Snapshot(ctx); !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData on empty db, got %v", err)
	}

	price := 12.5
	quotes := []model.CandidateQuote{
		{Symbol: "600000", Name: "浦发银行", LastPrice: &price, ChangePercent: 1.1, Industry: "银行", Volume: 1000},
		{Symbol: "000004", Name: "停牌股", Volume: 0},
	}
	if err := src.SaveQuotes(ctx, quotes); err != nil {
		t.Fatalf("save quotes: %v", err)
	}
	bars := BarsFromCloses([]float64{10, 11, 12})
	if err := src.SaveBars(ctx, "600000", bars); err != nil {
		t.Fatalf("save bars: %v", err)
	}

	got, err := src.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(got))
	}
	for _, q := range got {
		switch q.Symbol {
		case "600000":
			if q.LastPrice == nil || *q.LastPrice != 12.5 || q.Industry != "银行" {
				t.Errorf("unexpected quote %+v", q)
			}
		case "000004":
			if q.LastPrice != nil {
				t.Errorf("expected nil price, got %v", *q.LastPrice)
			}
		}
	}

	h, err := src.History(ctx, "600000")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if h.Len() != 3 || h.Bars[2].Close != 12 {
		t.Errorf("unexpected history %+v", h.Bars)
	}
	if err := h.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}

	if _, err := src.History(ctx, "000004"); !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("expected ErrUnknownSymbol, got %v", err)
	}
}

func TestMockSource(t *testing.T) {
	m := NewMockSource()
	m.AddCandidate("600001", 10, []float64{1, 2, 3})
	m.HistoryErrs["600002"] = errors.New("timeout")

	ctx := context.Background()
	if _, err := m.History(ctx, "600001"); err != nil {
		t.Fatalf("history: %v", err)
	}
	if _, err := m.History(ctx, "600002"); err == nil {
		t.Error("expected injected error")
	}
	if _, err := m.History(ctx, "600003"); !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("expected ErrUnknownSymbol, got %v", err)
	}
	if m.HistoryCalls("600001") != 1 || m.TotalHistoryCalls() != 3 {
		t.Errorf("unexpected call counts %d / %d", m.HistoryCalls("600001"), m.TotalHistoryCalls())
	}

	m.Delay = time.Second
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := m.History(cctx, "600001"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestBarsFromCloses_WeekdaysAscending(t *testing.T) {
	bars := BarsFromCloses([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	h := &model.PriceHistory{Symbol: "X", Bars: bars}
	if err := h.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	for _, b := range bars {
		if b.Date.Weekday() == time.Saturday || b.Date.Weekday() == time.Sunday {
			t.Errorf("weekend bar %s", b.Date)
		}
	}
}

func TestNewDemoSource(t *testing.T) {
	m := NewDemoSource(20, 60)
	if len(m.Quotes) != 20 || len(m.Histories) != 20 {
		t.Fatalf("expected 20 quotes and histories, got %d/%d", len(m.Quotes), len(m.Histories))
	}
	closes := m.Histories[m.Quotes[0].Symbol].Closes()
	for i := 1; i < len(closes); i++ {
		if closes[i] >= closes[i-1] {
			t.Fatalf("expected declining demo series at %d", i)
		}
	}
}

func TestMirror(t *testing.T) {
	src := NewMockSource()
	src.AddCandidate("600001", 2, []float64{10, 11, 12})
	src.AddCandidate("000001", 1, []float64{5, 4, 3})
	src.AddCandidate("000002", 1, []float64{7, 7, 7})
	src.HistoryErrs["000002"] = errors.New("throttled")

	dst, err := OpenSQLiteSource(filepath.Join(t.TempDir(), "mirror.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dst.Close()

	ctx := context.Background()
	stats, err := Mirror(ctx, dst, src, src.Quotes, 2)
	if err != nil {
		t.Fatalf("Mirror: %v", err)
	}
	if stats.Quotes != 3 || stats.Symbols != 2 || stats.Failed != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	quotes, err := dst.Snapshot(ctx)
	if err != nil || len(quotes) != 3 {
		t.Fatalf("expected 3 stored quotes, got %d (%v)", len(quotes), err)
	}
	h, err := dst.History(ctx, "000001")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if closes := h.Closes(); len(closes) != 3 || closes[2] != 3 {
		t.Errorf("unexpected closes %v", closes)
	}
	if _, err := dst.History(ctx, "000002"); !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("expected no bars for failed symbol, got %v", err)
	}
}
