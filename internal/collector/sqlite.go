package collector

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"MarketScreener/internal/model"

	_ "modernc.org/sqlite"
)

// SQLiteSource serves snapshots and histories from a local SQLite database,
// for offline runs against a previously exported market dump.
type SQLiteSource struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenSQLiteSource opens (or creates) the SQLite database and runs migrations.
func OpenSQLiteSource(dbPath string) (*SQLiteSource, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode lets concurrent workers read while a loader writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteSource{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite source opened: %s", dbPath)
	return s, nil
}

func (s *SQLiteSource) Name() string { return "sqlite" }

func (s *SQLiteSource) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS quotes (
			symbol         TEXT PRIMARY KEY,
			name           TEXT NOT NULL DEFAULT '',
			last_price     REAL,
			change_percent REAL NOT NULL DEFAULT 0,
			industry       TEXT NOT NULL DEFAULT '',
			volume         REAL NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS daily_bars (
			symbol TEXT NOT NULL,
			date   TEXT NOT NULL,
			open   REAL,
			high   REAL,
			low    REAL,
			close  REAL NOT NULL,
			volume REAL,
			PRIMARY KEY (symbol, date)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Snapshot returns every stored quote.
func (s *SQLiteSource) Snapshot(ctx context.Context) ([]model.CandidateQuote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, name, last_price, change_percent, industry, volume FROM quotes`)
	if err != nil {
		return nil, snapshotErr(s.Name(), err)
	}
	defer rows.Close()

	var quotes []model.CandidateQuote
	for rows.Next() {
		var q model.CandidateQuote
		var price sql.NullFloat64
		if err := rows.Scan(&q.Symbol, &q.Name, &price, &q.ChangePercent, &q.Industry, &q.Volume); err != nil {
			return nil, snapshotErr(s.Name(), err)
		}
		if price.Valid {
			p := price.Float64
			q.LastPrice = &p
		}
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, snapshotErr(s.Name(), err)
	}
	if len(quotes) == 0 {
		return nil, snapshotErr(s.Name(), ErrNoData)
	}
	return quotes, nil
}

// History returns the stored bars of symbol in date order.
func (s *SQLiteSource) History(ctx context.Context, symbol string) (*model.PriceHistory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, open, high, low, close, volume FROM daily_bars WHERE symbol = ? ORDER BY date`, symbol)
	if err != nil {
		return nil, historyErr(s.Name(), symbol, err)
	}
	defer rows.Close()

	var bars []model.PriceBar
	for rows.Next() {
		var date string
		var open, high, low, volume sql.NullFloat64
		var b model.PriceBar
		if err := rows.Scan(&date, &open, &high, &low, &b.Close, &volume); err != nil {
			return nil, historyErr(s.Name(), symbol, err)
		}
		if b.Date, err = time.Parse("2006-01-02", date); err != nil {
			return nil, historyErr(s.Name(), symbol, fmt.Errorf("bar date: %w", err))
		}
		b.Open, b.High, b.Low, b.Volume = open.Float64, high.Float64, low.Float64, volume.Float64
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, historyErr(s.Name(), symbol, err)
	}
	if len(bars) == 0 {
		return nil, historyErr(s.Name(), symbol, ErrUnknownSymbol)
	}
	return &model.PriceHistory{Symbol: symbol, Bars: bars, FetchedAt: time.Now()}, nil
}

// SaveQuotes replaces the stored snapshot rows for the given symbols.
func (s *SQLiteSource) SaveQuotes(ctx context.Context, quotes []model.CandidateQuote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range quotes {
		var price sql.NullFloat64
		if q.LastPrice != nil {
			price = sql.NullFloat64{Float64: *q.LastPrice, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO quotes
			(symbol, name, last_price, change_percent, industry, volume)
			VALUES (?,?,?,?,?,?)`,
			q.Symbol, q.Name, price, q.ChangePercent, q.Industry, q.Volume,
		); err != nil {
			return fmt.Errorf("save quote %s: %w", q.Symbol, err)
		}
	}
	return tx.Commit()
}

// SaveBars upserts daily bars for one symbol.
func (s *SQLiteSource) SaveBars(ctx context.Context, symbol string, bars []model.PriceBar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, b := range bars {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO daily_bars
			(symbol, date, open, high, low, close, volume)
			VALUES (?,?,?,?,?,?,?)`,
			symbol, b.Date.Format("2006-01-02"), b.Open, b.High, b.Low, b.Close, b.Volume,
		); err != nil {
			return fmt.Errorf("save bar %s %s: %w", symbol, b.Date.Format("2006-01-02"), err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteSource) Close() error {
	log.Println("[INFO] closing sqlite source")
	return s.db.Close()
}
