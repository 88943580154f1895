// Command sync mirrors the live EastMoney market into the SQLite database
// used by the sqlite provider, so screenings can be repeated offline.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"MarketScreener/internal/collector"
	"MarketScreener/internal/config"
	"MarketScreener/internal/screener"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("[FATAL] load config: %v", err)
	}
	if cfg.DataSource.SQLitePath == "" {
		log.Fatal("[FATAL] data_source.sqlite_path is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	live := collector.NewEastMoneySource(cfg.Proxy, cfg.DataSource.HistoryDays)
	dst, err := collector.OpenSQLiteSource(cfg.DataSource.SQLitePath)
	if err != nil {
		log.Fatalf("[FATAL] open sqlite: %v", err)
	}
	defer dst.Close()

	quotes, err := live.Snapshot(ctx)
	if err != nil {
		log.Fatalf("[FATAL] snapshot: %v", err)
	}
	// Only the candidates a screening would look at need history.
	selected := screener.Select(quotes, cfg.Segment(), cfg.Screening.MaxCandidates)
	log.Printf("[INFO] mirroring %d quotes, history for %d symbols", len(quotes), len(selected))

	if err := dst.SaveQuotes(ctx, quotes); err != nil {
		log.Fatalf("[FATAL] save quotes: %v", err)
	}
	stats, err := collector.Mirror(ctx, dst, live, selected, cfg.Screening.WorkerCount)
	if err != nil {
		log.Fatalf("[FATAL] mirror: %v", err)
	}
	log.Printf("[INFO] sync done: %d symbols saved, %d failed", stats.Symbols, stats.Failed)
}
