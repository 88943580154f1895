package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"MarketScreener/internal/cache"
	"MarketScreener/internal/collector"
	"MarketScreener/internal/config"
	"MarketScreener/internal/notifier"
	"MarketScreener/internal/scheduler"
	"MarketScreener/internal/screener"
	"MarketScreener/internal/server"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[INFO] MarketScreener starting...")

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("[FATAL] load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] config validation: %v", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("[FATAL] %v", err)
	}

	// Init data sources
	snapshots, history, closers, err := openSources(cfg)
	if err != nil {
		log.Fatalf("[FATAL] init data source: %v", err)
	}
	for _, c := range closers {
		defer c.Close()
	}
	log.Printf("[INFO] data source: snapshot=%s history=%s", snapshots.Name(), history.Name())

	histories := cache.New(history, cache.Options{
		Capacity:     cfg.Cache.Capacity,
		TTL:          cfg.Cache.TTL,
		FetchTimeout: cfg.Screening.FetchTimeout,
	})

	coord := screener.NewCoordinator(snapshots, histories, screener.Params{
		Segment:       cfg.Segment(),
		Days:          cfg.Screening.ConsecutiveDays,
		Period:        cfg.Screening.OscillatorPeriod,
		Threshold:     cfg.Screening.OscillatorThreshold,
		MaxCandidates: cfg.Screening.MaxCandidates,
		Workers:       cfg.Screening.WorkerCount,
	}, screener.NewLogListener())

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init Telegram notifier
	var tn *notifier.TelegramNotifier
	var reporter *notifier.TelegramReporter
	if cfg.TelegramEnabled() {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
		reporter = notifier.NewTelegramReporter(ctx, tn, coord)
		coord.AddListener(reporter)
	} else {
		log.Println("[INFO] Telegram not configured, reports go to the log only")
	}

	// Init scheduler
	cal := scheduler.NewTradingCalendar(cfg.Schedule.CalendarMIC, loc)
	sched := scheduler.NewScheduler(ctx, coord, cal, loc)
	if err := sched.Register(cfg.Schedule.DailyCron); err != nil {
		log.Fatalf("[FATAL] register cron tasks: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	// Start Telegram polling
	if tn != nil {
		go tn.StartPolling(ctx, sched.HandleCommand)
		log.Println("[INFO] Telegram polling started")
	}

	// Start HTTP API
	var srv *server.Server
	if cfg.Server.ListenAddr != "" {
		srv = server.New(ctx, coord)
		go func() {
			if err := srv.ListenAndServe(cfg.Server.ListenAddr); err != nil {
				log.Printf("[ERROR] HTTP server: %v", err)
			}
		}()
	}

	// Optional: run immediately on start
	if os.Getenv("RUN_ON_START") == "true" {
		log.Println("[INFO] RUN_ON_START enabled, screening now")
		if err := sched.RunNow(); err != nil {
			log.Printf("[ERROR] start screening: %v", err)
		}
	}

	log.Println("[INFO] MarketScreener is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[INFO] shutdown signal received, stopping...")
	coord.Cancel()
	coord.Drain()
	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] HTTP shutdown: %v", err)
		}
		done()
	}
	if reporter != nil {
		reporter.Wait()
	}
	cancel()
	log.Println("[INFO] MarketScreener stopped")
}

// openSources builds the snapshot and history sources named in the config.
func openSources(cfg *config.Config) (collector.SnapshotSource, collector.HistorySource, []io.Closer, error) {
	var closers []io.Closer
	var sqliteSrc *collector.SQLiteSource
	var demo *collector.MockSource

	open := func(provider string) (interface{}, error) {
		switch provider {
		case config.ProviderEastMoney:
			return collector.NewEastMoneySource(cfg.Proxy, cfg.DataSource.HistoryDays), nil
		case config.ProviderYahoo:
			return collector.NewYahooSource(cfg.Proxy, cfg.DataSource.HistoryDays), nil
		case config.ProviderSQLite:
			if sqliteSrc == nil {
				s, err := collector.OpenSQLiteSource(cfg.DataSource.SQLitePath)
				if err != nil {
					return nil, err
				}
				sqliteSrc = s
				closers = append(closers, s)
			}
			return sqliteSrc, nil
		case config.ProviderMock:
			if demo == nil {
				demo = collector.NewDemoSource(300, cfg.DataSource.HistoryDays)
			}
			return demo, nil
		}
		return nil, fmt.Errorf("unknown provider %q", provider)
	}

	s, err := open(cfg.DataSource.Provider)
	if err != nil {
		return nil, nil, closers, err
	}
	snapshots, ok := s.(collector.SnapshotSource)
	if !ok {
		return nil, nil, closers, fmt.Errorf("provider %q cannot serve snapshots", cfg.DataSource.Provider)
	}

	h, err := open(cfg.DataSource.HistoryProvider)
	if err != nil {
		return nil, nil, closers, err
	}
	history, ok := h.(collector.HistorySource)
	if !ok {
		return nil, nil, closers, fmt.Errorf("provider %q cannot serve history", cfg.DataSource.HistoryProvider)
	}
	return snapshots, history, closers, nil
}
