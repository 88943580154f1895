package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"MarketScreener/internal/model"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Data providers.
const (
	ProviderEastMoney = "eastmoney"
	ProviderYahoo     = "yahoo"
	ProviderSQLite    = "sqlite"
	ProviderMock      = "mock"
)

// Config holds all application configuration.
type Config struct {
	Screening struct {
		MarketSegment       string        `yaml:"market_segment" envconfig:"MARKET_SEGMENT"`
		ConsecutiveDays     int           `yaml:"consecutive_days" envconfig:"CONSECUTIVE_DAYS"`
		OscillatorPeriod    int           `yaml:"oscillator_period" envconfig:"RSI_PERIOD"`
		OscillatorThreshold float64       `yaml:"oscillator_threshold" envconfig:"RSI_THRESHOLD"`
		MaxCandidates       int           `yaml:"max_candidates" envconfig:"MAX_CANDIDATES"`
		WorkerCount         int           `yaml:"worker_count" envconfig:"WORKER_COUNT"`
		FetchTimeout        time.Duration `yaml:"fetch_timeout" envconfig:"FETCH_TIMEOUT"`
	} `yaml:"screening"`
	Cache struct {
		Capacity int           `yaml:"capacity" envconfig:"CACHE_CAPACITY"`
		TTL      time.Duration `yaml:"ttl" envconfig:"CACHE_TTL"`
	} `yaml:"cache"`
	DataSource struct {
		Provider        string `yaml:"provider" envconfig:"DATA_PROVIDER"`
		HistoryProvider string `yaml:"history_provider" envconfig:"HISTORY_PROVIDER"`
		SQLitePath      string `yaml:"sqlite_path" envconfig:"SQLITE_PATH"`
		HistoryDays     int    `yaml:"history_days" envconfig:"HISTORY_DAYS"`
	} `yaml:"data_source"`
	Telegram struct {
		BotToken string `yaml:"bot_token" envconfig:"TELEGRAM_BOT_TOKEN"`
		ChatID   string `yaml:"chat_id" envconfig:"TELEGRAM_CHAT_ID"`
	} `yaml:"telegram"`
	Schedule struct {
		DailyCron   string `yaml:"daily_cron" envconfig:"CRON_DAILY"`
		Timezone    string `yaml:"timezone" envconfig:"TIMEZONE"`
		CalendarMIC string `yaml:"calendar_mic" envconfig:"CALENDAR_MIC"`
	} `yaml:"schedule"`
	Server struct {
		ListenAddr string `yaml:"listen_addr" envconfig:"LISTEN_ADDR"`
	} `yaml:"server"`
	Proxy string `yaml:"proxy" envconfig:"HTTPS_PROXY"`
}

// Default returns the configuration used for keys absent from file and environment.
func Default() *Config {
	cfg := &Config{}
	cfg.Screening.MarketSegment = string(model.SegmentAll)
	cfg.Screening.ConsecutiveDays = 5
	cfg.Screening.OscillatorPeriod = 14
	cfg.Screening.OscillatorThreshold = 30
	cfg.Screening.MaxCandidates = 100
	cfg.Screening.WorkerCount = 10
	cfg.Screening.FetchTimeout = 10 * time.Second
	cfg.Cache.Capacity = 100
	cfg.DataSource.Provider = ProviderEastMoney
	cfg.DataSource.SQLitePath = "data/market.db"
	cfg.DataSource.HistoryDays = 250
	cfg.Schedule.DailyCron = "0 30 15 * * 1-5"
	cfg.Schedule.Timezone = "Asia/Shanghai"
	cfg.Schedule.CalendarMIC = "xshg"
	cfg.Server.ListenAddr = ":8080"
	return cfg
}

// Load reads config from a YAML file over the defaults, then applies
// environment variable overrides (including a .env file if present).
// An explicitly empty key in the file clears its default.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// .env is optional
	_ = godotenv.Load()

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}

	if cfg.DataSource.HistoryProvider == "" {
		cfg.DataSource.HistoryProvider = cfg.DataSource.Provider
	}
	return cfg, nil
}

// Segment returns the configured market segment.
func (c *Config) Segment() model.MarketSegment {
	s, _ := model.ParseSegment(c.Screening.MarketSegment)
	return s
}

// Location returns the schedule time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone: %w", err)
	}
	return loc, nil
}

// TelegramEnabled reports whether Telegram reporting and commands are configured.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}

// Validate checks that all fields are usable.
func (c *Config) Validate() error {
	s := c.Screening
	if _, ok := model.ParseSegment(s.MarketSegment); !ok {
		return fmt.Errorf("screening.market_segment: unknown segment %q", s.MarketSegment)
	}
	if s.ConsecutiveDays < 1 {
		return errors.New("screening.consecutive_days must be at least 1")
	}
	if s.OscillatorPeriod < 2 {
		return errors.New("screening.oscillator_period must be at least 2")
	}
	if math.IsNaN(s.OscillatorThreshold) || s.OscillatorThreshold <= 0 || s.OscillatorThreshold > 100 {
		return errors.New("screening.oscillator_threshold must be in (0, 100]")
	}
	if s.MaxCandidates < 1 {
		return errors.New("screening.max_candidates must be positive")
	}
	if s.WorkerCount < 1 {
		return errors.New("screening.worker_count must be positive")
	}
	if s.FetchTimeout <= 0 {
		return errors.New("screening.fetch_timeout must be positive")
	}
	if c.Cache.Capacity < 1 {
		return errors.New("cache.capacity must be positive")
	}
	if c.Cache.TTL < 0 {
		return errors.New("cache.ttl must not be negative")
	}

	switch c.DataSource.Provider {
	case ProviderEastMoney, ProviderSQLite, ProviderMock:
	case ProviderYahoo:
		return errors.New("data_source.provider: yahoo only serves history, set it as history_provider")
	default:
		return fmt.Errorf("data_source.provider: unknown provider %q", c.DataSource.Provider)
	}
	switch c.DataSource.HistoryProvider {
	case "", ProviderEastMoney, ProviderYahoo, ProviderSQLite, ProviderMock:
	default:
		return fmt.Errorf("data_source.history_provider: unknown provider %q", c.DataSource.HistoryProvider)
	}
	if minBars := s.OscillatorPeriod + s.ConsecutiveDays + 6; c.DataSource.HistoryDays < minBars {
		return fmt.Errorf("data_source.history_days must be at least %d for the configured rule", minBars)
	}
	if (c.DataSource.Provider == ProviderSQLite || c.DataSource.HistoryProvider == ProviderSQLite) && c.DataSource.SQLitePath == "" {
		return errors.New("data_source.sqlite_path is required for the sqlite provider")
	}

	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return errors.New("telegram.bot_token and telegram.chat_id must be set together")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}
