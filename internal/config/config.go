// Package config loads the per-account configuration described in
// spec.md §6: environment-variable defaults, optionally overlaid by a
// per-account YAML file. Grounded on config/config.go's
// LoadFromEnv/getEnvOrDefault/getEnvInt/getEnvFloat style, extended with
// a strict YAML overlay (gopkg.in/yaml.v3) for the per-account override
// files spec.md calls for, which the teacher's single-account bot never
// needed.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"hkus-trading-core/internal/errs"
)

// Config is every spec.md §6 knob, grouped by the component that reads
// it. Field names mirror the env vars with underscores removed and
// CamelCase applied, matching the teacher's TradingConfig convention.
type Config struct {
	AccountID          string `yaml:"account_id"`
	BrokerAppKey       string `yaml:"broker_app_key"`
	BrokerAppSecret    string `yaml:"broker_app_secret"`
	BrokerAccessToken  string `yaml:"broker_access_token"`
	BrokerBaseURL      string `yaml:"broker_base_url"`
	BrokerWSURL        string `yaml:"broker_ws_url"`
	RedisURL           string `yaml:"redis_url"`
	DatabaseDSN        string `yaml:"database_dsn"`
	HealthPort         int    `yaml:"health_port"`

	SignalQueueKey      string `yaml:"signal_queue_key"`
	SignalMaxRetries    int    `yaml:"signal_max_retries"`
	SignalQueueMaxSize  int64  `yaml:"signal_queue_max_size"`
	OrderExecutorWorkers int   `yaml:"order_executor_workers"`

	FundsRetryDelayMinutes int `yaml:"funds_retry_delay_minutes"`
	FundsRetryMax          int `yaml:"funds_retry_max"`

	UseDBKlines         bool `yaml:"use_db_klines"`
	DBKlinesHistoryDays int  `yaml:"db_klines_history_days"`
	APIKlinesLatestDays int  `yaml:"api_klines_latest_days"`

	VixyPanicThreshold float64 `yaml:"vixy_panic_threshold"`
	VixyAlertEnabled   bool    `yaml:"vixy_alert_enabled"`

	KellyEnabled     bool    `yaml:"kelly_enabled"`
	KellyFraction    float64 `yaml:"kelly_fraction"`
	KellyMaxPosition float64 `yaml:"kelly_max_position"`
	KellyMinWinRate  float64 `yaml:"kelly_min_win_rate"`
	KellyMinTrades   int     `yaml:"kelly_min_trades"`

	Watchlist            []string `yaml:"watchlist"`
	RegimeIndexSymbols   []string `yaml:"regime_index_symbols"`
	RegimeInverseSymbols []string `yaml:"regime_inverse_symbols"`

	GradualExitEnabled             bool `yaml:"gradual_exit_enabled"`
	GradualExitThreshold25         int  `yaml:"gradual_exit_threshold_25"`
	GradualExitThreshold50         int  `yaml:"gradual_exit_threshold_50"`
	PartialExitObservationMinutes  int  `yaml:"partial_exit_observation_minutes"`

	AddPositionEnabled          bool    `yaml:"add_position_enabled"`
	AddPositionMinProfitPct     float64 `yaml:"add_position_min_profit_pct"`
	AddPositionMinSignalScore   int     `yaml:"add_position_min_signal_score"`
	AddPositionPct              float64 `yaml:"add_position_pct"`
	AddPositionCooldownMinutes  int     `yaml:"add_position_cooldown_minutes"`

	SlackCooldownSeconds       int    `yaml:"slack_cooldown_seconds"`
	NotificationWebhookURL     string `yaml:"notification_webhook_url"`

	RealtimeRotationMinSignalScore int `yaml:"realtime_rotation_min_signal_score"`

	EnableWeakBuy bool `yaml:"enable_weak_buy"`
}

// FundsRetryDelay is FundsRetryDelayMinutes as a time.Duration.
func (c Config) FundsRetryDelay() time.Duration {
	return time.Duration(c.FundsRetryDelayMinutes) * time.Minute
}

// NotificationCooldown is SlackCooldownSeconds as a time.Duration.
func (c Config) NotificationCooldown() time.Duration {
	return time.Duration(c.SlackCooldownSeconds) * time.Second
}

// Load builds a Config from environment variables (loading a .env file
// first, exactly as the teacher does), then overlays accountOverridePath
// if non-empty. A missing required field produces an *errs.ConfigError
// so main can exit(2) per spec.md §6's CLI contract.
func Load(accountOverridePath string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	cfg := &Config{
		AccountID:         os.Getenv("ACCOUNT_ID"),
		BrokerAppKey:      os.Getenv("BROKER_APP_KEY"),
		BrokerAppSecret:   os.Getenv("BROKER_APP_SECRET"),
		BrokerAccessToken: os.Getenv("BROKER_ACCESS_TOKEN"),
		BrokerBaseURL:     getEnvOrDefault("BROKER_BASE_URL", "https://api.broker.example.com"),
		BrokerWSURL:       getEnvOrDefault("BROKER_WS_URL", "wss://stream.broker.example.com/quotes"),
		RedisURL:          getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		DatabaseDSN:       os.Getenv("DATABASE_DSN"),
		HealthPort:        getEnvInt("HEALTH_PORT", 8080),

		SignalQueueKey:       getEnvOrDefault("SIGNAL_QUEUE_KEY", "trading:signals"),
		SignalMaxRetries:     getEnvInt("SIGNAL_MAX_RETRIES", 3),
		SignalQueueMaxSize:   int64(getEnvInt("SIGNAL_QUEUE_MAX_SIZE", 1000)),
		OrderExecutorWorkers: getEnvInt("ORDER_EXECUTOR_WORKERS", 1),

		FundsRetryDelayMinutes: getEnvInt("FUNDS_RETRY_DELAY_MINUTES", 1),
		FundsRetryMax:          getEnvInt("FUNDS_RETRY_MAX", 5),

		UseDBKlines:         getEnvOrDefault("USE_DB_KLINES", "true") == "true",
		DBKlinesHistoryDays: getEnvInt("DB_KLINES_HISTORY_DAYS", 90),
		APIKlinesLatestDays: getEnvInt("API_KLINES_LATEST_DAYS", 3),

		VixyPanicThreshold: getEnvFloat("VIXY_PANIC_THRESHOLD", 30.0),
		VixyAlertEnabled:   getEnvOrDefault("VIXY_ALERT_ENABLED", "true") == "true",

		KellyEnabled:     getEnvOrDefault("KELLY_ENABLED", "true") == "true",
		KellyFraction:    getEnvFloat("KELLY_FRACTION", 0.4),
		KellyMaxPosition: getEnvFloat("KELLY_MAX_POSITION", 0.20),
		KellyMinWinRate:  getEnvFloat("KELLY_MIN_WIN_RATE", 0.60),
		KellyMinTrades:   getEnvInt("KELLY_MIN_TRADES", 15),

		Watchlist:            getEnvList("WATCHLIST", nil),
		RegimeIndexSymbols:   getEnvList("REGIME_INDEX_SYMBOLS", []string{"HSI.HK", "QQQ.US", "SPY.US"}),
		RegimeInverseSymbols: getEnvList("REGIME_INVERSE_SYMBOLS", nil),

		GradualExitEnabled:            getEnvOrDefault("GRADUAL_EXIT_ENABLED", "true") == "true",
		GradualExitThreshold25:        getEnvInt("GRADUAL_EXIT_THRESHOLD_25", 40),
		GradualExitThreshold50:        getEnvInt("GRADUAL_EXIT_THRESHOLD_50", 50),
		PartialExitObservationMinutes: getEnvInt("PARTIAL_EXIT_OBSERVATION_MINUTES", 5),

		AddPositionEnabled:         getEnvOrDefault("ADD_POSITION_ENABLED", "true") == "true",
		AddPositionMinProfitPct:    getEnvFloat("ADD_POSITION_MIN_PROFIT_PCT", 2.0),
		AddPositionMinSignalScore:  getEnvInt("ADD_POSITION_MIN_SIGNAL_SCORE", 60),
		AddPositionPct:             getEnvFloat("ADD_POSITION_PCT", 0.15),
		AddPositionCooldownMinutes: getEnvInt("ADD_POSITION_COOLDOWN_MINUTES", 60),

		SlackCooldownSeconds:   getEnvInt("SLACK_COOLDOWN_SECONDS", 3600),
		NotificationWebhookURL: os.Getenv("NOTIFICATION_WEBHOOK_URL"),

		RealtimeRotationMinSignalScore: getEnvInt("REALTIME_ROTATION_MIN_SIGNAL_SCORE", 60),

		EnableWeakBuy: getEnvOrDefault("ENABLE_WEAK_BUY", "false") == "true",
	}

	if accountOverridePath != "" {
		if err := overlayYAML(cfg, accountOverridePath); err != nil {
			return nil, err
		}
	}

	if cfg.AccountID == "" {
		return nil, &errs.ConfigError{Key: "ACCOUNT_ID"}
	}
	if cfg.DatabaseDSN == "" {
		return nil, &errs.ConfigError{Key: "DATABASE_DSN"}
	}
	return cfg, nil
}

// overlayYAML decodes path into cfg, rejecting unknown keys (spec.md §9's
// "reject unknown keys at startup" design note) so a typo in a
// per-account override file fails loudly instead of silently no-opping.
func overlayYAML(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &errs.ConfigError{Key: path, Err: err}
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return &errs.ConfigError{Key: path, Err: fmt.Errorf("per-account override: %w", err)}
	}
	return nil
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
