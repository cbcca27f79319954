// Command signal-generator runs one account's scan/rotation/realtime
// loop (spec.md §4.2). Grounded on main.go's LoadFromEnv-then-app.New-
// then-Start shape, split here into config.Load + explicit dependency
// wiring since app.go's single App struct doesn't generalize to two
// independent binaries sharing the same internal packages.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"hkus-trading-core/internal/broker/restclient"
	"hkus-trading-core/internal/broker/wsfeed"
	"hkus-trading-core/internal/budget"
	"hkus-trading-core/internal/config"
	"hkus-trading-core/internal/exit"
	"hkus-trading-core/internal/kline"
	"hkus-trading-core/internal/marketpanic"
	"hkus-trading-core/internal/notify"
	"hkus-trading-core/internal/queue"
	"hkus-trading-core/internal/regime"
	"hkus-trading-core/internal/sg"
	"hkus-trading-core/internal/store/pg"
	"hkus-trading-core/internal/store/rediskv"

	"github.com/shopspring/decimal"
)

func main() {
	os.Exit(run())
}

func run() int {
	accountID := flag.String("account-id", "", "overrides ACCOUNT_ID from the environment")
	configPath := flag.String("config", "", "optional per-account YAML override file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("❌ config error: %v", err)
		return 2
	}
	if *accountID != "" {
		cfg.AccountID = *accountID
	}

	db, rdb, q, client, notifier, regimeClassifier, panicMonitor, kv, err := wireCommon(cfg)
	if err != nil {
		log.Printf("❌ init failed: %v", err)
		return 1
	}
	defer db.Close()
	defer rdb.Close()

	sgCfg := sg.DefaultConfig(cfg.AccountID)
	sgCfg.Watchlist = cfg.Watchlist
	sgCfg.VixyThreshold = decimal.NewFromFloat(cfg.VixyPanicThreshold)
	sgCfg.EnableWeakBuy = cfg.EnableWeakBuy
	sgCfg.NotificationCooldown = cfg.NotificationCooldown()
	sgCfg.Budget = budgetConfigFrom(cfg)
	sgCfg.Kline = kline.Config{
		UseDB:         cfg.UseDBKlines,
		DBHistoryDays: cfg.DBKlinesHistoryDays,
		APILatestDays: cfg.APIKlinesLatestDays,
		MinRows:       30,
	}
	sgCfg.Regime = regimeConfigFrom(cfg)
	sgCfg.GradualExit = exit.GradualExitConfig{
		Enabled:     cfg.GradualExitEnabled,
		Threshold25: cfg.GradualExitThreshold25,
		Threshold50: cfg.GradualExitThreshold50,
	}
	sgCfg.AddPosition = exit.AddPositionConfig{
		Enabled:        cfg.AddPositionEnabled,
		MinProfitPct:   cfg.AddPositionMinProfitPct,
		MinSignalScore: cfg.AddPositionMinSignalScore,
		Pct:            cfg.AddPositionPct,
	}
	sgCfg.PartialExitWindow = time.Duration(cfg.PartialExitObservationMinutes) * time.Minute
	sgCfg.AddPositionCooldown = time.Duration(cfg.AddPositionCooldownMinutes) * time.Minute

	service := sg.New(sgCfg, q, db, client, notifier, regimeClassifier, panicMonitor, kv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthSrv := startHealthServer(cfg.HealthPort)
	defer shutdownHealthServer(healthSrv)

	errCh := make(chan error, 1)
	go func() { errCh <- service.Run(ctx) }()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	select {
	case <-interrupt:
		log.Println("🛑 shutdown signal received")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			log.Printf("❌ signal generator exited: %v", err)
			return 1
		}
	}
	return 0
}

// wireCommon builds every dependency internal/sg and internal/oe share:
// Postgres, Redis-backed queue, broker REST client, notifier, regime
// classifier, VIXY monitor, and the small KV store. Grounded on
// app.go's Start() sequence (database -> redis -> downstream services).
func wireCommon(cfg *config.Config) (*pg.DB, *redis.Client, *queue.Queue, *restclient.Client, *notify.Notifier, *regime.Classifier, *marketpanic.Monitor, *rediskv.Client, error) {
	db, err := pg.ConnectDSN(cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, nil, nil, nil, nil, nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	years := []int{time.Now().Year(), time.Now().Year() + 1}
	if err := db.InitSchema(years); err != nil {
		return nil, nil, nil, nil, nil, nil, nil, nil, fmt.Errorf("schema init failed: %w", err)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, nil, nil, nil, nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	kv := rediskv.New(opts.Addr, opts.Password, opts.DB)

	notifier := notify.New(cfg.NotificationWebhookURL, cfg.NotificationCooldown())

	wsClient := wsfeed.New(cfg.BrokerWSURL, cfg.BrokerAccessToken)
	client := restclient.New(cfg.BrokerBaseURL, cfg.BrokerAccessToken, wsClient.Run)

	regimeClassifier := regime.New(client, regimeConfigFrom(cfg))
	panicMonitor := marketpanic.New(decimal.NewFromFloat(cfg.VixyPanicThreshold), kv, notifier)

	q := queue.New(rdb, cfg.AccountID, queue.Config{
		MaxMainSize:        cfg.SignalQueueMaxSize,
		MaxRetries:         cfg.SignalMaxRetries,
		FundsRetryMax:      cfg.FundsRetryMax,
		ZombieTimeout:      5 * time.Minute,
		RetryDelaysMinutes: []int{1, 2, 4, 8, 8},
	})

	return db, rdb, q, client, notifier, regimeClassifier, panicMonitor, kv, nil
}

func regimeConfigFrom(cfg *config.Config) regime.Config {
	inverse := make(map[string]bool, len(cfg.RegimeInverseSymbols))
	for _, s := range cfg.RegimeInverseSymbols {
		inverse[s] = true
	}
	rc := regime.DefaultConfig()
	if len(cfg.RegimeIndexSymbols) > 0 {
		var hk, us []string
		for _, s := range cfg.RegimeIndexSymbols {
			if len(s) >= 2 && s[len(s)-2:] == "HK" {
				hk = append(hk, s)
			} else {
				us = append(us, s)
			}
		}
		if len(hk) > 0 {
			rc.HKActiveSymbols = hk
		}
		if len(us) > 0 {
			rc.USActiveSymbols = us
		}
	}
	rc.InverseSymbols = inverse
	return rc
}

func budgetConfigFrom(cfg *config.Config) budget.Config {
	return budget.Config{
		KellyEnabled:    cfg.KellyEnabled,
		KellyFraction:   decimal.NewFromFloat(cfg.KellyFraction),
		KellyMax:        decimal.NewFromFloat(cfg.KellyMaxPosition),
		KellyMinWinRate: decimal.NewFromFloat(cfg.KellyMinWinRate),
		KellyMinTrades:  cfg.KellyMinTrades,
		HardCapPct:      decimal.NewFromFloat(0.25),
	}
}

// startHealthServer exposes a bare liveness probe, the one outward-
// facing surface neither §1's Non-goals nor the teacher's own api.Server
// treat as UI.
func startHealthServer(port int) *http.Server {
	if port == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("⚠️  health server stopped: %v", err)
		}
	}()
	return srv
}

func shutdownHealthServer(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
