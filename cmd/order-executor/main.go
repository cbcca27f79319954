// Command order-executor runs one account's signal-consuming worker
// pool (spec.md §4.3). Grounded on main.go's LoadFromEnv-then-app.New-
// then-Start shape; ORDER_EXECUTOR_WORKERS spins up 1-3 Worker.Run
// goroutines sharing the same Queue/DB/broker, each with its own
// accountstate.Cache,
// mirroring the teacher's several-independent-trackers-over-one-App
// layout rather than a single loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"hkus-trading-core/internal/accountstate"
	"hkus-trading-core/internal/broker/restclient"
	"hkus-trading-core/internal/budget"
	"hkus-trading-core/internal/config"
	"hkus-trading-core/internal/notify"
	"hkus-trading-core/internal/oe"
	"hkus-trading-core/internal/queue"
	"hkus-trading-core/internal/regime"
	"hkus-trading-core/internal/store/pg"
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

	db, err := pg.ConnectDSN(cfg.DatabaseDSN)
	if err != nil {
		log.Printf("❌ database connection failed: %v", err)
		return 1
	}
	defer db.Close()
	years := []int{time.Now().Year(), time.Now().Year() + 1}
	if err := db.InitSchema(years); err != nil {
		log.Printf("❌ schema init failed: %v", err)
		return 1
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Printf("❌ invalid REDIS_URL: %v", err)
		return 1
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	notifier := notify.New(cfg.NotificationWebhookURL, cfg.NotificationCooldown())

	// OE never subscribes to the push feed; it only polls quotes/account
	// state on demand, so the subscribe callback is left nil.
	client := restclient.New(cfg.BrokerBaseURL, cfg.BrokerAccessToken, nil)

	regimeClassifier := regime.New(client, regimeConfigFrom(cfg))

	q := queue.New(rdb, cfg.AccountID, queue.Config{
		MaxMainSize:        cfg.SignalQueueMaxSize,
		MaxRetries:         cfg.SignalMaxRetries,
		FundsRetryMax:      cfg.FundsRetryMax,
		ZombieTimeout:      5 * time.Minute,
		RetryDelaysMinutes: []int{1, 2, 4, 8, 8},
	})

	oeCfg := oe.DefaultConfig(cfg.AccountID)
	oeCfg.FundsRetryMax = cfg.FundsRetryMax
	oeCfg.FundsRetryDelay = cfg.FundsRetryDelay()
	oeCfg.Budget = budget.Config{
		KellyEnabled:    cfg.KellyEnabled,
		KellyFraction:   decimal.NewFromFloat(cfg.KellyFraction),
		KellyMax:        decimal.NewFromFloat(cfg.KellyMaxPosition),
		KellyMinWinRate: decimal.NewFromFloat(cfg.KellyMinWinRate),
		KellyMinTrades:  cfg.KellyMinTrades,
		HardCapPct:      decimal.NewFromFloat(0.25),
	}
	if cfg.GradualExitEnabled {
		oeCfg.GradualExit.PartialExitPct = 0.5
		oeCfg.GradualExit.GradualExitPct = 0.25
	}

	workers := cfg.OrderExecutorWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > 3 {
		workers = 3
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthSrv := startHealthServer(cfg.HealthPort)
	defer shutdownHealthServer(healthSrv)

	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		accounts := accountstate.New(client, 30*time.Second)
		worker := oe.New(oeCfg, q, db, client, notifier, accounts, regimeClassifier)
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- worker.Run(ctx)
		}()
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	select {
	case <-interrupt:
		log.Println("🛑 shutdown signal received")
		cancel()
		wg.Wait()
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			log.Printf("❌ a worker exited: %v", err)
			cancel()
			wg.Wait()
			return 1
		}
		cancel()
		wg.Wait()
	}
	return 0
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
