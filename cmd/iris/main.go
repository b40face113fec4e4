package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/XavierBriggs/Iris/adapters/scoreboard"
	"github.com/XavierBriggs/Iris/adapters/wsfeed"
	"github.com/XavierBriggs/Iris/internal/backoff"
	"github.com/XavierBriggs/Iris/internal/closer"
	"github.com/XavierBriggs/Iris/internal/config"
	"github.com/XavierBriggs/Iris/internal/delta"
	"github.com/XavierBriggs/Iris/internal/engine"
	"github.com/XavierBriggs/Iris/internal/monitor"
	"github.com/XavierBriggs/Iris/internal/notify"
	"github.com/XavierBriggs/Iris/internal/push"
	"github.com/XavierBriggs/Iris/internal/registry"
	"github.com/XavierBriggs/Iris/internal/scheduler"
	"github.com/XavierBriggs/Iris/internal/server"
	"github.com/XavierBriggs/Iris/internal/writer"
	"github.com/XavierBriggs/Iris/pkg/contracts"
	"github.com/XavierBriggs/Iris/sports/leagues"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := config.InitLogger(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer zap.L().Sync()

	if err := run(cfg); err != nil {
		zap.L().Error("iris exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log := zap.L().With(zap.String("component", "main"))
	var err error
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Leagues
	leagueRegistry := registry.NewLeagueRegistry()
	if err := leagues.RegisterCatalog(leagueRegistry); err != nil {
		return err
	}
	classifierCfg := leagues.DefaultConfig()
	classifierCfg.GraceWindow = cfg.Engine.GraceWindow
	classifier := leagues.NewClassifier(classifierCfg, leagueRegistry)
	log.Info("registered leagues", zap.Int("count", leagueRegistry.Count()))

	// Stores (optional)
	var db *sql.DB
	if cfg.Store.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.Store.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Warn("postgres unavailable, alert and final sinks disabled", zap.Error(err))
			db = nil
		} else {
			log.Info("connected to postgres")
		}
	}

	var redisClient *redis.Client
	if cfg.Store.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Store.RedisURL)
		if err != nil {
			return err
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, state cache and streams disabled", zap.Error(err))
			redisClient = nil
		} else {
			log.Info("connected to redis")
		}
	}

	var (
		store  contracts.StateStore
		alerts contracts.AlertSink
		finals contracts.FinalSink
	)
	if redisClient != nil {
		store = delta.NewCache(redisClient, cfg.Store.CacheTTL)
	}
	var alertWriter *writer.Writer
	if db != nil || redisClient != nil {
		alertWriter = writer.NewWriter(db, redisClient)
		alertWriter.Start(ctx)
		alerts = alertWriter
		finals = closer.NewCapturer(db, redisClient)
	}
	var pruner *closer.Pruner
	if db != nil {
		pruner = closer.NewPruner(db, closer.PrunerConfig{
			Retention: cfg.Store.AlertRetention,
			Interval:  cfg.Store.PruneInterval,
		})
		go pruner.Start(ctx)
	}

	// Upstream
	var provider contracts.ScoreProvider
	if cfg.PollingEnabled() {
		provider = scoreboard.NewClient(scoreboard.Config{
			BaseURL:    cfg.Provider.BaseURL,
			APIKey:     cfg.Provider.APIKey,
			Timeout:    cfg.Provider.Timeout,
			MaxRetries: cfg.Provider.MaxRetries,
		})
	} else {
		log.Warn("provider credentials missing, polling disabled")
	}

	var transport contracts.PushTransport
	if cfg.PushEnabled() {
		transport = wsfeed.NewTransport(wsfeed.Config{
			URL:   cfg.Push.URL,
			Token: cfg.Push.Token,
		})
	} else {
		log.Warn("push url missing, push disabled")
	}

	// Engine
	bo := backoff.New(backoff.Config{
		Initial:    cfg.Backoff.Initial,
		Max:        cfg.Backoff.Max,
		Multiplier: cfg.Backoff.Multiplier,
	})
	monCfg := monitor.DefaultConfig()
	monCfg.Interval = cfg.Monitor.Interval
	mon := monitor.New(monCfg, time.Now)

	pushManager := push.NewManager(push.Config{
		MaxConnections: cfg.Push.MaxConnections,
		MaxReconnects:  cfg.Push.MaxReconnects,
		StableAfter:    cfg.Push.StableAfter,
		Cooldown:       cfg.Push.Cooldown,
	}, transport, bo, mon, time.Now)

	eng := engine.New(engine.Config{
		Scheduler: scheduler.Config{
			Tick:              cfg.Scheduler.Tick,
			RequestsPerSecond: cfg.Scheduler.RequestsPerSecond,
			Burst:             cfg.Scheduler.Burst,
			JitterFraction:    cfg.Scheduler.JitterFraction,
		},
		RetainFor:            cfg.Engine.RetainFor,
		HistorySize:          cfg.Engine.HistorySize,
		HousekeepingInterval: cfg.Engine.HousekeepingInterval,
	}, engine.Deps{
		Provider:   provider,
		Push:       pushManager,
		Classifier: classifier,
		Backoff:    bo,
		Monitor:    mon,
		Store:      store,
		Alerts:     alerts,
		Finals:     finals,
	})

	notifier := notify.New(notify.Config{
		WebhookURL: cfg.Notify.WebhookURL,
		Timeout:    cfg.Notify.Timeout,
		QueueSize:  cfg.Notify.QueueSize,
	})
	if notifier.IsEnabled() {
		eng.OnScoreChange(notifier.Notify)
		notifier.Start(ctx)
	}

	eng.Start(ctx)

	// HTTP
	srv := server.New(eng, server.Options{CORSOrigins: cfg.Server.CORSOrigins})
	srv.Start(ctx)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the monitoring stream is long-lived
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("iris listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case runErr = <-serverErrors:
		log.Error("http server failed", zap.Error(runErr))
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	cancel()

	done := make(chan struct{})
	go func() {
		eng.Shutdown()
		notifier.Stop()
		if alertWriter != nil {
			alertWriter.Stop()
		}
		if pruner != nil {
			pruner.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("iris stopped")
	case <-shutdownCtx.Done():
		log.Error("shutdown timeout exceeded")
	}
	return runErr
}
