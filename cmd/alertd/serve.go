package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tickertracker/internal/alertfile"
	"tickertracker/internal/alerts"
	"tickertracker/internal/engine"
	"tickertracker/internal/gateway"
	"tickertracker/internal/metrics"
	"tickertracker/internal/model"
	"tickertracker/internal/notification"
	redisstore "tickertracker/internal/store/redis"
	sqlitestore "tickertracker/internal/store/sqlite"
	"tickertracker/internal/stream"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the alert pipeline, dashboard gateway and metrics server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	processStart := time.Now()

	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log.Info("starting", "version", Version, "feed", cfg.FeedURL, "mail", describeMail(cfg))

	policy, err := alerts.ParseDuplicatePolicy(cfg.DuplicatePolicy)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// ---- Metrics & health ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, reg)
	metricsSrv.Start()

	// ---- SQLite (pending alerts + trigger journal) ----
	store, err := sqlitestore.Open(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info("sqlite store ready", "path", cfg.SQLitePath)

	// ---- Redis fan-out (optional) ----
	var pub *redisstore.Publisher
	if cfg.RedisAddr != "" {
		pub, err = redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Warn("redis init failed, continuing without redis", "error", err)
			pub = nil
		} else {
			defer pub.Close()
			pub.OnSkipped = prom.RedisSkippedWrites.Inc
			pub.Breaker().OnStateChange = func(from, to redisstore.State) {
				prom.RedisCircuitBreakerState.Set(float64(to))
				if to == redisstore.StateOpen {
					prom.RedisCircuitBreakerTrips.Inc()
				}
				log.Warn("redis circuit breaker", "from", from.String(), "to", to.String())
			}
			log.Info("redis publisher ready", "addr", cfg.RedisAddr)
		}
	}

	var rdb *goredis.Client
	if pub != nil {
		rdb = pub.Client()
	}
	health.StartLivenessChecker(ctx, rdb, store.DB(), 10*time.Second)

	// ---- Dashboard hub ----
	hub := gateway.NewHub(log)
	var toaster notification.Toaster = hub
	if pub != nil {
		// Toasts go through Redis so every instance's dashboards see them;
		// the relay brings them back to ours. When Redis is down or the
		// breaker is open, our own dashboards still get them.
		toaster = notification.FallbackToaster{Primary: pub, Fallback: hub}
		go hub.RunRelay(ctx, rdb)
	}

	// ---- Seed alerts ----
	var seeds []alertfile.Entry
	if cfg.AlertsFile != "" {
		seeds, err = alertfile.Load(cfg.AlertsFile)
		if err != nil {
			return err
		}
	}

	ecfg := engine.Config{
		Stream: stream.Config{
			URL:               cfg.FeedURL,
			ReconnectDelay:    cfg.ReconnectDelay,
			MaxReconnectDelay: cfg.MaxReconnectDelay,
		},
		Duplicates:    policy,
		Presenter:     newPresenter(cfg, log),
		Toaster:       toaster,
		Mailer:        newMailer(cfg, log),
		MailTo:        cfg.MailTo,
		NotifyTimeout: cfg.NotifyTimeout,
		MailTimeout:   cfg.MailTimeout,
		Store:         store,
		Journal:       store,
		Seeds:         seeds,
		Metrics:       prom,
		Health:        health,
		Logger:        log,
		OnTrigger:     hub.Trigger,
	}
	if pub != nil {
		ecfg.Publisher = pub
	}
	svc := engine.New(ecfg)
	svc.OnTick(func(t model.Tick) { hub.Tick(t) })
	svc.OnConnectionChange(
		func() { hub.SetConnected(true) },
		func() { hub.SetConnected(false) },
	)

	if err := svc.Start(ctx); err != nil {
		return err
	}

	// ---- HTTP gateway ----
	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, svc, reg)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("gateway listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error("gateway server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)
	svc.Stop()
	metricsSrv.Stop(shutdownCtx)

	log.Info("stopped", "uptime", time.Since(processStart).Round(time.Second))
	return nil
}
