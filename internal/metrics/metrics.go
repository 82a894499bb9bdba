package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the alert pipeline.
type Metrics struct {
	// Feed connection
	TicksTotal        prometheus.Counter
	MalformedTicks    prometheus.Counter
	StreamReconnects  prometheus.Counter
	StreamConnected   prometheus.Gauge
	SubscribedSymbols prometheus.Gauge
	TickEvaluationDur prometheus.Histogram

	// Alerts
	ActiveAlerts    prometheus.Gauge
	AlertsTriggered *prometheus.CounterVec // labels: direction

	// Delivery
	NotifyFallbacks *prometheus.CounterVec // labels: reason
	MailsTotal      *prometheus.CounterVec // labels: result=sent|failed
	MailDuration    prometheus.Histogram

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisSkippedWrites       prometheus.Counter
}

// NewMetrics registers and returns all Prometheus metrics on reg. Pass
// prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertd_ticks_total",
			Help: "Total ticks received from the price feed",
		}),
		MalformedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertd_malformed_ticks_total",
			Help: "Inbound frames dropped as unparseable",
		}),
		StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertd_stream_reconnects_total",
			Help: "Total feed reconnection attempts scheduled",
		}),
		StreamConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alertd_stream_connected",
			Help: "Feed connection state (0=down, 1=up)",
		}),
		SubscribedSymbols: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alertd_subscribed_symbols",
			Help: "Symbols in the feed subscription set",
		}),
		TickEvaluationDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alertd_tick_evaluation_duration_seconds",
			Help:    "Time to evaluate and dispatch alerts for one tick",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),

		ActiveAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alertd_active_alerts",
			Help: "Pending alerts in the registry",
		}),
		AlertsTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertd_alerts_triggered_total",
			Help: "Alerts fired (by direction)",
		}, []string{"direction"}),

		NotifyFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertd_notify_fallbacks_total",
			Help: "Notifications delivered as toasts because the presenter failed",
		}, []string{"reason"}),
		MailsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertd_mails_total",
			Help: "Alert e-mails by result",
		}, []string{"result"}),
		MailDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alertd_mail_duration_seconds",
			Help:    "Alert e-mail send latency",
			Buckets: prometheus.DefBuckets,
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alertd_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertd_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisSkippedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertd_redis_skipped_writes_total",
			Help: "Publishes skipped while the Redis circuit breaker was open",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.MalformedTicks,
		m.StreamReconnects,
		m.StreamConnected,
		m.SubscribedSymbols,
		m.TickEvaluationDur,
		m.ActiveAlerts,
		m.AlertsTriggered,
		m.NotifyFallbacks,
		m.MailsTotal,
		m.MailDuration,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisSkippedWrites,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	StreamConnected bool      `json:"stream_connected"`
	LastTickTime    time.Time `json:"last_tick_time"`
	ActiveAlerts    int       `json:"active_alerts"`
	RedisEnabled    bool      `json:"redis_enabled"`
	RedisConnected  bool      `json:"redis_connected"`
	SQLiteEnabled   bool      `json:"sqlite_enabled"`
	SQLiteOK        bool      `json:"sqlite_ok"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetStreamConnected(v bool) {
	h.mu.Lock()
	h.StreamConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetActiveAlerts(n int) {
	h.mu.Lock()
	h.ActiveAlerts = n
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteEnabled = true
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either client may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	check := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
		if sqlDB != nil {
			h.CheckSQLite(probeCtx, sqlDB)
		}
	}

	go func() {
		check()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint. The feed connection is required;
// Redis and SQLite count only when configured.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	redisOK := !h.RedisEnabled || h.RedisConnected
	sqliteOK := !h.SQLiteEnabled || h.SQLiteOK

	// Determine overall status
	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.StreamConnected || !redisOK || !sqliteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.StreamConnected && !sqliteOK {
		overallStatus = "unhealthy"
	}

	// Tick age
	tickAge := ""
	lastTick := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
		lastTick = h.LastTickTime.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		StreamConnected bool    `json:"stream_connected"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		ActiveAlerts    int     `json:"active_alerts"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		StreamConnected: h.StreamConnected,
		LastTickTime:    lastTick,
		TickAge:         tickAge,
		ActiveAlerts:    h.ActiveAlerts,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server backed by gatherer.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler exposes the mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("metrics server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
