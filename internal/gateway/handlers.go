package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tickertracker/internal/alerts"
	"tickertracker/internal/markethours"
	"tickertracker/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// AlertService is the pipeline surface the REST API drives.
type AlertService interface {
	AddAlert(ctx context.Context, symbol string, target decimal.Decimal, dir model.Direction) (model.Alert, error)
	RemoveAlert(ctx context.Context, symbol string, target decimal.Decimal, dir model.Direction) bool
	RemoveAlertByID(ctx context.Context, id string) (model.Alert, error)
	Alerts() []model.Alert
	Subscriptions() []string
	Connected() bool
	History(ctx context.Context, limit int) ([]model.Trigger, error)
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes registers all HTTP routes on the provided mux.
// The /api/metrics snapshot reads from gatherer, which may be nil.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, svc AlertService, gatherer prometheus.Gatherer) {
	// WebSocket endpoint
	mux.Handle("/ws", hub)

	// REST: list, create, cancel-by-condition
	mux.HandleFunc("/api/alerts", func(w http.ResponseWriter, r *http.Request) {
		if preflight(w, r) {
			return
		}
		switch r.Method {
		case http.MethodGet:
			list := svc.Alerts()
			if list == nil {
				list = []model.Alert{}
			}
			writeJSON(w, http.StatusOK, list)

		case http.MethodPost:
			var req AlertRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON")
				return
			}
			symbol, target, dir, err := req.condition()
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			a, err := svc.AddAlert(r.Context(), symbol, target, dir)
			if err != nil {
				writeError(w, statusFor(err), err.Error())
				return
			}
			writeJSON(w, http.StatusCreated, a)

		case http.MethodDelete:
			q := r.URL.Query()
			symbol, target, dir, err := conditionFromQuery(q.Get("symbol"), q.Get("target"), q.Get("direction"))
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			if !svc.RemoveAlert(r.Context(), symbol, target, dir) {
				writeError(w, http.StatusNotFound, alerts.ErrAlertNotFound.Error())
				return
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})

	// REST: cancel one instance by id
	mux.HandleFunc("/api/alerts/", func(w http.ResponseWriter, r *http.Request) {
		if preflight(w, r) {
			return
		}
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/api/alerts/")
		if id == "" || strings.Contains(id, "/") {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		a, err := svc.RemoveAlertByID(r.Context(), id)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, a)
	})

	// REST: trigger journal, newest first
	mux.HandleFunc("/api/alerts/history", func(w http.ResponseWriter, r *http.Request) {
		if preflight(w, r) {
			return
		}
		limit := 50
		if s := r.URL.Query().Get("limit"); s != "" {
			if l, err := strconv.Atoi(s); err == nil && l > 0 && l <= 1000 {
				limit = l
			}
		}
		hist, err := svc.History(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		if hist == nil {
			hist = []model.Trigger{}
		}
		writeJSON(w, http.StatusOK, hist)
	})

	// REST: current feed subscription set
	mux.HandleFunc("/api/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		if preflight(w, r) {
			return
		}
		subs := svc.Subscriptions()
		if subs == nil {
			subs = []string{}
		}
		writeJSON(w, http.StatusOK, subs)
	})

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if preflight(w, r) {
			return
		}
		subs := svc.Subscriptions()
		if subs == nil {
			subs = []string{}
		}
		now := time.Now()
		writeJSON(w, http.StatusOK, StatusResponse{
			Connected:     svc.Connected(),
			Subscriptions: subs,
			Alerts:        len(svc.Alerts()),
			Clients:       hub.ClientCount(),
			Seq:           hub.Seq(),
			MarketOpen:    markethours.IsMarketOpen(now),
			MarketStatus:  markethours.StatusString(now),
		})
	})

	// REST: envelopes in [from, to] for clients that noticed a seq gap
	mux.HandleFunc("/api/missed", func(w http.ResponseWriter, r *http.Request) {
		if preflight(w, r) {
			return
		}
		from, err1 := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
		to, err2 := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
		if err1 != nil || err2 != nil || from > to {
			writeError(w, http.StatusBadRequest, "from and to are required, from <= to")
			return
		}
		// A gap older than the buffer can only be partly filled; the client
		// compares this header against from.
		w.Header().Set("X-Replay-Oldest", strconv.FormatInt(hub.ReplayOldest(), 10))
		writeJSON(w, http.StatusOK, hub.Replay(from, to))
	})

	// REST: process and pipeline snapshot
	mux.HandleFunc("/api/metrics", func(w http.ResponseWriter, r *http.Request) {
		if preflight(w, r) {
			return
		}
		m, err := CollectMetrics(gatherer, time.Now())
		if err != nil {
			hub.log.Warn("metrics gather failed", "error", err)
		}
		m.LatencyP50, m.LatencyP95, m.LatencyP99 = hub.Latency.Percentiles()
		m.WSClients = hub.ClientCount()
		writeJSON(w, http.StatusOK, m)
	})
}

// preflight sets CORS headers and answers OPTIONS.
func preflight(w http.ResponseWriter, r *http.Request) bool {
	SetCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return true
	}
	return false
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, alerts.ErrAlertNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidSymbol),
		errors.Is(err, model.ErrInvalidTarget),
		errors.Is(err, model.ErrInvalidDirection):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
