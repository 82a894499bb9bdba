// Command tickserver is a demo price feed speaking the alertd stream protocol.
//
// Clients send a JSON array of symbols (the complete set they want; `[]`
// clears it) and receive one tick per subscribed symbol every interval:
//
//	{"symbol":"AAPL","price":"175.25","timestamp":"2026-02-25T10:00:00.123Z"}
//
// Config (env vars):
//
//	TICK_SERVER_ADDR  listen address  (default: ":8000")
//	TICK_PRICES       SYMBOL:PRICE starting prices (default: "AAPL:175,TSLA:190,MSFT:420")
//	TICK_INTERVAL_MS  broadcast interval milliseconds (default: "1000")
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"tickertracker/internal/logger"
)

func main() {
	log := logger.Init("tickserver", slog.LevelInfo)

	addr := envOrDefault("TICK_SERVER_ADDR", ":8000")
	prices, err := parsePrices(envOrDefault("TICK_PRICES", "AAPL:175,TSLA:190,MSFT:420"))
	if err != nil {
		log.Error("bad TICK_PRICES", "error", err)
		os.Exit(1)
	}
	interval := time.Duration(envIntOrDefault("TICK_INTERVAL_MS", 1000)) * time.Millisecond

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	f := newFeed(prices, log)
	go f.run(ctx, interval)

	mux := http.NewServeMux()
	mux.Handle("/ws/ticker", f)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("listening", "addr", addr, "path", "/ws/ticker", "interval", interval)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
