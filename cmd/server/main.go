package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/brunobiangulo/lexgraph"
	"github.com/brunobiangulo/lexgraph/session"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON or YAML)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := lexgraph.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = lexgraph.LoadConfig(*configPath); err != nil {
			slog.Error("loading config", "error", err)
			os.Exit(1)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		slog.Error("reading environment", "error", err)
		os.Exit(1)
	}

	apiKey := os.Getenv("LEXGRAPH_API_KEY")
	corsOrigins := os.Getenv("LEXGRAPH_CORS_ORIGINS")

	engine, err := lexgraph.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	sessions, closeSessions := openSessions()
	defer closeSessions()

	h := newHandler(engine, sessions)

	// Middleware chain: recovery -> cors -> auth -> request id -> logging -> mux
	var handler http.Handler = h.routes()
	handler = logMiddleware(handler)
	handler = requestIDMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // ingest and graph rebuilds can be long
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr, "index", cfg.IndexBackend, "extractor", cfg.GraphExtractor)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

// openSessions uses Redis when LEXGRAPH_REDIS_ADDR is set and an in-memory
// store otherwise.
func openSessions() (session.Store, func()) {
	ttl := session.DefaultTTL
	if v := os.Getenv("LEXGRAPH_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Error("invalid LEXGRAPH_SESSION_TTL", "value", v, "error", err)
			os.Exit(1)
		}
		ttl = d
	}

	addr := os.Getenv("LEXGRAPH_REDIS_ADDR")
	if addr == "" {
		mem := session.NewMemoryStore(ttl)
		stop := make(chan struct{})
		go func() {
			t := time.NewTicker(ttl)
			defer t.Stop()
			for {
				select {
				case <-t.C:
					if n := mem.Sweep(); n > 0 {
						slog.Debug("sessions expired", "count", n)
					}
				case <-stop:
					return
				}
			}
		}()
		return mem, func() { close(stop) }
	}

	db, _ := strconv.Atoi(os.Getenv("LEXGRAPH_REDIS_DB"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := session.Dial(ctx, addr, os.Getenv("LEXGRAPH_REDIS_PASSWORD"), db)
	if err != nil {
		slog.Error("connecting to redis", "addr", addr, "error", err)
		os.Exit(1)
	}
	slog.Info("sessions stored in redis", "addr", addr, "db", db)
	return session.NewRedisStore(client, ttl), func() { client.Close() }
}
