// assignd runs the interpreter auto-assignment engine: the scheduler loop,
// the operational HTTP surface, and the Prometheus metrics endpoint.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sssNYz/interpreter-booking/coordinator"
	"github.com/sssNYz/interpreter-booking/policy"
	"github.com/sssNYz/interpreter-booking/pool"
	"github.com/sssNYz/interpreter-booking/scheduler"
	"github.com/sssNYz/interpreter-booking/selection"
	"github.com/sssNYz/interpreter-booking/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, closeDB, err := openStore(ctx, logger)
	if err != nil {
		logger.Error("store initialization failed", "error", err)
		os.Exit(1)
	}
	defer closeDB()

	var cache *policy.Cache
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cache, err = policy.NewCache(addr, os.Getenv("REDIS_PASSWORD"), envInt("REDIS_DB", 0), logger)
		if err != nil {
			logger.Warn("policy cache unavailable, running uncached", "addr", addr, "error", err)
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	policies := policy.NewStore(db, cache)
	selector := selection.NewSelector(db, policies, logger)

	p := pool.New(db, func(ctx context.Context, b *store.Booking) (int, error) {
		envID, err := coordinator.ResolveEnvironment(ctx, db, b)
		if err != nil {
			return 0, err
		}
		eff, err := policies.Effective(ctx, envID)
		if err != nil {
			return 0, err
		}
		th, err := policies.ResolveThresholds(ctx, envID, b.MeetingType, eff.Mode)
		if err != nil {
			return 0, err
		}
		return th.UrgentThresholdDays, nil
	}, logger)

	coord := coordinator.New(db, policies, selector, p, logger)

	sched := scheduler.New(scheduler.Config{
		Interval: envDuration("SCHEDULER_INTERVAL", 30*time.Second),
		Workers:  envInt("SCHEDULER_WORKERS", 4),
		Horizon:  envDuration("SCHEDULER_HORIZON", 90*24*time.Hour),
	}, db, p, coord, coord.EnvKey, logger)
	if cache != nil {
		sched.SetLastPassStamp(cache.SetLastPass)
	}
	sched.Start(ctx)

	svc := coordinator.NewService(coordinator.ServiceConfig{
		ForwardMonthLimit: envInt("FORWARD_MONTH_LIMIT", 1),
	}, db, policies, coord, p, sched, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/internal/run-pass", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		err := svc.RunSchedulerPass(r.Context(), scheduler.PassManual)
		if errors.Is(err, scheduler.ErrPassInProgress) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/internal/eta", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.URL.Query().Get("booking_id"), 10, 64)
		if err != nil {
			http.Error(w, "booking_id is required", http.StatusBadRequest)
			return
		}
		eta, err := svc.ComputeETA(r.Context(), id)
		if err != nil {
			status := http.StatusInternalServerError
			if store.IsCode(err, store.CodeNotFound) {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(eta)
	})

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("http listener started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http listener failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if n := coord.FlushBufferedLogs(shutdownCtx); n > 0 {
		logger.Info("flushed buffered assignment logs", "count", n)
	}
}

// openStore picks the backend: Postgres when DATABASE_URL is set, otherwise
// the in-memory store for standalone runs.
func openStore(ctx context.Context, logger *slog.Logger) (store.Store, func(), error) {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pg, err := store.NewPostgresStore(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("connected to postgres")
		return pg, pg.Close, nil
	}
	logger.Warn("DATABASE_URL not set, using in-memory store")
	return store.NewMemoryStore(), func() {}, nil
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
