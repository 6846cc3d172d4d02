package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/atmx/betslip-engine/internal/betting"
	"github.com/atmx/betslip-engine/internal/config"
	"github.com/atmx/betslip-engine/internal/metrics"
	"github.com/atmx/betslip-engine/internal/monitor"
	"github.com/atmx/betslip-engine/internal/parlay"
	"github.com/atmx/betslip-engine/internal/session"
	"github.com/atmx/betslip-engine/internal/signer"
	"github.com/atmx/betslip-engine/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("betslip-engine failed", "err", err)
		os.Exit(1)
	}
	fmt.Println("betslip-engine stopped")
}

func run() error {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var rdb *redis.Client
	var cleanup []func()

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if cfg.Database.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				return err
			}
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL())
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL())
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	if cfg.MarketsFile != "" {
		markets, err := config.LoadMarkets(cfg.MarketsFile)
		if err != nil {
			return err
		}
		if err := st.UpsertMarkets(ctx, markets); err != nil {
			return fmt.Errorf("seed markets: %w", err)
		}
		slog.Info("markets seeded", "file", cfg.MarketsFile, "count", len(markets))
	}

	// --- Pricing ---
	tiers, err := cfg.Tiers()
	if err != nil {
		return err
	}
	engine, err := parlay.NewEngine(tiers)
	if err != nil {
		return err
	}

	// --- Confirmation source and signer ---
	src, sign, err := newConfirmation(cfg, rdb, logger)
	if err != nil {
		return err
	}
	mon := monitor.New(src, cfg.MonitorTimeout(), logger)

	// --- WebSocket hub ---
	wsHub := betting.NewWSHub()

	// --- Betting service ---
	limit := rate.Every(time.Minute / time.Duration(cfg.Session.SubmitsPerMinute))
	svc := betting.NewService(st, session.Deps{
		Engine:  engine,
		Signer:  sign,
		Monitor: mon,
		Target:  cfg.Target(),
		Logger:  logger,
	}, wsHub, limit, cfg.Session.SubmitBurst)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"betslip-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for slip and transaction updates. Registered
		// outside the timeout group so long-lived connections survive.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			svc.Mount(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		wsHub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		idle := cfg.SessionIdleTimeout()
		svc.RunExpiry(gctx, min(idle, time.Minute), idle)
		return nil
	})

	g.Go(func() error {
		slog.Info("betslip-engine listening",
			"port", cfg.Server.Port,
			"program", cfg.Program.ID,
			"network", cfg.Program.Network,
			"monitor_source", cfg.Monitor.Source,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown.
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down betslip-engine...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		svc.Close()
		return err
	})

	return g.Wait()
}

// newConfirmation selects the confirmation source. The development signer
// publishes its confirmations to Redis when a Redis source is in use, and
// the delayed source confirms on its own otherwise.
func newConfirmation(cfg *config.Config, rdb *redis.Client, logger *slog.Logger) (monitor.ConfirmationSource, session.Signer, error) {
	switch cfg.Monitor.Source {
	case config.SourceDelayed:
		return monitor.DelayedSource{Delay: cfg.ConfirmDelay()},
			signer.NewDevSigner(nil, 0, logger), nil

	case config.SourceRedis, config.SourceRedisPoll:
		if rdb == nil {
			return nil, nil, fmt.Errorf("monitor source %q requires REDIS_URL", cfg.Monitor.Source)
		}
		rs := monitor.NewRedisSource(rdb)
		sign := signer.NewDevSigner(rs, cfg.ConfirmDelay(), logger)
		if cfg.Monitor.Source == config.SourceRedisPoll {
			return monitor.NewPollingSource(rs, cfg.PollInterval(), logger), sign, nil
		}
		return rs, sign, nil
	}
	return nil, nil, fmt.Errorf("unknown monitor source %q", cfg.Monitor.Source)
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
