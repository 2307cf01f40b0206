package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/polyagent/arb-engine/internal/api"
	"github.com/polyagent/arb-engine/internal/catalog"
	"github.com/polyagent/arb-engine/internal/config"
	"github.com/polyagent/arb-engine/internal/feed"
	"github.com/polyagent/arb-engine/internal/ledger"
	"github.com/polyagent/arb-engine/internal/limits"
	"github.com/polyagent/arb-engine/internal/metrics"
	"github.com/polyagent/arb-engine/internal/prices"
	"github.com/polyagent/arb-engine/internal/store"
)

func main() {
	configPath := flag.String("config", "arb.toml", "path to the TOML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("arb-engine exited", "err", err)
		os.Exit(1)
	}
	fmt.Println("arb-engine stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Redis (optional) ---
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		slog.Info("Redis enabled")
	}

	// --- Portfolio store ---
	st, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, closeStore)
	if rdb != nil {
		st = store.NewCachedStore(st, rdb, cfg.Redis.TTL.Duration)
	}

	// --- Catalog and prices ---
	cat := catalog.NewSnapshotCatalog(cfg.Catalog.Path, cfg.Catalog.RefreshInterval.Duration)
	if err := cat.Refresh(ctx); err != nil {
		slog.Warn("pairs snapshot not loaded yet", "path", cfg.Catalog.Path, "err", err)
	} else {
		metrics.PairsLoaded.Set(float64(cat.Len()))
	}

	var live prices.Live = prices.NewBook()
	if rdb != nil {
		live = prices.NewRedisCache(rdb, 0)
	}
	priceSource := prices.NewOverlay(live, cat)

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()

	// --- Ledger ---
	limiter := limits.NewTradeLimiter(
		decimal.NewFromFloat(cfg.Portfolio.MaxTradeAmount),
		decimal.NewFromFloat(cfg.Portfolio.MaxKeywordExposure),
	)
	ledgerSvc := ledger.New(ledger.Options{
		Store:           st,
		Pairs:           cat,
		Prices:          priceSource,
		Limiter:         limiter,
		StartingBalance: decimal.NewFromFloat(cfg.Portfolio.StartingBalance),
		Observer:        wsHub,
	})

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors(cfg.Server.CORSOrigins))

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())
	api.NewHandler(cat, priceSource, ledgerSvc, wsHub).Routes(r)

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		wsHub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		refreshCatalog(gctx, cat, cfg.Catalog.RefreshInterval.Duration)
		return nil
	})

	if cfg.Feed.Enabled {
		streamer := feed.New(cfg.Feed.WSURL, cat, live, slog.Default())
		g.Go(func() error { return streamer.Run(gctx) })
	}

	g.Go(func() error {
		slog.Info("arb-engine listening", "port", cfg.Server.Port, "store", cfg.Store.Driver, "feed", cfg.Feed.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Graceful shutdown.
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()

		slog.Info("shutting down arb-engine...")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
		return nil
	})

	return g.Wait()
}

// openStore builds the configured portfolio store and a function that
// releases it.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.PortfolioStore, func(), error) {
	switch strings.ToLower(cfg.Driver) {
	case "memory":
		slog.Warn("using in-memory store (portfolio will not persist)")
		return store.NewMemoryStore(), func() {}, nil

	case "badger":
		bs, err := store.OpenBadgerStore(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open badger store: %w", err)
		}
		slog.Info("using Badger store", "path", cfg.Path)
		return bs, func() { bs.Close() }, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		ps := store.NewPostgresStore(pool)
		if err := ps.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		slog.Info("connected to PostgreSQL")
		return ps, pool.Close, nil

	default:
		slog.Info("using file store", "path", cfg.Path)
		return store.NewFileStore(cfg.Path), func() {}, nil
	}
}

// refreshCatalog reloads the pairs snapshot on its interval so the health
// gauge and token list track the file even without traffic.
func refreshCatalog(ctx context.Context, cat *catalog.SnapshotCatalog, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := cat.Refresh(ctx); err != nil {
				slog.Debug("pairs snapshot refresh failed", "err", err)
				continue
			}
			metrics.PairsLoaded.Set(float64(cat.Len()))
		}
	}
}

// cors allows the configured origins; "*" allows any.
func cors(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowed["*"]:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
