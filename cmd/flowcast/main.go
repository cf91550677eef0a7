package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/soochol/flowcast/internal/api"
	"github.com/soochol/flowcast/internal/auth"
	"github.com/soochol/flowcast/internal/config"
	"github.com/soochol/flowcast/internal/db"
	"github.com/soochol/flowcast/internal/live"
	"github.com/soochol/flowcast/internal/metrics"
	"github.com/soochol/flowcast/internal/repository"
	"github.com/soochol/flowcast/internal/services"
	"github.com/soochol/flowcast/internal/ticket"
)

func main() {
	cmd := ""
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	var err error
	switch cmd {
	case "serve":
		err = serve()
	case "migrate":
		err = migrate()
	default:
		fmt.Println("flowcast v0.1.0")
		fmt.Println("Usage: flowcast serve | flowcast migrate")
		return
	}
	if err != nil {
		slog.Error("flowcast: exiting", "err", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFiles(".env"); err != nil {
		return nil, err
	}
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	setupLogging(cfg.Log)
	return cfg, nil
}

func setupLogging(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
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

	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func migrate() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("migrate: database.url is not set")
	}

	ctx := context.Background()
	database, err := connectDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return err
	}
	slog.Info("migrations applied", "driver", database.Driver())
	return nil
}

// connectDB opens the database, waiting for it to accept connections.
func connectDB(ctx context.Context, cfg config.DatabaseConfig) (*db.DB, error) {
	var database *db.DB
	err := services.Retry(ctx, "connect database", services.DefaultStartupPolicy, func(ctx context.Context) error {
		var err error
		database, err = db.New(ctx, cfg.Driver, cfg.URL)
		return err
	})
	return database, err
}

func serve() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New("flowcast", reg)

	// Storage: PostgreSQL or SQLite when configured, in-memory otherwise.
	var repo repository.StateRepository
	if cfg.Database.URL != "" {
		database, err := connectDB(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.Migrate(ctx); err != nil {
			return err
		}
		repo = repository.NewPersistentStateRepository(database)
		slog.Info("using persistent storage", "driver", database.Driver())
	} else {
		repo = repository.NewMemoryStateRepository()
		slog.Info("using in-memory storage")
	}

	var tickets ticket.Store
	if cfg.Redis.URL != "" {
		var rs *ticket.RedisStore
		err := services.Retry(ctx, "connect redis", services.DefaultStartupPolicy, func(ctx context.Context) error {
			var err error
			rs, err = ticket.NewRedisStoreFromURL(ctx, cfg.Redis.URL, cfg.Live.TicketExpiry)
			return err
		})
		if err != nil {
			return err
		}
		defer rs.Close()
		tickets = rs
		slog.Info("using redis ticket store")
	} else {
		tickets = ticket.NewMemoryStore(cfg.Live.TicketExpiry)
	}

	authCfg := auth.Config{
		JWTSecret:   cfg.Auth.JWTSecret,
		DevMode:     cfg.Auth.DevMode,
		DevIdentity: cfg.Auth.DevIdentity,
	}
	if !authCfg.Enabled() {
		slog.Warn("auth.jwt_secret is not set, bearer tokens are ignored")
	}
	if authCfg.DevMode {
		slog.Warn("development mode: unauthenticated callers act as " + authCfg.DevIdentity)
	}

	hub := live.NewHub(repo, live.HubConfig{
		PollInterval:      cfg.Live.PollInterval,
		PollTimeout:       cfg.Live.PollTimeout,
		KeepAliveInterval: cfg.Live.KeepAliveInterval,
	}, m)

	sweeper := services.NewSweeper(tickets, cfg.Live.TicketSweep, m)
	sweeper.Start()
	defer sweeper.Stop()

	srv := api.NewServer(hub, tickets, authCfg)
	srv.SetMetrics(m)
	srv.SetStateService(services.NewStateService(repo, hub))
	srv.SetAllowQueryToken(cfg.Live.AllowQueryToken)
	srv.SetWildcardIdentities(cfg.Live.WildcardIdentities)

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Streams never go idle, so Shutdown would otherwise wait them out.
	httpSrv.RegisterOnShutdown(hub.Shutdown)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting flowcast server", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
