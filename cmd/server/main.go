package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/example/haul-dispatch/internal/config"
	"github.com/example/haul-dispatch/internal/dispatch"
	"github.com/example/haul-dispatch/internal/geo"
	httpapi "github.com/example/haul-dispatch/internal/http"
	"github.com/example/haul-dispatch/internal/hub"
	"github.com/example/haul-dispatch/internal/ingest"
	"github.com/example/haul-dispatch/internal/logging"
	"github.com/example/haul-dispatch/internal/storage"
)

func main() {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var tracker geo.Tracker = geo.NewIndex()
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable at startup", "addr", cfg.RedisAddr, "error", err)
		}
		tracker = geo.NewRedisGeo(rc, cfg.RedisGeoKey)
		logger.Info("using redis location index", "addr", cfg.RedisAddr, "key", cfg.RedisGeoKey)
	}

	opts := dispatch.Options{
		Orders:         store,
		Locations:      tracker,
		BookingTTL:     cfg.BookingTTL,
		SweepInterval:  cfg.SweepInterval,
		PersistTimeout: cfg.PersistTimeout,
		Logger:         logger,
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		opts.Events = producer
		logger.Info("publishing trip events", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	reg := hub.NewRegistry(cfg.SendBuffer, logger)
	coord := dispatch.New(reg, opts)
	defer coord.Close()
	go coord.Run(ctx)

	api := httpapi.NewServer(httpapi.Deps{
		Stats:       coord,
		Orders:      store,
		Locations:   tracker,
		WS:          hub.NewWSHandler(reg, coord, cfg.CORSOrigins, logger),
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
	})
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("haul-dispatch listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	reg.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.OrderStore, error) {
	if cfg.PGDSN == "" {
		logger.Info("using in-memory order store")
		return storage.NewMemoryStore(), nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	ps, err := storage.NewPostgresStore(connectCtx, cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	if cfg.RunMigrations {
		n, err := ps.Migrate(connectCtx)
		if err != nil {
			_ = ps.Close()
			return nil, err
		}
		logger.Info("migrations applied", "count", n)
	}
	return ps, nil
}
