package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/haul-dispatch/internal/config"
	"github.com/example/haul-dispatch/internal/geo"
	"github.com/example/haul-dispatch/internal/logging"
	"github.com/example/haul-dispatch/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "projector_messages_consumed_total",
		Help: "Total trip events consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "projector_messages_invalid_total",
		Help: "Total undecodable trip events",
	})
	indexUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "projector_index_updates_total",
		Help: "Total successful location index writes",
	})
	indexErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "projector_index_errors_total",
		Help: "Total location index writes that failed after retries",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, indexUpdates, indexErrors)
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel, os.Stdout).With("component", "projector")

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	index := geo.NewRedisGeo(rc, cfg.RedisGeoKey)

	go serveHealth(cfg.MetricsAddr, rc, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 1, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("projector listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down projector")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		var ev models.TripEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			msgsInvalid.Inc()
			logger.Info("invalid trip event", "offset", m.Offset, "error", err)
			continue
		}

		applied, err := project(ctx, index, ev, 3, 200*time.Millisecond)
		if err != nil {
			indexErrors.Inc()
			logger.Error("location index update failed", "booking_id", ev.BookingID, "driver_id", ev.DriverID, "type", ev.Type, "error", err)
			continue
		}
		if applied {
			indexUpdates.Inc()
		}
	}
}

func serveHealth(addr string, rc *redis.Client, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := rc.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
		w.Write([]byte("ready"))
	})
	logger.Info("metrics/health listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

// PositionWriter is the subset of the location index the projector writes to.
type PositionWriter interface {
	Upsert(ctx context.Context, p models.Position) error
	Remove(ctx context.Context, driverID string) error
}

var errIncomplete = errors.New("trip event missing driver or location")

// project applies one trip event to the index. It reports whether the event
// changed the index; event types that carry nothing to project are skipped.
func project(ctx context.Context, w PositionWriter, ev models.TripEvent, attempts int, delay time.Duration) (bool, error) {
	switch ev.Type {
	case models.TripEventLocation:
		if ev.DriverID == "" || ev.Location == nil {
			return false, errIncomplete
		}
		p := models.Position{DriverID: ev.DriverID, BookingID: ev.BookingID, Loc: *ev.Location, Status: ev.Status, Updated: ev.At}
		return true, withRetry(ctx, attempts, delay, func() error { return w.Upsert(ctx, p) })
	case models.TripEventDelivered:
		if ev.DriverID == "" {
			return false, errIncomplete
		}
		return true, withRetry(ctx, attempts, delay, func() error { return w.Remove(ctx, ev.DriverID) })
	default:
		return false, nil
	}
}

// withRetry calls fn up to attempts times, doubling delay between failures.
func withRetry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		if !sleepCtx(ctx, delay) {
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
