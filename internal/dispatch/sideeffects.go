package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/haul-dispatch/internal/observability"
)

const sideEffectQueue = 1024

type job struct {
	sink      string
	bookingID string
	fn        func(ctx context.Context) error
}

// runner executes best-effort writes one at a time, in submission order, off
// the coordinator's critical section. Failures are logged and counted only.
type runner struct {
	jobs    chan job
	done    chan struct{}
	timeout time.Duration
	logger  *slog.Logger
}

func newRunner(timeout time.Duration, logger *slog.Logger) *runner {
	r := &runner{
		jobs:    make(chan job, sideEffectQueue),
		done:    make(chan struct{}),
		timeout: timeout,
		logger:  logger,
	}
	go r.loop()
	return r
}

func (r *runner) submit(j job) {
	select {
	case r.jobs <- j:
	default:
		observability.SideEffectFailures.WithLabelValues(j.sink).Inc()
		r.logger.Error("side effect queue full, write dropped", "sink", j.sink, "booking_id", j.bookingID)
	}
}

func (r *runner) loop() {
	defer close(r.done)
	for j := range r.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		err := j.fn(ctx)
		cancel()
		if err != nil {
			observability.SideEffectFailures.WithLabelValues(j.sink).Inc()
			r.logger.Error("side effect failed", "sink", j.sink, "booking_id", j.bookingID, "error", err)
		}
	}
}

// close stops accepting work and waits for queued jobs to finish.
func (r *runner) close() {
	close(r.jobs)
	<-r.done
}
