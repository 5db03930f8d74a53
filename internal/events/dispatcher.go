package events

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bifrost-flags/bifrost/internal/flag"
	"github.com/bifrost-flags/bifrost/internal/observability"
)

// Dispatcher is a bounded exposure queue drained by one background worker.
// Enqueue returns immediately in all cases: when the queue is full the
// oldest event is dropped and counted, because stalling an evaluation to
// preserve telemetry would invert the engine's priorities.
type Dispatcher struct {
	queue   chan flag.ExposureEvent
	sink    Sink
	logger  *slog.Logger
	dropped atomic.Int64

	// emitTimeout bounds a single sink call so a slow sink cannot wedge
	// the drain loop.
	emitTimeout time.Duration
}

// NewDispatcher creates a dispatcher with the given queue capacity.
func NewDispatcher(queueSize int, sink Sink, logger *slog.Logger) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	if sink == nil {
		panic("events: sink cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:       make(chan flag.ExposureEvent, queueSize),
		sink:        sink,
		logger:      logger,
		emitTimeout: 2 * time.Second,
	}
}

// Enqueue adds an event and returns immediately. On a full queue the oldest
// event is dropped to make room (at-most-once delivery is acceptable).
func (d *Dispatcher) Enqueue(ev flag.ExposureEvent) {
	for {
		select {
		case d.queue <- ev:
			observability.ExposureQueueDepth.Set(float64(len(d.queue)))
			return
		default:
		}

		select {
		case <-d.queue:
			d.dropped.Add(1)
			observability.ExposureDropped.Inc()
		default:
			// A concurrent drain freed space; retry the send.
		}
	}
}

// Dropped reports how many events have been discarded since startup.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run drains the queue until the context is cancelled, then flushes
// whatever is already buffered.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("exposure dispatcher started", slog.Int("queue_capacity", cap(d.queue)))

	for {
		select {
		case <-ctx.Done():
			d.flush()
			d.logger.Info("exposure dispatcher stopped",
				slog.Int64("dropped_total", d.dropped.Load()),
			)
			return nil
		case ev := <-d.queue:
			d.emit(ev)
		}
	}
}

// emit hands one event to the sink with a bounded context.
func (d *Dispatcher) emit(ev flag.ExposureEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), d.emitTimeout)
	defer cancel()

	observability.ExposureQueueDepth.Set(float64(len(d.queue)))

	if err := d.sink.Emit(ctx, ev); err != nil {
		observability.ExposureEmitted.WithLabelValues("error").Inc()
		d.logger.Warn("failed to emit exposure",
			slog.String("flag_key", ev.FlagKey),
			slog.String("error", err.Error()),
		)
		return
	}
	observability.ExposureEmitted.WithLabelValues("ok").Inc()
}

// flush drains events already buffered at shutdown without waiting for new
// ones.
func (d *Dispatcher) flush() {
	for {
		select {
		case ev := <-d.queue:
			d.emit(ev)
		default:
			return
		}
	}
}
