// Package events delivers exposure events to an external sink without ever
// blocking the evaluation hot path. Delivery is fire-and-forget and
// at-most-once: durability and retry are the sink's responsibility.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bifrost-flags/bifrost/internal/flag"
)

// Sink receives exposure events from the dispatcher's background worker.
type Sink interface {
	// Emit delivers one event. Errors are counted, not retried.
	Emit(ctx context.Context, ev flag.ExposureEvent) error
}

// Compile-time checks.
var (
	_ Sink = (*LogSink)(nil)
	_ Sink = (*RedisStreamSink)(nil)
)

// LogSink writes exposures to the structured log. Useful in development and
// as a last-resort sink when no event pipeline is configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink writing to the given logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Emit logs the exposure.
func (s *LogSink) Emit(_ context.Context, ev flag.ExposureEvent) error {
	s.logger.Info("exposure",
		slog.String("event_id", ev.ID),
		slog.String("subject_id", ev.SubjectID),
		slog.String("flag_key", ev.FlagKey),
		slog.String("variant_key", ev.VariantKey),
		slog.Int64("config_version", ev.ConfigVersion),
		slog.String("reason", string(ev.Reason)),
		slog.Time("timestamp", ev.Timestamp),
	)
	return nil
}

// RedisStreamSink appends exposures to a capped Redis Stream, from which the
// external analytics pipeline consumes them.
type RedisStreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamSink creates a sink appending to the given stream with
// approximate max-length trimming.
func NewRedisStreamSink(client *redis.Client, stream string, maxLen int64) *RedisStreamSink {
	if client == nil {
		panic("events: redis client cannot be nil")
	}
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

// Emit appends one event to the stream.
func (s *RedisStreamSink) Emit(ctx context.Context, ev flag.ExposureEvent) error {
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"event_id":       ev.ID,
			"subject_id":     ev.SubjectID,
			"flag_key":       ev.FlagKey,
			"variant_key":    ev.VariantKey,
			"config_version": strconv.FormatInt(ev.ConfigVersion, 10),
			"reason":         string(ev.Reason),
			"timestamp":      ev.Timestamp.Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append exposure to stream %q: %w", s.stream, err)
	}
	return nil
}
