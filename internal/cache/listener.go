package cache

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Listener consumes config-change notifications from the Redis pub/sub
// channel and evicts the affected keys. One Listener runs per instance, on
// its own goroutine; it only ever evicts, so it neither blocks nor is
// blocked by evaluation paths.
type Listener struct {
	client    *redis.Client
	channel   string
	hierarchy *Hierarchy
	logger    *slog.Logger
}

// NewListener creates an invalidation listener.
func NewListener(client *redis.Client, channel string, hierarchy *Hierarchy, logger *slog.Logger) *Listener {
	if client == nil {
		panic("cache: redis client cannot be nil")
	}
	if hierarchy == nil {
		panic("cache: hierarchy cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{client: client, channel: channel, hierarchy: hierarchy, logger: logger}
}

// Run subscribes and processes notifications until the context is
// cancelled. go-redis reconnects the subscription internally on transient
// failures.
func (l *Listener) Run(ctx context.Context) error {
	pubsub := l.client.Subscribe(ctx, l.channel)
	defer pubsub.Close()

	// Confirm the subscription before reporting readiness.
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	l.logger.Info("invalidation listener started", slog.String("channel", l.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("invalidation listener stopping")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			l.handle(ctx, msg.Payload)
		}
	}
}

func (l *Listener) handle(ctx context.Context, payload string) {
	var n Notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		l.logger.Warn("discarding malformed invalidation",
			slog.String("payload", payload),
			slog.String("error", err.Error()),
		)
		return
	}
	if n.Key == "" {
		l.logger.Warn("discarding invalidation without key")
		return
	}

	if err := l.hierarchy.Invalidate(ctx, n.Key); err != nil {
		// The local L1 eviction already happened; L2 will age out via TTL.
		l.logger.Warn("l2 invalidation failed",
			slog.String("flag_key", n.Key),
			slog.String("error", err.Error()),
		)
	}

	l.logger.Debug("config invalidated",
		slog.String("flag_key", n.Key),
		slog.Int64("version", n.Version),
	)
}
