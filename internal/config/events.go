package config

import "fmt"

// EventsConfig configures the exposure event dispatcher.
type EventsConfig struct {
	// QueueSize bounds the in-memory exposure queue. When full, the oldest
	// event is dropped (and counted) rather than blocking the hot path.
	QueueSize int `envconfig:"QUEUE_SIZE" default:"4096" validate:"min=1"`

	// Sink selects the exposure destination.
	Sink string `envconfig:"SINK" default:"log" validate:"oneof=log redis"`

	// Stream is the Redis Stream key used by the redis sink.
	Stream string `envconfig:"STREAM" default:"bifrost:exposures"`

	// StreamMaxLen caps the Redis Stream (approximate trimming).
	StreamMaxLen int64 `envconfig:"STREAM_MAX_LEN" default:"1000000" validate:"min=1"`
}

// Validate checks the events configuration.
func (c *EventsConfig) Validate() error {
	if c.Sink == "redis" && c.Stream == "" {
		return fmt.Errorf("events stream cannot be empty when sink is redis")
	}
	return nil
}
