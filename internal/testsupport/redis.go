package testsupport

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/bifrost-flags/bifrost/internal/config"
)

// RedisContainer holds references to the ephemeral Redis instance.
type RedisContainer struct {
	Container testcontainers.Container
	// Client is the raw go-redis client connected to the container, ready
	// to be wrapped by cache.NewL2 or events.NewRedisStreamSink.
	Client *goredis.Client
	// Config is the test configuration the client was built from, so tests
	// can construct listeners on the same channel.
	Config *config.RedisConfig
}

// Terminate cleans up the container and closes the client.
func (c *RedisContainer) Terminate(ctx context.Context) error {
	_ = c.Client.Close()
	return c.Container.Terminate(ctx)
}

// StartRedisContainer spins up a Redis 7-alpine container.
func StartRedisContainer(ctx context.Context) (*RedisContainer, error) {
	redisContainer, err := redis.Run(ctx,
		"redis:7-alpine",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	endpoint, err := redisContainer.PortEndpoint(ctx, "6379/tcp", "")
	if err != nil {
		return nil, fmt.Errorf("failed to get redis endpoint: %w", err)
	}

	// Parse host:port from endpoint (e.g., "localhost:54321")
	host, port, _ := strings.Cut(endpoint, ":")

	testCfg := &config.RedisConfig{
		Host:                host,
		Port:                port,
		Password:            "",
		DB:                  0,
		PingMaxRetries:      5,
		PingBackoff:         2 * time.Second,
		InvalidationChannel: "bifrost:invalidations",
	}
	// A plain client is enough here: the container's wait strategy already
	// guaranteed readiness, so the production ping-with-backoff path is not
	// needed (and importing it would cycle with the cache package's tests).
	client := goredis.NewClient(&goredis.Options{Addr: testCfg.Address()})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis container: %w", err)
	}

	return &RedisContainer{
		Container: redisContainer,
		Client:    client,
		Config:    testCfg,
	}, nil
}
