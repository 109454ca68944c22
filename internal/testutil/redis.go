// Package testutil provides test helpers including container management.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/fnfo/chat/internal/config"
	"github.com/fnfo/chat/internal/storage/redisstore"
)

// RedisContainer wraps a testcontainers Redis instance.
type RedisContainer struct {
	container testcontainers.Container
	Store     *redisstore.Client
	Config    config.RedisConfig
}

// NewRedisContainer starts a Redis test container and returns a
// connected store client.
//
// Precondition: Docker must be available.
// Postcondition: Returns a running container with a connected client,
// or fails the test.
func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()
	ctx := context.Background()
	start := time.Now()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("starting redis container: %v [%s]", err, time.Since(start))
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("getting container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("getting mapped port: %v", err)
	}

	cfg := config.RedisConfig{
		Addr:        fmt.Sprintf("%s:%s", host, port.Port()),
		DialTimeout: 5 * time.Second,
	}

	store, err := redisstore.NewClient(ctx, cfg)
	if err != nil {
		t.Fatalf("connecting to redis container: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
		_ = container.Terminate(context.Background())
	})

	return &RedisContainer{
		container: container,
		Store:     store,
		Config:    cfg,
	}
}
