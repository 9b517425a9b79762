package testutil

import (
	"context"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// SetupTestRedis creates a Redis container for testing and returns a
// connected client. The returned cleanup function must be called to
// terminate the container.
func SetupTestRedis(t *testing.T) (*goredis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to get connection string: %v", err)
	}

	opts, err := goredis.ParseURL(connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to parse Redis URL: %v", err)
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to ping Redis: %v", err)
	}

	cleanup := func() {
		_ = client.Close()
		_ = container.Terminate(context.Background())
	}

	return client, cleanup
}
