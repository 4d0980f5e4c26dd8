// Package testsupport starts disposable backing services for integration tests.
//
// Containers are only started when DOCKER_AVAILABLE is "true" or "1" and the test binary
// does not run with -short; otherwise the calling test is skipped.
package testsupport

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	libdb "chargehub/backend/libs/db"
	libredis "chargehub/backend/libs/redis"
)

const readyTimeout = 30 * time.Second

// RequireDocker skips t unless container tests are enabled.
func RequireDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in -short mode")
	}
	if v := os.Getenv("DOCKER_AVAILABLE"); v != "true" && v != "1" {
		t.Skip("docker not available")
	}
}

// start runs the container and returns host:port of its single exposed port.
func start(t *testing.T, req tc.ContainerRequest) string {
	t.Helper()
	ctx := context.Background()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start %s: %v", req.Image, err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate %s: %v", req.Image, err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get container endpoint: %v", err)
	}
	return endpoint
}

// StartRedis launches redis and returns a connected client.
func StartRedis(t *testing.T) *goredis.Client {
	t.Helper()
	RequireDocker(t)
	addr := start(t, tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(readyTimeout),
	})

	client, err := libredis.NewRedisClient(addr, "", 0)
	if err != nil {
		t.Fatalf("failed to connect redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// StartPostgres launches postgres and returns an open pool.
func StartPostgres(t *testing.T) *sql.DB {
	t.Helper()
	RequireDocker(t)
	addr := start(t, tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "chargehub",
			"POSTGRES_PASSWORD": "chargehub",
			"POSTGRES_DB":       "chargehub",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(readyTimeout),
	})

	dsn := fmt.Sprintf("postgres://chargehub:chargehub@%s/chargehub?sslmode=disable", addr)
	var (
		db  *sql.DB
		err error
	)
	for i := 0; i < 10; i++ {
		if db, err = libdb.NewPostgresDB(dsn); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("failed to connect postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
