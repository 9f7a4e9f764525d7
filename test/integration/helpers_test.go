//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func skipIfNoDocker(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if exec.CommandContext(ctx, "docker", "info").Run() != nil {
		t.Skip("Docker not available")
	}
}

func terminate(t *testing.T, c testcontainers.Container) {
	t.Helper()
	if err := c.Terminate(context.Background()); err != nil {
		t.Logf("terminating container: %v", err)
	}
}

// postgresDSN returns MARQUEE_TEST_PG_DSN when set, otherwise starts a
// throwaway PostgreSQL container.
func postgresDSN(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("MARQUEE_TEST_PG_DSN"); dsn != "" {
		return dsn
	}
	skipIfNoDocker(t)

	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        envOrDefault("MARQUEE_TEST_PG_IMAGE", "postgres:16-alpine"),
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "marquee",
				"POSTGRES_PASSWORD": "marquee",
				"POSTGRES_DB":       "movielens_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() { terminate(t, c) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatal(err)
	}
	return fmt.Sprintf("postgres://marquee:marquee@%s:%s/movielens_test?sslmode=disable", host, port.Port())
}

// mongoURI returns MARQUEE_TEST_MONGO_URI when set, otherwise starts a
// throwaway MongoDB container.
func mongoURI(t *testing.T) string {
	t.Helper()
	if uri := os.Getenv("MARQUEE_TEST_MONGO_URI"); uri != "" {
		return uri
	}
	skipIfNoDocker(t)

	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        envOrDefault("MARQUEE_TEST_MONGO_IMAGE", "mongo:7"),
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting mongo container: %v", err)
	}
	t.Cleanup(func() { terminate(t, c) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := c.MappedPort(ctx, "27017/tcp")
	if err != nil {
		t.Fatal(err)
	}
	return fmt.Sprintf("mongodb://%s:%s/?directConnection=true", host, port.Port())
}
