//go:build integration

// Package testsupport starts throwaway backing services for integration tests.
package testsupport

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/labelscan/shared/postgresql"
	"github.com/cuongbtq/labelscan/shared/redis"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Redis starts a Redis container and returns a connected client
func Redis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	client, err := redis.NewClient(&redis.Config{
		Host:      host,
		Port:      port.Int(),
		KeyPrefix: "labelscan",
	}, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

// Postgres starts a PostgreSQL container, applies the schema and returns a
// connected client
func Postgres(t *testing.T) *postgresql.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "postgres",
				"POSTGRES_DB":       "labelscan",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	client, err := postgresql.NewClient(&postgresql.Config{
		Driver:       postgresql.DriverPGX,
		Host:         host,
		Port:         port.Int(),
		User:         "postgres",
		Password:     "postgres",
		Database:     "labelscan",
		SSLMode:      "disable",
		MaxOpenConns: 4,
		MaxIdleConns: 2,
	}, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Migrate(ctx))
	return client
}
