package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/andreasstove999/ecommerce-system/orders-ms/internal/db"
)

const (
	dbUser     = "order_user"
	dbPassword = "order_pass"
	dbName     = "orders"
)

// StartPostgres launches a Postgres container, applies the migrations and
// returns an open handle plus a cleanup function registered with t.Cleanup.
func StartPostgres(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     dbUser,
			"POSTGRES_PASSWORD": dbPassword,
			"POSTGRES_DB":       dbName,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(90 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	mappedPort, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", dbUser, dbPassword, host, mappedPort.Port(), dbName)

	require.NoError(t, db.RunMigrations(dsn, log.New(io.Discard, "", 0)))

	conn, err := db.Open(ctx, dsn)
	require.NoError(t, err)

	cleanup := func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cleanupCancel()

		_ = conn.Close()
		_ = container.Terminate(cleanupCtx)
	}

	t.Cleanup(cleanup)

	return conn, cleanup
}

// Truncate empties every order table between tests sharing a container.
func Truncate(t *testing.T, conn *sql.DB) {
	t.Helper()
	_, err := conn.Exec(`TRUNCATE order_receipts, order_items, orders, event_sequence`)
	require.NoError(t, err)
}
