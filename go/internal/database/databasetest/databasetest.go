// Package databasetest starts a disposable Postgres for integration tests.
package databasetest

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mcdev12/newsletter/go/internal/database"
)

const databaseName = "newsletter_test"

// DB is a migrated database running in a container.
type DB struct {
	*sql.DB
	DSN string
}

// New starts a Postgres container, applies the schema and registers cleanup on t.
func New(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase(databaseName),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(ctx))
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.PingContext(ctx))
	require.NoError(t, database.Migrate(db, databaseName))

	return &DB{DB: db, DSN: dsn}
}

// InsertIssue stores a minimal issue so queue rows can reference it.
func (d *DB) InsertIssue(t *testing.T, title string) string {
	t.Helper()
	var id string
	err := d.QueryRow(`
INSERT INTO newsletter_issues (newsletter_issue_id, title, text_content, html_content)
VALUES (gen_random_uuid(), $1, 'text', '<p>html</p>')
RETURNING newsletter_issue_id`, title).Scan(&id)
	require.NoError(t, err)
	return id
}

// InsertSubscriber stores a subscriber with the given status.
func (d *DB) InsertSubscriber(t *testing.T, email, status string) {
	t.Helper()
	_, err := d.Exec(`
INSERT INTO subscriptions (id, email, name, status)
VALUES (gen_random_uuid(), $1, 'test', $2)`, email, status)
	require.NoError(t, err)
}
