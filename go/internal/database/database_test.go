package database

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrations, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected file in migrations: %s", name)
		}
	}

	assert.Equal(t, ups, downs)
}

func TestQueueTableHasNoPrimaryKey(t *testing.T) {
	data, err := fs.ReadFile(migrations, "migrations/000004_create_issue_delivery_queue.up.sql")
	require.NoError(t, err)

	ddl := string(data)
	queue := ddl[:strings.Index(ddl, "CREATE INDEX")]
	assert.NotContains(t, strings.ToUpper(queue), "PRIMARY KEY")
}
