package resolver

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/PercentBoat4164/GiteaOAuth/internal/auth"
	"github.com/PercentBoat4164/GiteaOAuth/internal/db"
)

// newPostgres starts a throwaway Postgres and returns it migrated.
func newPostgres(t *testing.T) *db.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "gitea_oauth",
				"POSTGRES_PASSWORD": "gitea_oauth",
				"POSTGRES_DB":       "gitea_oauth",
			},
			// Postgres restarts once after init; the second line means ready.
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://gitea_oauth:gitea_oauth@%s:%s/gitea_oauth?sslmode=disable", host, port.Port())
	database, err := db.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func countRows(t *testing.T, database *db.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestDBResolverPostgres(t *testing.T) {
	database := newPostgres(t)
	r := NewDBResolver(database)
	ctx := context.Background()

	alice := &auth.Identity{Provider: "gitea", ProviderUserID: "42", Login: "alice", Email: "alice@example.com"}

	var aliceID string

	t.Run("first login creates user and identity", func(t *testing.T) {
		id, err := r.Resolve(ctx, alice)
		require.NoError(t, err)
		require.NotEmpty(t, id)
		aliceID = id

		assert.Equal(t, 1, countRows(t, database, "users"))
		assert.Equal(t, 1, countRows(t, database, "identities"))

		var linked string
		require.NoError(t, database.QueryRow(
			`SELECT user_id FROM identities WHERE provider = $1 AND provider_user_id = $2`,
			"gitea", "42",
		).Scan(&linked))
		assert.Equal(t, aliceID, linked)
	})

	t.Run("returning login reuses user and refreshes profile", func(t *testing.T) {
		renamed := *alice
		renamed.Login = "alice2"
		renamed.Email = "alice@new.example.com"

		id, err := r.Resolve(ctx, &renamed)
		require.NoError(t, err)
		assert.Equal(t, aliceID, id)

		var login, email string
		require.NoError(t, database.QueryRow(
			`SELECT login, email FROM users WHERE id = $1`, id,
		).Scan(&login, &email))
		assert.Equal(t, "alice2", login)
		assert.Equal(t, "alice@new.example.com", email)
		assert.Equal(t, 1, countRows(t, database, "users"))
	})

	t.Run("other gitea user gets own account", func(t *testing.T) {
		id, err := r.Resolve(ctx, &auth.Identity{Provider: "gitea", ProviderUserID: "43", Login: "bob"})
		require.NoError(t, err)
		assert.NotEqual(t, aliceID, id)
		assert.Equal(t, 2, countRows(t, database, "users"))
	})

	t.Run("failed link rolls back new user", func(t *testing.T) {
		_, err := database.Exec(`ALTER TABLE identities ADD CONSTRAINT reject_999 CHECK (provider_user_id <> '999')`)
		require.NoError(t, err)

		_, err = r.Resolve(ctx, &auth.Identity{Provider: "gitea", ProviderUserID: "999", Login: "mallory"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "link identity")

		assert.Equal(t, 2, countRows(t, database, "users"))
		assert.Equal(t, 2, countRows(t, database, "identities"))
	})

	t.Run("cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := r.Resolve(cancelled, alice)
		assert.Error(t, err)
	})
}
