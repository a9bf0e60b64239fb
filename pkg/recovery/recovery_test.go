package recovery_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/fuel-code/server/pkg/config"
	"github.com/fuel-code/server/pkg/database"
	"github.com/fuel-code/server/pkg/domain"
	"github.com/fuel-code/server/pkg/eventstore"
	"github.com/fuel-code/server/pkg/recovery"
)

func newTestStore(t *testing.T) *eventstore.Store {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	client, err := database.NewClient(ctx, config.DatabaseConfig{
		URL:          connStr,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return eventstore.New(client.Pool())
}

type fakeEnqueuer struct {
	enqueued []string
}

func (f *fakeEnqueuer) Enqueue(sessionID string) { f.enqueued = append(f.enqueued, sessionID) }

// backdate pushes a session's updated_at into the past so it reads as
// stuck/idle to the cooldown-gated scans without needing to sleep in tests.
func backdate(t *testing.T, store *eventstore.Store, sessionID string, age time.Duration) {
	t.Helper()
	ctx := context.Background()
	_, err := store.Pool.Exec(ctx, `UPDATE sessions SET updated_at = now() - $2::interval WHERE id = $1`, sessionID, age.String())
	require.NoError(t, err)
}

func TestRun_EnqueuesStuckSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Devices.Upsert(ctx, store.Pool, "device-1", time.Now()))
	ws, err := store.Workspaces.Resolve(ctx, store.Pool, "github.com/acme/widgets")
	require.NoError(t, err)

	sessionID, err := store.Sessions.UpsertOnStart(ctx, store.Pool, eventstore.StartParams{
		DeviceID: "device-1", WorkspaceID: ws.ID, CCSessionID: "cc-stuck", StartedAt: time.Now(),
	})
	require.NoError(t, err)
	_, _, err = store.Sessions.ApplyEnd(ctx, store.Pool, eventstore.EndParams{
		DeviceID: "device-1", WorkspaceID: ws.ID, CCSessionID: "cc-stuck", EndedAt: time.Now(), EndReason: domain.EndReasonExit,
	})
	require.NoError(t, err)
	backdate(t, store, sessionID, time.Hour)

	enqueuer := &fakeEnqueuer{}
	recovery.Run(ctx, store, enqueuer, recovery.Config{StartupDelay: time.Millisecond, StuckCooldown: time.Minute})

	assert.Contains(t, enqueuer.enqueued, sessionID)
}

func TestRun_EnqueuesUnsummarizedSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Devices.Upsert(ctx, store.Pool, "device-1", time.Now()))
	ws, err := store.Workspaces.Resolve(ctx, store.Pool, "github.com/acme/widgets")
	require.NoError(t, err)

	sessionID, err := store.Sessions.UpsertOnStart(ctx, store.Pool, eventstore.StartParams{
		DeviceID: "device-1", WorkspaceID: ws.ID, CCSessionID: "cc-unsummarized", StartedAt: time.Now(),
	})
	require.NoError(t, err)
	ok, err := store.Sessions.TransitionLifecycle(ctx, store.Pool, sessionID, domain.LifecycleParsed)
	require.NoError(t, err)
	require.True(t, ok)

	enqueuer := &fakeEnqueuer{}
	recovery.Run(ctx, store, enqueuer, recovery.Config{StartupDelay: time.Millisecond, StuckCooldown: time.Minute})

	assert.Contains(t, enqueuer.enqueued, sessionID)
}

func TestRun_SkipsHealthySessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Devices.Upsert(ctx, store.Pool, "device-1", time.Now()))
	ws, err := store.Workspaces.Resolve(ctx, store.Pool, "github.com/acme/widgets")
	require.NoError(t, err)

	// A session still mid-capture, recently updated, is neither stuck nor
	// unsummarized — it must not be enqueued.
	_, err = store.Sessions.UpsertOnStart(ctx, store.Pool, eventstore.StartParams{
		DeviceID: "device-1", WorkspaceID: ws.ID, CCSessionID: "cc-healthy", StartedAt: time.Now(),
	})
	require.NoError(t, err)

	enqueuer := &fakeEnqueuer{}
	recovery.Run(ctx, store, enqueuer, recovery.Config{StartupDelay: time.Millisecond, StuckCooldown: time.Minute})

	assert.Empty(t, enqueuer.enqueued)
}
