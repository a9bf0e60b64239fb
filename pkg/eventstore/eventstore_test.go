package eventstore_test

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
)

// newTestStore starts a disposable Postgres container, applies the embedded
// migrations via database.NewClient, and returns a Store bound to it.
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

func seedDeviceAndWorkspace(t *testing.T, ctx context.Context, store *eventstore.Store) (deviceID, workspaceID string) {
	t.Helper()
	deviceID = "device-1"
	require.NoError(t, store.Devices.Upsert(ctx, store.Pool, deviceID, time.Now()))

	ws, err := store.Workspaces.Resolve(ctx, store.Pool, "github.com/acme/widgets")
	require.NoError(t, err)
	return deviceID, ws.ID
}

func TestWorkspaceRepo_ResolveIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Workspaces.Resolve(ctx, store.Pool, "github.com/acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, "widgets", first.DisplayName)

	second, err := store.Workspaces.Resolve(ctx, store.Pool, "github.com/acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestWorkspaceRepo_List(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Workspaces.Resolve(ctx, store.Pool, "github.com/acme/widgets")
	require.NoError(t, err)
	_, err = store.Workspaces.Resolve(ctx, store.Pool, "github.com/acme/gadgets")
	require.NoError(t, err)

	out, err := store.Workspaces.List(ctx, store.Pool, 50)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestSessionRepo_UpsertOnStartThenApplyEnd(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	deviceID, workspaceID := seedDeviceAndWorkspace(t, ctx, store)

	id, err := store.Sessions.UpsertOnStart(ctx, store.Pool, eventstore.StartParams{
		DeviceID:    deviceID,
		WorkspaceID: workspaceID,
		CCSessionID: "cc-1",
		StartedAt:   time.Now(),
		Cwd:         "/tmp/widgets",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	sess, err := store.Sessions.Get(ctx, store.Pool, id)
	require.NoError(t, err)
	assert.Equal(t, domain.LifecycleDetected, sess.Lifecycle)

	// A repeat start must not regress fields already set.
	again, err := store.Sessions.UpsertOnStart(ctx, store.Pool, eventstore.StartParams{
		DeviceID:    deviceID,
		WorkspaceID: workspaceID,
		CCSessionID: "cc-1",
		StartedAt:   time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, id, again)

	sessionID, transitioned, err := store.Sessions.ApplyEnd(ctx, store.Pool, eventstore.EndParams{
		DeviceID:    deviceID,
		WorkspaceID: workspaceID,
		CCSessionID: "cc-1",
		EndedAt:     time.Now(),
		EndReason:   domain.EndReasonExit,
	})
	require.NoError(t, err)
	assert.Equal(t, id, sessionID)
	assert.True(t, transitioned)

	ended, err := store.Sessions.Get(ctx, store.Pool, id)
	require.NoError(t, err)
	assert.Equal(t, domain.LifecycleEnded, ended.Lifecycle)

	// A second end call must not re-report a transition.
	_, transitionedAgain, err := store.Sessions.ApplyEnd(ctx, store.Pool, eventstore.EndParams{
		DeviceID:    deviceID,
		WorkspaceID: workspaceID,
		CCSessionID: "cc-1",
		EndedAt:     time.Now(),
		EndReason:   domain.EndReasonExit,
	})
	require.NoError(t, err)
	assert.False(t, transitionedAgain)
}

func TestSessionRepo_LifecycleNeverRegresses(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	deviceID, workspaceID := seedDeviceAndWorkspace(t, ctx, store)

	id, err := store.Sessions.UpsertOnStart(ctx, store.Pool, eventstore.StartParams{
		DeviceID: deviceID, WorkspaceID: workspaceID, CCSessionID: "cc-2", StartedAt: time.Now(),
	})
	require.NoError(t, err)

	ok, err := store.Sessions.TransitionLifecycle(ctx, store.Pool, id, domain.LifecycleParsed)
	require.NoError(t, err)
	assert.True(t, ok)

	// Attempting to move backwards to "capturing" must be rejected.
	ok, err = store.Sessions.TransitionLifecycle(ctx, store.Pool, id, domain.LifecycleCapturing)
	require.NoError(t, err)
	assert.False(t, ok)

	sess, err := store.Sessions.Get(ctx, store.Pool, id)
	require.NoError(t, err)
	assert.Equal(t, domain.LifecycleParsed, sess.Lifecycle)
}

func TestSessionRepo_ArchiveRequiresSummarized(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	deviceID, workspaceID := seedDeviceAndWorkspace(t, ctx, store)

	id, err := store.Sessions.UpsertOnStart(ctx, store.Pool, eventstore.StartParams{
		DeviceID: deviceID, WorkspaceID: workspaceID, CCSessionID: "cc-3", StartedAt: time.Now(),
	})
	require.NoError(t, err)

	archived, err := store.Sessions.Archive(ctx, store.Pool, id)
	require.NoError(t, err)
	assert.False(t, archived, "session not yet summarized must not archive")

	require.NoError(t, store.Sessions.SetSummary(ctx, store.Pool, id, "a short summary"))

	archived, err = store.Sessions.Archive(ctx, store.Pool, id)
	require.NoError(t, err)
	assert.True(t, archived)

	sess, err := store.Sessions.Get(ctx, store.Pool, id)
	require.NoError(t, err)
	assert.Equal(t, domain.LifecycleArchived, sess.Lifecycle)
}

func TestSessionRepo_ResetForReparse(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	deviceID, workspaceID := seedDeviceAndWorkspace(t, ctx, store)

	id, err := store.Sessions.UpsertOnStart(ctx, store.Pool, eventstore.StartParams{
		DeviceID: deviceID, WorkspaceID: workspaceID, CCSessionID: "cc-4", StartedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, store.Sessions.MarkFailed(ctx, store.Pool, id, "boom"))

	require.NoError(t, store.Sessions.ResetForReparse(ctx, store.Pool, id))

	sess, err := store.Sessions.Get(ctx, store.Pool, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ParseStatusPending, sess.ParseStatus)
	assert.Nil(t, sess.ParseError)
}

func TestSessionRepo_ListByWorkspace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	deviceID, workspaceID := seedDeviceAndWorkspace(t, ctx, store)

	for i := 0; i < 3; i++ {
		_, err := store.Sessions.UpsertOnStart(ctx, store.Pool, eventstore.StartParams{
			DeviceID: deviceID, WorkspaceID: workspaceID,
			CCSessionID: "cc-list-" + time.Now().Format(time.RFC3339Nano),
			StartedAt:   time.Now(),
		})
		require.NoError(t, err)
	}

	out, err := store.Sessions.ListByWorkspace(ctx, store.Pool, workspaceID, 50)
	require.NoError(t, err)
	assert.Len(t, out, 3)
}

func TestGitActivityRepo_InsertAndListBySession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	deviceID, workspaceID := seedDeviceAndWorkspace(t, ctx, store)

	sessionID, err := store.Sessions.UpsertOnStart(ctx, store.Pool, eventstore.StartParams{
		DeviceID: deviceID, WorkspaceID: workspaceID, CCSessionID: "cc-git", StartedAt: time.Now(),
	})
	require.NoError(t, err)

	err = store.GitActivity.Insert(ctx, store.Pool, eventstore.InsertParams{
		EventID:     "evt-1",
		WorkspaceID: workspaceID,
		DeviceID:    deviceID,
		SessionID:   &sessionID,
		Type:        domain.GitActivityCommit,
		Branch:      "main",
		CommitSHA:   "abc123",
		Timestamp:   time.Now(),
		Data:        map[string]any{"additions": 3},
	})
	require.NoError(t, err)

	// Re-inserting the same event id must be a no-op (event dedup gate).
	err = store.GitActivity.Insert(ctx, store.Pool, eventstore.InsertParams{
		EventID:     "evt-1",
		WorkspaceID: workspaceID,
		DeviceID:    deviceID,
		SessionID:   &sessionID,
		Type:        domain.GitActivityCommit,
		Branch:      "main",
		CommitSHA:   "abc123",
		Timestamp:   time.Now(),
	})
	require.NoError(t, err)

	activity, err := store.GitActivity.ListBySession(ctx, store.Pool, sessionID)
	require.NoError(t, err)
	assert.Len(t, activity, 1)
	assert.Equal(t, "abc123", activity[0].CommitSHA)
}

func TestTranscriptRepo_CountMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	count, err := store.Transcripts.CountMessages(ctx, store.Pool, "nonexistent-session")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
