package processor_test

import (
	"context"
	"encoding/json"
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
	"github.com/fuel-code/server/pkg/processor"
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

// fakeBroadcaster and fakeEnqueuer record the post-commit side effects
// Process issues, so tests can assert they only fire once, and only after a
// successful commit.
type fakeBroadcaster struct {
	events   []*domain.Event
	sessions []processor.SessionUpdate
}

func (f *fakeBroadcaster) BroadcastEvent(e *domain.Event) { f.events = append(f.events, e) }
func (f *fakeBroadcaster) BroadcastSessionUpdate(u processor.SessionUpdate) {
	f.sessions = append(f.sessions, u)
}

type fakeEnqueuer struct {
	enqueued []string
}

func (f *fakeEnqueuer) Enqueue(sessionID string) { f.enqueued = append(f.enqueued, sessionID) }

func sessionStartEvent(workspaceID, deviceID, ccSessionID string) *domain.Event {
	data, _ := json.Marshal(domain.SessionStartData{
		CCSessionID: ccSessionID,
		Cwd:         "/tmp/widgets",
		GitBranch:   "main",
	})
	return &domain.Event{
		ID:          domain.NewEventID(),
		Type:        domain.EventSessionStart,
		Timestamp:   time.Now(),
		DeviceID:    deviceID,
		WorkspaceID: workspaceID,
		Data:        data,
	}
}

func TestRegistry_Process_DispatchesAndBroadcasts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	broadcaster := &fakeBroadcaster{}
	enqueuer := &fakeEnqueuer{}
	registry := processor.NewRegistry(store, broadcaster, enqueuer)

	e := sessionStartEvent("github.com/acme/widgets", "device-1", "cc-proc-1")
	outcome, err := registry.Process(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, processor.OutcomeProcessed, outcome)
	assert.Len(t, broadcaster.events, 1)
	assert.Len(t, broadcaster.sessions, 1)
	assert.Equal(t, domain.LifecycleDetected, broadcaster.sessions[0].Lifecycle)

	// The resolved workspace id must be a system id, not the raw git remote.
	assert.NotEqual(t, "github.com/acme/widgets", e.WorkspaceID)
}

func TestRegistry_Process_DuplicateEventIsNotReprocessed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	broadcaster := &fakeBroadcaster{}
	registry := processor.NewRegistry(store, broadcaster, &fakeEnqueuer{})

	e := sessionStartEvent("github.com/acme/widgets", "device-1", "cc-proc-2")
	_, err := registry.Process(ctx, e)
	require.NoError(t, err)

	outcome, err := registry.Process(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, processor.OutcomeDuplicate, outcome)
	// No second broadcast for the duplicate delivery.
	assert.Len(t, broadcaster.events, 1)
}

func TestRegistry_Process_UnrecognizedTypeYieldsNoHandler(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	registry := processor.NewRegistry(store, nil, nil)

	e := &domain.Event{
		ID:          domain.NewEventID(),
		Type:        domain.EventCCSessionStart,
		Timestamp:   time.Now(),
		DeviceID:    "device-1",
		WorkspaceID: "github.com/acme/widgets",
		Data:        json.RawMessage(`{}`),
	}
	outcome, err := registry.Process(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, processor.OutcomeNoHandler, outcome)
}
