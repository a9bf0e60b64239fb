// Package processor implements the Handler Registry + Event Processor
// (spec §4.F): the type-indexed dispatch table and the single-transaction
// dedup/normalize/dispatch/commit pipeline every delivered event passes
// through.
package processor

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fuel-code/server/pkg/domain"
	"github.com/fuel-code/server/pkg/eventstore"
)

// Outcome is the result the Consumer Loop acts on after Process returns.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeNoHandler Outcome = "no_handler"
)

// HandlerResult describes the side effects a handler wants issued after its
// transaction commits (spec §4.F: "Only on successful commit are the
// requested side-effects issued").
type HandlerResult struct {
	EnqueueTranscript *string // session id to enqueue into the Transcript Pipeline
	BroadcastSession  *SessionUpdate
}

// SessionUpdate is what the processor hands the WebSocket Hub after a
// session-affecting commit (spec §4.H "session.update").
type SessionUpdate struct {
	SessionID   string
	WorkspaceID string
	Lifecycle   domain.Lifecycle
}

// Handler is a pure function of (tx, event) per spec §4.F step 3: it may only
// mutate rows transactionally owned by its event kind.
type Handler func(ctx context.Context, tx pgx.Tx, store *eventstore.Store, e *domain.Event) (HandlerResult, error)

// Broadcaster is the narrow WebSocket Hub contract the processor depends on
// for post-commit event fan-out (spec §4.H).
type Broadcaster interface {
	BroadcastEvent(e *domain.Event)
	BroadcastSessionUpdate(u SessionUpdate)
}

// TranscriptEnqueuer is the narrow Transcript Pipeline contract the processor
// depends on for post-commit pipeline triggers (spec §4.G).
type TranscriptEnqueuer interface {
	Enqueue(sessionID string)
}

// Registry maps event types to handlers and drives the per-event transaction.
type Registry struct {
	store       *eventstore.Store
	handlers    map[domain.EventType]Handler
	broadcaster Broadcaster
	pipeline    TranscriptEnqueuer
}

// NewRegistry builds a Registry with the default handler set wired in.
func NewRegistry(store *eventstore.Store, broadcaster Broadcaster, pipeline TranscriptEnqueuer) *Registry {
	r := &Registry{
		store:       store,
		handlers:    make(map[domain.EventType]Handler),
		broadcaster: broadcaster,
		pipeline:    pipeline,
	}
	r.Register(domain.EventSessionStart, handleSessionStart)
	r.Register(domain.EventSessionEnd, handleSessionEnd)
	r.Register(domain.EventGitCommit, handleGitActivity(domain.GitActivityCommit))
	r.Register(domain.EventGitPush, handleGitActivity(domain.GitActivityPush))
	r.Register(domain.EventGitCheckout, handleGitActivity(domain.GitActivityCheckout))
	r.Register(domain.EventGitMerge, handleGitActivity(domain.GitActivityMerge))
	return r
}

// Register installs (or overrides, in tests) the handler for an event type.
func (r *Registry) Register(t domain.EventType, h Handler) {
	r.handlers[t] = h
}

// Process runs the full per-event pipeline described in spec §4.F.
func (r *Registry) Process(ctx context.Context, e *domain.Event) (Outcome, error) {
	var (
		outcome Outcome
		result  HandlerResult
	)

	err := r.store.WithTx(ctx, func(tx pgx.Tx) error {
		inserted, err := r.store.Events.Insert(ctx, tx, e)
		if err != nil {
			return fmt.Errorf("dedup insert: %w", err)
		}
		if !inserted {
			outcome = OutcomeDuplicate
			return nil
		}

		ws, err := r.store.Workspaces.Resolve(ctx, tx, resolveCanonicalID(e.WorkspaceID))
		if err != nil {
			return fmt.Errorf("resolving workspace: %w", err)
		}
		if err := r.store.Events.RewriteWorkspaceID(ctx, tx, e.ID, ws.ID); err != nil {
			return err
		}
		e.WorkspaceID = ws.ID

		if err := r.store.Devices.Upsert(ctx, tx, e.DeviceID, e.Timestamp); err != nil {
			return fmt.Errorf("upserting device: %w", err)
		}
		if err := r.store.WorkspaceDevices.Upsert(ctx, tx, ws.ID, e.DeviceID, e.Timestamp); err != nil {
			return fmt.Errorf("upserting workspace_device: %w", err)
		}

		handler, ok := r.handlers[e.Type]
		if !ok {
			outcome = OutcomeNoHandler
			return nil
		}

		result, err = handler(ctx, tx, r.store, e)
		if err != nil {
			return fmt.Errorf("handler for %s: %w", e.Type, err)
		}
		outcome = OutcomeProcessed
		return nil
	})
	if err != nil {
		return "", err
	}

	if outcome == OutcomeProcessed {
		r.issueSideEffects(e, result)
	}
	return outcome, nil
}

// issueSideEffects runs after commit, per spec §4.F step 4.
func (r *Registry) issueSideEffects(e *domain.Event, result HandlerResult) {
	if r.broadcaster != nil {
		r.broadcaster.BroadcastEvent(e)
		if result.BroadcastSession != nil {
			r.broadcaster.BroadcastSessionUpdate(*result.BroadcastSession)
		}
	}
	if result.EnqueueTranscript != nil && r.pipeline != nil {
		r.pipeline.Enqueue(*result.EnqueueTranscript)
	}
}

// resolveCanonicalID returns the wire-supplied workspace_id unchanged as the
// canonical id, or the unassociated sentinel when it is empty. It does not
// re-derive a canonical id from a raw git remote or local identifier.
func resolveCanonicalID(raw string) string {
	if raw == "" {
		return domain.UnassociatedWorkspaceID
	}
	return raw
}
