package eventstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fuel-code/server/pkg/domain"
)

// EventRepo persists the immutable, append-only event log.
type EventRepo struct{}

// Insert performs the at-most-once dedup gate (spec §4.F step 1): attempts to
// insert the event row, returning inserted=false if an event with this id was
// already stored. Callers must treat inserted=false as a "duplicate" outcome,
// not an error.
func (r *EventRepo) Insert(ctx context.Context, q Querier, e *domain.Event) (inserted bool, err error) {
	tag, err := q.Exec(ctx, `
		INSERT INTO events (id, type, timestamp, device_id, workspace_id, session_id, data, blob_refs, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, string(e.Type), e.Timestamp, e.DeviceID, e.WorkspaceID, e.SessionID, []byte(e.Data), e.BlobRefs, e.IngestedAt,
	)
	if err != nil {
		return false, fmt.Errorf("inserting event %s: %w", e.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// RewriteWorkspaceID updates the stored event's workspace_id to the
// system-assigned workspace id once resolved (spec §4.F step 2: "Rewrite the
// stored event's workspace_id to the system-assigned workspace id").
func (r *EventRepo) RewriteWorkspaceID(ctx context.Context, q Querier, eventID, workspaceID string) error {
	_, err := q.Exec(ctx, `UPDATE events SET workspace_id = $2 WHERE id = $1`, eventID, workspaceID)
	if err != nil {
		return fmt.Errorf("rewriting workspace_id on event %s: %w", eventID, err)
	}
	return nil
}

// Exists reports whether an event with this id is already stored, without
// inserting.
func (r *EventRepo) Exists(ctx context.Context, q Querier, id string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM events WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking event %s: %w", id, err)
	}
	return exists, nil
}

// MarshalData is a convenience for building a domain.Event's Data from a
// typed payload before calling Insert.
func MarshalData(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling event data: %w", err)
	}
	return b, nil
}
