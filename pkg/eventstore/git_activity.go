package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fuel-code/server/pkg/domain"
)

// GitActivityRepo projects processed git.* events into normalized rows
// (spec §3, §4.F).
type GitActivityRepo struct{}

// InsertParams carries one git.* handler's normalized fields.
type InsertParams struct {
	EventID      string
	WorkspaceID  string
	DeviceID     string
	SessionID    *string
	Type         domain.GitActivityType
	Branch       string
	CommitSHA    string
	Message      string
	FilesChanged int
	Insertions   int
	Deletions    int
	Timestamp    time.Time
	Data         map[string]any
}

// Insert writes a git_activity row keyed by the event's own id — the event
// dedup gate (spec §4.F step 1) already guarantees this runs at most once per
// event id within the same transaction.
func (r *GitActivityRepo) Insert(ctx context.Context, q Querier, p InsertParams) error {
	data, err := json.Marshal(p.Data)
	if err != nil {
		return fmt.Errorf("marshaling git_activity data for event %s: %w", p.EventID, err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO git_activity (
			id, workspace_id, device_id, session_id, type, branch, commit_sha,
			message, files_changed, insertions, deletions, timestamp, data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`,
		p.EventID, p.WorkspaceID, p.DeviceID, p.SessionID, string(p.Type), p.Branch, p.CommitSHA,
		p.Message, p.FilesChanged, p.Insertions, p.Deletions, p.Timestamp, data,
	)
	if err != nil {
		return fmt.Errorf("inserting git_activity for event %s: %w", p.EventID, err)
	}
	return nil
}

// ListBySession returns a session's git activity, most recent first, for the
// thin query endpoints.
func (r *GitActivityRepo) ListBySession(ctx context.Context, q Querier, sessionID string) ([]domain.GitActivity, error) {
	rows, err := q.Query(ctx, `
		SELECT id, workspace_id, device_id, session_id, type, branch, commit_sha,
		       message, files_changed, insertions, deletions, timestamp
		FROM git_activity WHERE session_id = $1 ORDER BY timestamp DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing git_activity for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []domain.GitActivity
	for rows.Next() {
		var g domain.GitActivity
		if err := rows.Scan(&g.ID, &g.WorkspaceID, &g.DeviceID, &g.SessionID, &g.Type, &g.Branch, &g.CommitSHA,
			&g.Message, &g.FilesChanged, &g.Insertions, &g.Deletions, &g.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning git_activity row: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
