package eventstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fuel-code/server/pkg/apierr"
	"github.com/fuel-code/server/pkg/domain"
)

// SessionRepo upserts and transitions sessions keyed by the correlation key
// (device_id, cc_session_id), enforcing the monotone lifecycle rule (spec §3).
type SessionRepo struct{}

// FindByCorrelationKey performs the point lookup the processor uses to
// resolve a session's row id from the client-chosen correlation key.
func (r *SessionRepo) FindByCorrelationKey(ctx context.Context, q Querier, deviceID, ccSessionID string) (*domain.Session, error) {
	s, err := scanSession(q.QueryRow(ctx, sessionSelectCols+` FROM sessions WHERE device_id = $1 AND cc_session_id = $2`, deviceID, ccSessionID))
	if err != nil {
		return nil, fmt.Errorf("finding session (%s,%s): %w", deviceID, ccSessionID, err)
	}
	return s, nil
}

// Get performs a point lookup by system-assigned id.
func (r *SessionRepo) Get(ctx context.Context, q Querier, id string) (*domain.Session, error) {
	s, err := scanSession(q.QueryRow(ctx, sessionSelectCols+` FROM sessions WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("getting session %s: %w", id, apierr.ErrNotFound)
		}
		return nil, fmt.Errorf("getting session %s: %w", id, err)
	}
	return s, nil
}

// StartParams carries the session.start handler's normalized fields.
type StartParams struct {
	DeviceID       string
	WorkspaceID    string
	CCSessionID    string
	StartedAt      time.Time
	Cwd            string
	GitBranch      string
	GitRemote      string
	Model          string
	CCVersion      string
	TranscriptPath string
	InitialPrompt  *string
}

// UpsertOnStart implements the session.start handler contract (spec §4.F):
// insert on first sight; on a repeat delivery, never regress lifecycle and
// never overwrite a non-null field with null. Returns the session's
// system-assigned id.
func (r *SessionRepo) UpsertOnStart(ctx context.Context, q Querier, p StartParams) (string, error) {
	existing, err := r.FindByCorrelationKey(ctx, q, p.DeviceID, p.CCSessionID)
	if err != nil && !isNoRows(err) {
		return "", err
	}
	if existing != nil {
		_, err := q.Exec(ctx, `
			UPDATE sessions SET
				cwd         = COALESCE(NULLIF($2, ''), cwd),
				git_branch  = COALESCE(NULLIF($3, ''), git_branch),
				git_remote  = COALESCE(NULLIF($4, ''), git_remote),
				model       = COALESCE(NULLIF($5, ''), model),
				cc_version  = COALESCE(NULLIF($6, ''), cc_version),
				started_at  = COALESCE(started_at, $7),
				updated_at  = now()
			WHERE id = $1`,
			existing.ID, p.Cwd, p.GitBranch, p.GitRemote, p.Model, p.CCVersion, p.StartedAt,
		)
		if err != nil {
			return "", fmt.Errorf("updating session %s on repeat start: %w", existing.ID, err)
		}
		return existing.ID, nil
	}

	id := uuid.Must(uuid.NewV7()).String()
	_, err = q.Exec(ctx, `
		INSERT INTO sessions (
			id, workspace_id, device_id, cc_session_id, lifecycle, parse_status,
			started_at, cwd, git_branch, git_remote, model, cc_version, initial_prompt
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (device_id, cc_session_id) DO NOTHING`,
		id, p.WorkspaceID, p.DeviceID, p.CCSessionID, string(domain.LifecycleDetected), string(domain.ParseStatusPending),
		p.StartedAt, p.Cwd, p.GitBranch, p.GitRemote, p.Model, p.CCVersion, p.InitialPrompt,
	)
	if err != nil {
		return "", fmt.Errorf("inserting session (%s,%s): %w", p.DeviceID, p.CCSessionID, err)
	}

	// A concurrent session.start delivery may have won the insert race;
	// re-resolve by correlation key to return the authoritative id.
	s, err := r.FindByCorrelationKey(ctx, q, p.DeviceID, p.CCSessionID)
	if err != nil {
		return "", fmt.Errorf("resolving session (%s,%s) after insert: %w", p.DeviceID, p.CCSessionID, err)
	}
	return s.ID, nil
}

// EndParams carries the session.end handler's normalized fields.
type EndParams struct {
	DeviceID    string
	WorkspaceID string
	CCSessionID string
	EndedAt     time.Time
	DurationMs  *int64
	EndReason   string
}

// ApplyEnd implements the session.end handler contract: locate by
// correlation key, fill ended_at/duration_ms/end_reason, and transition
// lifecycle to ended without regressing it. A session already at or past
// ended is left unchanged. Returns the session id and whether this call
// performed the ended transition (used to decide whether to enqueue the
// Transcript Pipeline).
func (r *SessionRepo) ApplyEnd(ctx context.Context, q Querier, p EndParams) (sessionID string, transitioned bool, err error) {
	s, err := r.FindByCorrelationKey(ctx, q, p.DeviceID, p.CCSessionID)
	if err != nil && !isNoRows(err) {
		return "", false, fmt.Errorf("locating session (%s,%s) for end: %w", p.DeviceID, p.CCSessionID, err)
	}
	if s == nil {
		// session.end delivered before session.start (spec §5): upsert a
		// minimal row on-demand so the later start cannot regress lifecycle.
		id, startErr := r.UpsertOnStart(ctx, q, StartParams{
			DeviceID: p.DeviceID, WorkspaceID: p.WorkspaceID, CCSessionID: p.CCSessionID, StartedAt: p.EndedAt,
		})
		if startErr != nil {
			return "", false, fmt.Errorf("upserting session (%s,%s) on out-of-order end: %w", p.DeviceID, p.CCSessionID, startErr)
		}
		s, err = r.Get(ctx, q, id)
		if err != nil {
			return "", false, fmt.Errorf("reloading session %s after on-demand upsert: %w", id, err)
		}
	}

	durationMs := p.DurationMs
	if durationMs == nil && s.StartedAt != nil {
		d := p.EndedAt.Sub(*s.StartedAt).Milliseconds()
		durationMs = &d
	}

	tag, err := q.Exec(ctx, `
		UPDATE sessions SET
			ended_at   = $2,
			duration_ms = COALESCE($3, duration_ms),
			end_reason = COALESCE(NULLIF($4, ''), end_reason),
			lifecycle  = $5,
			updated_at = now()
		WHERE id = $1 AND lifecycle_ordinal($5) > lifecycle_ordinal(lifecycle)`,
		s.ID, p.EndedAt, durationMs, p.EndReason, string(domain.LifecycleEnded),
	)
	if err != nil {
		return "", false, fmt.Errorf("applying end to session %s: %w", s.ID, err)
	}
	return s.ID, tag.RowsAffected() == 1, nil
}

// IncrementCommitCount bumps commit_count when a git.commit event is
// attached to a session (spec §4.F: "Update session counters ... if attached").
func (r *SessionRepo) IncrementCommitCount(ctx context.Context, q Querier, sessionID string) error {
	_, err := q.Exec(ctx, `UPDATE sessions SET commit_count = commit_count + 1, updated_at = now() WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("incrementing commit_count for session %s: %w", sessionID, err)
	}
	return nil
}

// TransitionLifecycle moves a session forward, enforced by the ordinal
// comparison written in SQL rather than read-modify-write in Go, so
// concurrent handlers racing on the same session can never regress it.
func (r *SessionRepo) TransitionLifecycle(ctx context.Context, q Querier, sessionID string, next domain.Lifecycle) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE sessions SET lifecycle = $2, updated_at = now()
		WHERE id = $1 AND (
			$2 = 'failed' AND lifecycle NOT IN ('summarized', 'archived')
			OR $2 != 'failed' AND lifecycle_ordinal($2) >= lifecycle_ordinal(lifecycle)
		)`, sessionID, string(next))
	if err != nil {
		return false, fmt.Errorf("transitioning session %s to %s: %w", sessionID, next, err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetParseStatus updates the pipeline's checkpoint column independently of
// lifecycle, so a crashed worker can resume from the right stage.
func (r *SessionRepo) SetParseStatus(ctx context.Context, q Querier, sessionID string, status domain.ParseStatus) error {
	_, err := q.Exec(ctx, `UPDATE sessions SET parse_status = $2, updated_at = now() WHERE id = $1`, sessionID, string(status))
	if err != nil {
		return fmt.Errorf("setting parse_status on session %s: %w", sessionID, err)
	}
	return nil
}

// MarkFailed transitions a session to the terminal failed state and records
// why, unless it already reached a terminal success state.
func (r *SessionRepo) MarkFailed(ctx context.Context, q Querier, sessionID, reason string) error {
	_, err := q.Exec(ctx, `
		UPDATE sessions SET lifecycle = 'failed', parse_status = 'failed', parse_error = $2, updated_at = now()
		WHERE id = $1 AND lifecycle NOT IN ('summarized', 'archived')`, sessionID, reason)
	if err != nil {
		return fmt.Errorf("marking session %s failed: %w", sessionID, err)
	}
	return nil
}

// SetTranscriptKey records the uploaded transcript's object store key.
func (r *SessionRepo) SetTranscriptKey(ctx context.Context, q Querier, sessionID, key string) error {
	_, err := q.Exec(ctx, `UPDATE sessions SET transcript_s3_key = $2, updated_at = now() WHERE id = $1`, sessionID, key)
	if err != nil {
		return fmt.Errorf("setting transcript key on session %s: %w", sessionID, err)
	}
	return nil
}

// ApplyStats writes the Transcript Pipeline's aggregate stats onto the
// session row as part of the Persist stage's single transaction.
func (r *SessionRepo) ApplyStats(ctx context.Context, q Querier, sessionID string, stats domain.TranscriptStats) error {
	_, err := q.Exec(ctx, `
		UPDATE sessions SET
			message_count  = $2,
			tool_use_count = $3,
			tokens_in      = $4,
			tokens_out     = $5,
			cache_read_in  = $6,
			cache_write_in = $7,
			cost_usd       = $8,
			duration_ms    = COALESCE(duration_ms, $9),
			initial_prompt = COALESCE(initial_prompt, $10),
			parse_error    = $11,
			updated_at     = now()
		WHERE id = $1`,
		sessionID, stats.MessageCount, stats.ToolUseCount, stats.TokensIn, stats.TokensOut,
		stats.CacheReadTokens, stats.CacheWriteTokens, stats.CostUSD, stats.DurationMs,
		stats.InitialPrompt, firstParseError(stats.ParseErrors),
	)
	if err != nil {
		return fmt.Errorf("applying stats to session %s: %w", sessionID, err)
	}
	return nil
}

// SetSummary writes the Summarize stage's output and transitions lifecycle.
func (r *SessionRepo) SetSummary(ctx context.Context, q Querier, sessionID, summary string) error {
	_, err := q.Exec(ctx, `
		UPDATE sessions SET summary = $2, lifecycle = 'summarized', updated_at = now()
		WHERE id = $1 AND lifecycle_ordinal('summarized') >= lifecycle_ordinal(lifecycle)`, sessionID, summary)
	if err != nil {
		return fmt.Errorf("setting summary on session %s: %w", sessionID, err)
	}
	return nil
}

// Archive implements the operator-facing archive command: requires
// lifecycle = summarized, flips to archived. A session that failed to
// summarize stays in "parsed" and is never archived automatically — an
// operator-triggered reparse is the recovery path.
func (r *SessionRepo) Archive(ctx context.Context, q Querier, sessionID string) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE sessions SET lifecycle = 'archived', updated_at = now()
		WHERE id = $1 AND lifecycle = 'summarized'`, sessionID)
	if err != nil {
		return false, fmt.Errorf("archiving session %s: %w", sessionID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ResetForReparse clears parse_status back to pending so the Transcript
// Pipeline treats the session as fresh work, regardless of current status.
func (r *SessionRepo) ResetForReparse(ctx context.Context, q Querier, sessionID string) error {
	_, err := q.Exec(ctx, `UPDATE sessions SET parse_status = 'pending', parse_error = NULL, updated_at = now() WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("resetting session %s for reparse: %w", sessionID, err)
	}
	return nil
}

// ListByWorkspace returns sessions for a workspace, most recent first.
func (r *SessionRepo) ListByWorkspace(ctx context.Context, q Querier, workspaceID string, limit int) ([]domain.Session, error) {
	rows, err := q.Query(ctx, sessionSelectCols+` FROM sessions WHERE workspace_id = $1 ORDER BY started_at DESC NULLS LAST LIMIT $2`, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions for workspace %s: %w", workspaceID, err)
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		s, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// StuckSessions finds sessions parked in an intermediate lifecycle/parse
// state for longer than cooldown — the Recovery Subsystem's first scan.
func (r *SessionRepo) StuckSessions(ctx context.Context, q Querier, cooldown time.Duration) ([]domain.Session, error) {
	rows, err := q.Query(ctx, sessionSelectCols+`
		FROM sessions
		WHERE lifecycle IN ('ended', 'parsed')
		  AND parse_status IN ('pending', 'in_progress')
		  AND updated_at < now() - $1::interval`, cooldown.String())
	if err != nil {
		return nil, fmt.Errorf("scanning stuck sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		s, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// UnsummarizedSessions finds sessions parsed but never summarized — the
// Recovery Subsystem's second scan.
func (r *SessionRepo) UnsummarizedSessions(ctx context.Context, q Querier) ([]domain.Session, error) {
	rows, err := q.Query(ctx, sessionSelectCols+`
		FROM sessions WHERE lifecycle = 'parsed' AND summary IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("scanning unsummarized sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		s, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

const sessionSelectCols = `SELECT
	id, workspace_id, device_id, cc_session_id, lifecycle, parse_status,
	started_at, ended_at, duration_ms, end_reason,
	tokens_in, tokens_out, cache_read_in, cache_write_in, cost_usd,
	message_count, tool_use_count, commit_count,
	model, cwd, git_branch, git_remote, cc_version,
	summary, transcript_s3_key, initial_prompt, parse_error, tags,
	created_at, updated_at`

// row is satisfied by both pgx.Row (QueryRow) and pgx.Rows (Query) via Scan.
type row interface {
	Scan(dest ...any) error
}

func scanSession(r row) (*domain.Session, error) {
	return scanSessionRows(r)
}

func scanSessionRows(r row) (*domain.Session, error) {
	var s domain.Session
	err := r.Scan(
		&s.ID, &s.WorkspaceID, &s.DeviceID, &s.CCSessionID, &s.Lifecycle, &s.ParseStatus,
		&s.StartedAt, &s.EndedAt, &s.DurationMs, &s.EndReason,
		&s.TokensIn, &s.TokensOut, &s.CacheReadIn, &s.CacheWriteIn, &s.CostUSD,
		&s.MessageCount, &s.ToolUseCount, &s.CommitCount,
		&s.Model, &s.Cwd, &s.GitBranch, &s.GitRemote, &s.CCVersion,
		&s.Summary, &s.TranscriptKey, &s.InitialPrompt, &s.ParseError, &s.Tags,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func firstParseError(errs []domain.ParseLineError) *string {
	if len(errs) == 0 {
		return nil
	}
	msg := fmt.Sprintf("%d line(s) failed to parse, first at line %d: %s", len(errs), errs[0].LineNumber, errs[0].Error)
	return &msg
}
