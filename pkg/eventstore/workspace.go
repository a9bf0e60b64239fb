package eventstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fuel-code/server/pkg/apierr"
	"github.com/fuel-code/server/pkg/domain"
)

// WorkspaceRepo resolves and upserts workspaces keyed by canonical_id (spec §3).
type WorkspaceRepo struct{}

var scpHostPathRe = regexp.MustCompile(`^[\w.-]+@([\w.-]+):(.+?)(?:\.git)?$`)
var httpHostPathRe = regexp.MustCompile(`^(?:https?|git|ssh)://(?:[^@/]+@)?([^/]+)/(.+?)(?:\.git)?/?$`)

// CanonicalID derives the stable cross-device workspace identifier from a git
// remote URL, preferring the normalized host/owner/repo form. When remote is
// empty it falls back to a local hash derived from the first commit sha; when
// that too is empty it returns the unassociated sentinel.
func CanonicalID(gitRemote, firstCommitSHA string) string {
	if gitRemote != "" {
		if m := scpHostPathRe.FindStringSubmatch(gitRemote); m != nil {
			return m[1] + "/" + strings.TrimSuffix(m[2], ".git")
		}
		if m := httpHostPathRe.FindStringSubmatch(gitRemote); m != nil {
			return m[1] + "/" + strings.TrimSuffix(m[2], ".git")
		}
		return strings.TrimSuffix(gitRemote, ".git")
	}
	if firstCommitSHA != "" {
		sum := sha256.Sum256([]byte(firstCommitSHA))
		return "local:" + hex.EncodeToString(sum[:])
	}
	return domain.UnassociatedWorkspaceID
}

// DisplayNameFromCanonical derives a workspace's display name from the
// trailing path segment of its canonical id, used only on first insert
// (spec §4.F: "display_name is derived ... not overwritten later").
func DisplayNameFromCanonical(canonicalID string) string {
	if canonicalID == domain.UnassociatedWorkspaceID {
		return "unassociated"
	}
	parts := strings.Split(strings.TrimSuffix(canonicalID, "/"), "/")
	return parts[len(parts)-1]
}

// Resolve looks up a workspace by canonical id, creating one if absent. The
// raw identifier supplied on the wire may already be a canonical id (the
// common case when the client derives it itself) or an opaque string the
// caller has already turned into a canonical id via CanonicalID.
func (r *WorkspaceRepo) Resolve(ctx context.Context, q Querier, canonicalID string) (*domain.Workspace, error) {
	var ws domain.Workspace
	err := q.QueryRow(ctx, `
		SELECT id, canonical_id, display_name, default_branch, first_seen_at, updated_at
		FROM workspaces WHERE canonical_id = $1`, canonicalID,
	).Scan(&ws.ID, &ws.CanonicalID, &ws.DisplayName, &ws.DefaultBranch, &ws.FirstSeenAt, &ws.UpdatedAt)
	if err == nil {
		return &ws, nil
	}

	id := uuid.Must(uuid.NewV7()).String()
	displayName := DisplayNameFromCanonical(canonicalID)
	_, insertErr := q.Exec(ctx, `
		INSERT INTO workspaces (id, canonical_id, display_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (canonical_id) DO NOTHING`, id, canonicalID, displayName)
	if insertErr != nil {
		return nil, fmt.Errorf("inserting workspace %s: %w", canonicalID, insertErr)
	}

	// Re-read: either our insert won, or a concurrent insert did.
	err = q.QueryRow(ctx, `
		SELECT id, canonical_id, display_name, default_branch, first_seen_at, updated_at
		FROM workspaces WHERE canonical_id = $1`, canonicalID,
	).Scan(&ws.ID, &ws.CanonicalID, &ws.DisplayName, &ws.DefaultBranch, &ws.FirstSeenAt, &ws.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("reading workspace %s after insert: %w", canonicalID, err)
	}
	return &ws, nil
}

// UpdateDefaultBranch sets default_branch when the caller learns it from a
// session.start event, without touching canonical_id or display_name.
func (r *WorkspaceRepo) UpdateDefaultBranch(ctx context.Context, q Querier, workspaceID, branch string) error {
	if branch == "" {
		return nil
	}
	_, err := q.Exec(ctx, `UPDATE workspaces SET default_branch = $2, updated_at = now() WHERE id = $1`, workspaceID, branch)
	if err != nil {
		return fmt.Errorf("updating default_branch for workspace %s: %w", workspaceID, err)
	}
	return nil
}

// List returns workspaces ordered by most recently updated, for the
// workspace-listing query endpoint.
func (r *WorkspaceRepo) List(ctx context.Context, q Querier, limit int) ([]domain.Workspace, error) {
	rows, err := q.Query(ctx, `
		SELECT id, canonical_id, display_name, default_branch, first_seen_at, updated_at
		FROM workspaces ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing workspaces: %w", err)
	}
	defer rows.Close()

	var out []domain.Workspace
	for rows.Next() {
		var ws domain.Workspace
		if err := rows.Scan(&ws.ID, &ws.CanonicalID, &ws.DisplayName, &ws.DefaultBranch, &ws.FirstSeenAt, &ws.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning workspace row: %w", err)
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

// Get performs a point lookup by system-assigned id.
func (r *WorkspaceRepo) Get(ctx context.Context, q Querier, id string) (*domain.Workspace, error) {
	var ws domain.Workspace
	err := q.QueryRow(ctx, `
		SELECT id, canonical_id, display_name, default_branch, first_seen_at, updated_at
		FROM workspaces WHERE id = $1`, id,
	).Scan(&ws.ID, &ws.CanonicalID, &ws.DisplayName, &ws.DefaultBranch, &ws.FirstSeenAt, &ws.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("getting workspace %s: %w", id, apierr.ErrNotFound)
		}
		return nil, fmt.Errorf("getting workspace %s: %w", id, err)
	}
	return &ws, nil
}
