package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fuel-code/server/pkg/domain"
	"github.com/fuel-code/server/pkg/eventstore"
)

func handleSessionStart(ctx context.Context, tx pgx.Tx, store *eventstore.Store, e *domain.Event) (HandlerResult, error) {
	var data domain.SessionStartData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return HandlerResult{}, fmt.Errorf("decoding session.start payload: %w", err)
	}

	sessionID, err := store.Sessions.UpsertOnStart(ctx, tx, eventstore.StartParams{
		DeviceID:       e.DeviceID,
		WorkspaceID:    e.WorkspaceID,
		CCSessionID:    data.CCSessionID,
		StartedAt:      e.Timestamp,
		Cwd:            data.Cwd,
		GitBranch:      data.GitBranch,
		GitRemote:      data.GitRemote,
		Model:          data.Model,
		CCVersion:      data.CCVersion,
		TranscriptPath: data.TranscriptPath,
		InitialPrompt:  data.InitialPrompt,
	})
	if err != nil {
		return HandlerResult{}, fmt.Errorf("upserting session on start: %w", err)
	}

	if err := store.Workspaces.UpdateDefaultBranch(ctx, tx, e.WorkspaceID, data.GitBranch); err != nil {
		return HandlerResult{}, err
	}

	return HandlerResult{
		BroadcastSession: &SessionUpdate{SessionID: sessionID, WorkspaceID: e.WorkspaceID, Lifecycle: domain.LifecycleDetected},
	}, nil
}

func handleSessionEnd(ctx context.Context, tx pgx.Tx, store *eventstore.Store, e *domain.Event) (HandlerResult, error) {
	var data domain.SessionEndData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return HandlerResult{}, fmt.Errorf("decoding session.end payload: %w", err)
	}

	sessionID, transitioned, err := store.Sessions.ApplyEnd(ctx, tx, eventstore.EndParams{
		DeviceID:    e.DeviceID,
		WorkspaceID: e.WorkspaceID,
		CCSessionID: data.CCSessionID,
		EndedAt:     e.Timestamp,
		DurationMs:  data.DurationMs,
		EndReason:   data.EndReason,
	})
	if err != nil {
		return HandlerResult{}, fmt.Errorf("applying session.end: %w", err)
	}

	result := HandlerResult{
		BroadcastSession: &SessionUpdate{SessionID: sessionID, WorkspaceID: e.WorkspaceID, Lifecycle: domain.LifecycleEnded},
	}

	if transitioned {
		sess, err := store.Sessions.Get(ctx, tx, sessionID)
		if err != nil {
			return HandlerResult{}, fmt.Errorf("reloading session %s after end: %w", sessionID, err)
		}
		if sess.TranscriptKey != nil {
			id := sessionID
			result.EnqueueTranscript = &id
		}
	}
	return result, nil
}

func handleGitActivity(t domain.GitActivityType) Handler {
	return func(ctx context.Context, tx pgx.Tx, store *eventstore.Store, e *domain.Event) (HandlerResult, error) {
		var raw map[string]any
		if err := json.Unmarshal(e.Data, &raw); err != nil {
			return HandlerResult{}, fmt.Errorf("decoding %s payload: %w", e.Type, err)
		}

		params := eventstore.InsertParams{
			EventID:     e.ID,
			WorkspaceID: e.WorkspaceID,
			DeviceID:    e.DeviceID,
			SessionID:   e.SessionID,
			Type:        t,
			Timestamp:   e.Timestamp,
			Data:        raw,
			Branch:      stringField(raw, "branch"),
			CommitSHA:   stringField(raw, "commit_sha"),
			Message:     stringField(raw, "message"),
		}
		if n, ok := raw["files_changed"].(float64); ok {
			params.FilesChanged = int(n)
		}
		if n, ok := raw["additions"].(float64); ok {
			params.Insertions = int(n)
		}
		if n, ok := raw["deletions"].(float64); ok {
			params.Deletions = int(n)
		}

		if err := store.GitActivity.Insert(ctx, tx, params); err != nil {
			return HandlerResult{}, err
		}

		if e.SessionID != nil && t == domain.GitActivityCommit {
			if err := store.Sessions.IncrementCommitCount(ctx, tx, *e.SessionID); err != nil {
				return HandlerResult{}, err
			}
		}

		return HandlerResult{}, nil
	}
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
