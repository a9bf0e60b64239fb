// Package domain holds the shared types for the event-processing pipeline:
// the event envelope and its per-type payloads, workspaces, devices,
// sessions, transcript messages/content blocks, and git activity.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the shape of an Event's Data payload.
type EventType string

// Recognized event types. Unrecognized types are still accepted by the
// ingest endpoint and recorded by the processor, but dispatch to no handler.
const (
	EventSessionStart   EventType = "session.start"
	EventSessionEnd     EventType = "session.end"
	EventGitCommit      EventType = "git.commit"
	EventGitPush        EventType = "git.push"
	EventGitCheckout    EventType = "git.checkout"
	EventGitMerge       EventType = "git.merge"
	EventCCSessionStart EventType = "cc.session_start"
)

// Event is the immutable, append-only envelope shared by every event type.
// Data is kept as raw JSON so the ingest endpoint can validate it against a
// per-type schema before the processor ever parses it into a typed payload.
type Event struct {
	ID          string          `json:"id"`
	Type        EventType       `json:"type"`
	Timestamp   time.Time       `json:"timestamp"`
	DeviceID    string          `json:"device_id"`
	WorkspaceID string          `json:"workspace_id"`
	SessionID   *string         `json:"session_id,omitempty"`
	Data        json.RawMessage `json:"data"`
	BlobRefs    []string        `json:"blob_refs,omitempty"`
	IngestedAt  time.Time       `json:"ingested_at,omitempty"`
}

// NewEventID returns a time-sortable, globally-unique event ID.
// UUIDv7 embeds a millisecond timestamp in its most-significant bits, which
// gives the "time-sortable 128-bit ID" §3 requires without a separate
// sequence allocator.
func NewEventID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SessionStartData is the data payload of a session.start event.
type SessionStartData struct {
	CCSessionID    string  `json:"cc_session_id"`
	Cwd            string  `json:"cwd"`
	GitBranch      string  `json:"git_branch"`
	GitRemote      string  `json:"git_remote,omitempty"`
	Model          string  `json:"model,omitempty"`
	CCVersion      string  `json:"cc_version,omitempty"`
	Source         string  `json:"source,omitempty"`
	TranscriptPath string  `json:"transcript_path,omitempty"`
	InitialPrompt  *string `json:"initial_prompt,omitempty"`
}

// SessionEndData is the data payload of a session.end event.
type SessionEndData struct {
	CCSessionID    string `json:"cc_session_id"`
	DurationMs     *int64 `json:"duration_ms,omitempty"`
	EndReason      string `json:"end_reason"`
	TranscriptPath string `json:"transcript_path,omitempty"`
}

// EndReason values recognized for SessionEndData.EndReason.
const (
	EndReasonExit   = "exit"
	EndReasonClear  = "clear"
	EndReasonLogout = "logout"
	EndReasonError  = "error"
)

// GitCommitData is the data payload of a git.commit event.
type GitCommitData struct {
	CommitSHA    string `json:"commit_sha"`
	Message      string `json:"message"`
	Branch       string `json:"branch"`
	FilesChanged int    `json:"files_changed"`
	Additions    int    `json:"additions"`
	Deletions    int    `json:"deletions"`
}

// GitPushData is the data payload of a git.push event.
type GitPushData struct {
	Branch      string `json:"branch"`
	Remote      string `json:"remote"`
	CommitCount int    `json:"commit_count"`
}

// GitCheckoutData is the data payload of a git.checkout event.
type GitCheckoutData struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Branch string `json:"branch"`
}

// GitMergeData is the data payload of a git.merge event.
type GitMergeData struct {
	Branch        string `json:"branch"`
	CommitsMerged int    `json:"commits_merged"`
}
