package domain

import "time"

// Lifecycle is the monotone session state machine described in spec §3:
//
//	detected -> capturing -> ended -> parsed -> summarized -> archived
//	                            \-------------------------------> failed
type Lifecycle string

// Lifecycle values. Ordinals below determine which transitions are legal.
const (
	LifecycleDetected   Lifecycle = "detected"
	LifecycleCapturing  Lifecycle = "capturing"
	LifecycleEnded      Lifecycle = "ended"
	LifecycleParsed     Lifecycle = "parsed"
	LifecycleSummarized Lifecycle = "summarized"
	LifecycleArchived   Lifecycle = "archived"
	LifecycleFailed     Lifecycle = "failed"
)

// lifecycleOrdinal ranks each lifecycle value for the monotonicity check.
// failed is absorbing (99) except it cannot be reached from the two
// terminal-success states, summarized and archived.
var lifecycleOrdinal = map[Lifecycle]int{
	LifecycleDetected:   0,
	LifecycleCapturing:  1,
	LifecycleEnded:      2,
	LifecycleParsed:     3,
	LifecycleSummarized: 4,
	LifecycleArchived:   5,
	LifecycleFailed:     99,
}

// Ordinal returns the lifecycle's rank. Unknown values rank below detected
// so they never accidentally unlock a transition.
func (l Lifecycle) Ordinal() int {
	if o, ok := lifecycleOrdinal[l]; ok {
		return o
	}
	return -1
}

// CanTransitionTo reports whether moving from l to next is legal under the
// monotone rule in spec §3. Equal values are allowed (idempotent no-op
// update) but never "regress" anything.
func (l Lifecycle) CanTransitionTo(next Lifecycle) bool {
	if next == LifecycleFailed {
		return l != LifecycleSummarized && l != LifecycleArchived
	}
	return next.Ordinal() >= l.Ordinal()
}

// ParseStatus tracks §4.G's per-stage checkpoint, independent of Lifecycle
// (a session can be "ended" while parse_status is still "pending").
type ParseStatus string

// ParseStatus values.
const (
	ParseStatusPending    ParseStatus = "pending"
	ParseStatusInProgress ParseStatus = "in_progress"
	ParseStatusCompleted  ParseStatus = "completed"
	ParseStatusFailed     ParseStatus = "failed"
)

// Session represents one Claude Code interaction on one device in one
// workspace, keyed externally by the correlation key (DeviceID, CCSessionID)
// and internally by ID.
type Session struct {
	ID            string
	WorkspaceID   string
	DeviceID      string
	CCSessionID   string
	Lifecycle     Lifecycle
	ParseStatus   ParseStatus
	StartedAt     *time.Time
	EndedAt       *time.Time
	DurationMs    *int64
	EndReason     string
	TokensIn      int64
	TokensOut     int64
	CacheReadIn   int64
	CacheWriteIn  int64
	CostUSD       float64
	MessageCount  int
	ToolUseCount  int
	CommitCount   int
	Model         string
	Cwd           string
	GitBranch     string
	GitRemote     string
	CCVersion     string
	Summary       *string
	TranscriptKey *string
	InitialPrompt *string
	ParseError    *string
	Tags          []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
