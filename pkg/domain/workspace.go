package domain

import "time"

// UnassociatedWorkspaceID is the canonical_id sentinel used when an event
// carries no usable workspace identity at all (spec §3).
const UnassociatedWorkspaceID = "_unassociated"

// Workspace represents a code repository. CanonicalID is the sole
// cross-device key; ID is system-assigned and stable once allocated.
type Workspace struct {
	ID            string
	CanonicalID   string
	DisplayName   string
	DefaultBranch string
	Metadata      map[string]any
	FirstSeenAt   time.Time
	UpdatedAt     time.Time
}

// DeviceType distinguishes the local machine running the CLI hooks from a
// remote/ephemeral execution environment.
type DeviceType string

// DeviceType values.
const (
	DeviceTypeLocal  DeviceType = "local"
	DeviceTypeRemote DeviceType = "remote"
)

// DeviceStatus is the connectivity/lifecycle state of a Device.
type DeviceStatus string

// DeviceStatus values.
const (
	DeviceStatusOnline       DeviceStatus = "online"
	DeviceStatusOffline      DeviceStatus = "offline"
	DeviceStatusProvisioning DeviceStatus = "provisioning"
	DeviceStatusTerminated   DeviceStatus = "terminated"
)

// Device is a client machine emitting events, identified by a client-chosen
// stable ID.
type Device struct {
	ID          string
	Type        DeviceType
	Name        string
	Status      DeviceStatus
	Platform    string
	Metadata    map[string]any
	FirstSeenAt time.Time
	LastSeenAt  time.Time
}

// WorkspaceDevice is the many-to-many junction between a Workspace and a
// Device that has been active in it.
type WorkspaceDevice struct {
	WorkspaceID       string
	DeviceID          string
	LocalPath         string
	HooksInstalled    bool
	GitHooksInstalled bool
	LastActiveAt      time.Time
}

// GitActivityType enumerates the kinds of git.* events projected into
// git_activity rows.
type GitActivityType string

// GitActivityType values.
const (
	GitActivityCommit   GitActivityType = "commit"
	GitActivityPush     GitActivityType = "push"
	GitActivityCheckout GitActivityType = "checkout"
	GitActivityMerge    GitActivityType = "merge"
)

// GitActivity is the projection of a processed git.* event. ID equals the
// originating event's ID (git activity dedup rides on the event dedup gate).
type GitActivity struct {
	ID           string
	WorkspaceID  string
	DeviceID     string
	SessionID    *string // nil for orphan activity outside any active session
	Type         GitActivityType
	Branch       string
	CommitSHA    string
	Message      string
	FilesChanged int
	Insertions   int
	Deletions    int
	Timestamp    time.Time
	Data         map[string]any
}
