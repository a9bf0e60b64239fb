package api

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fuel-code/server/pkg/domain"
)

func validEvent(typ domain.EventType, data any) *domain.Event {
	raw, _ := json.Marshal(data)
	return &domain.Event{
		Type:        typ,
		Timestamp:   time.Now(),
		DeviceID:    "device-1",
		WorkspaceID: "workspace-1",
		Data:        raw,
	}
}

func TestValidateEvent_MissingEnvelopeFields(t *testing.T) {
	base := validEvent(domain.EventGitPush, domain.GitPushData{Branch: "main"})

	cases := []struct {
		name   string
		mutate func(*domain.Event)
	}{
		{"missing type", func(e *domain.Event) { e.Type = "" }},
		{"missing device_id", func(e *domain.Event) { e.DeviceID = "" }},
		{"missing workspace_id", func(e *domain.Event) { e.WorkspaceID = "" }},
		{"zero timestamp", func(e *domain.Event) { e.Timestamp = time.Time{} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := *base
			tc.mutate(&e)
			assert.Error(t, validateEvent(&e))
		})
	}
}

func TestValidateEvent_PerTypeContracts(t *testing.T) {
	cases := []struct {
		name    string
		event   *domain.Event
		wantErr bool
	}{
		{
			"session.start valid",
			validEvent(domain.EventSessionStart, domain.SessionStartData{CCSessionID: "s1", Cwd: "/tmp"}),
			false,
		},
		{
			"session.start missing cwd",
			validEvent(domain.EventSessionStart, domain.SessionStartData{CCSessionID: "s1"}),
			true,
		},
		{
			"session.end valid",
			validEvent(domain.EventSessionEnd, domain.SessionEndData{CCSessionID: "s1", EndReason: domain.EndReasonExit}),
			false,
		},
		{
			"session.end missing cc_session_id",
			validEvent(domain.EventSessionEnd, domain.SessionEndData{EndReason: domain.EndReasonExit}),
			true,
		},
		{
			"git.commit valid",
			validEvent(domain.EventGitCommit, domain.GitCommitData{CommitSHA: "abc123", Branch: "main"}),
			false,
		},
		{
			"git.commit missing sha",
			validEvent(domain.EventGitCommit, domain.GitCommitData{Branch: "main"}),
			true,
		},
		{
			"git.push valid",
			validEvent(domain.EventGitPush, domain.GitPushData{Branch: "main"}),
			false,
		},
		{
			"git.push missing branch",
			validEvent(domain.EventGitPush, domain.GitPushData{Remote: "origin"}),
			true,
		},
		{
			"git.checkout valid",
			validEvent(domain.EventGitCheckout, domain.GitCheckoutData{Branch: "feature"}),
			false,
		},
		{
			"git.merge valid",
			validEvent(domain.EventGitMerge, domain.GitMergeData{Branch: "main", CommitsMerged: 3}),
			false,
		},
		{
			"unrecognized type passes through unvalidated",
			validEvent(domain.EventCCSessionStart, map[string]string{"anything": "goes"}),
			false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateEvent(tc.event)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
