package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fuel-code/server/pkg/domain"
	"github.com/fuel-code/server/pkg/processor"
	"github.com/fuel-code/server/pkg/transcript"
)

func TestHub_CheckToken(t *testing.T) {
	h := NewHub("secret-key")
	assert.True(t, h.CheckToken("secret-key"))
	assert.False(t, h.CheckToken("wrong-key"))
	assert.False(t, h.CheckToken(""))
}

func TestSubscriptionScope(t *testing.T) {
	cases := []struct {
		name string
		msg  clientMessage
		want string
	}{
		{"all scope", clientMessage{Scope: "all"}, "all"},
		{"workspace scope", clientMessage{WorkspaceID: "ws-1"}, "workspace:ws-1"},
		{"session scope", clientMessage{SessionID: "sess-1"}, "session:sess-1"},
		{"nothing provided", clientMessage{}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, subscriptionScope(tc.msg))
		})
	}
}

func TestSubscribedToAny(t *testing.T) {
	c := &client{subscriptions: map[string]bool{"workspace:ws-1": true}}
	assert.True(t, c.subscribedToAny([]string{"all", "workspace:ws-1"}))
	assert.False(t, c.subscribedToAny([]string{"all", "workspace:ws-2"}))
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := NewHub("key")
	c := &client{id: "c1", subscriptions: map[string]bool{}}
	h.register(c)

	h.mu.RLock()
	_, ok := h.clients["c1"]
	h.mu.RUnlock()
	assert.True(t, ok)

	h.unregister(c)
	h.mu.RLock()
	_, ok = h.clients["c1"]
	h.mu.RUnlock()
	assert.False(t, ok)
}

func TestHub_SatisfiesBroadcasterInterfaces(t *testing.T) {
	var _ processor.Broadcaster = NewHub("key")
	var _ transcript.Broadcaster = NewHub("key")
}

func TestHub_BroadcastEventScopesMatchEventFields(t *testing.T) {
	sid := "sess-1"
	e := &domain.Event{WorkspaceID: "ws-1", SessionID: &sid}

	scopes := []string{scopeAll, "workspace:" + e.WorkspaceID}
	if e.SessionID != nil {
		scopes = append(scopes, "session:"+*e.SessionID)
	}

	subscribedAll := &client{subscriptions: map[string]bool{"all": true}}
	subscribedWS := &client{subscriptions: map[string]bool{"workspace:ws-1": true}}
	subscribedSession := &client{subscriptions: map[string]bool{"session:sess-1": true}}
	subscribedOtherWS := &client{subscriptions: map[string]bool{"workspace:ws-2": true}}
	unsubscribed := &client{subscriptions: map[string]bool{}}

	assert.True(t, subscribedAll.subscribedToAny(scopes))
	assert.True(t, subscribedWS.subscribedToAny(scopes))
	assert.True(t, subscribedSession.subscribedToAny(scopes))
	assert.False(t, subscribedOtherWS.subscribedToAny(scopes))
	assert.False(t, unsubscribed.subscribedToAny(scopes))
}
