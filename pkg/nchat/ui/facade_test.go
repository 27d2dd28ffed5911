package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nchat-go/nchat/pkg/nchat/adapter"
	"github.com/nchat-go/nchat/pkg/nchat/message"
)

// stubAdapter is a minimal adapter.Adapter used only to exercise the
// facade's routing logic, independent of any real protocol backend.
type stubAdapter struct {
	*adapter.Base
	sent []message.Request
}

func newStubAdapter(id message.ProfileId) *stubAdapter {
	a := &stubAdapter{Base: adapter.NewBase()}
	a.SetIdentity(id, string(id))
	return a
}

func (a *stubAdapter) SetupProfile(string) (message.ProfileId, bool) { return a.GetProfileId(), true }
func (a *stubAdapter) LoadProfile(string, message.ProfileId) bool   { return true }
func (a *stubAdapter) CloseProfile() bool                           { return true }
func (a *stubAdapter) Login() bool                                  { return true }
func (a *stubAdapter) Logout() bool                                 { return true }
func (a *stubAdapter) SendRequest(req message.Request)              { a.sent = append(a.sent, req) }

func TestSendRequestRoutesToAdapterOnCacheMiss(t *testing.T) {
	f := New(nil)
	a := newStubAdapter("Dummy_1")
	require.NoError(t, f.AddProtocol(a, t.TempDir()))

	f.SendRequest(message.GetChats{ProfileId: "Dummy_1"})

	require.Len(t, a.sent, 1)
	assert.Equal(t, message.GetChats{ProfileId: "Dummy_1"}, a.sent[0])
}

func TestSendRequestServesCacheHitWithoutReachingAdapter(t *testing.T) {
	f := New(nil)
	a := newStubAdapter("Dummy_1")
	require.NoError(t, f.AddProtocol(a, t.TempDir()))

	var delivered []message.Notification
	f.SetNotificationHandler(func(n message.Notification) { delivered = append(delivered, n) })

	a.Emit(message.NewMessages{
		ProfileId: "Dummy_1", Success: true, ChatId: "c1",
		Messages: []message.ChatMessage{{Id: "m1", ChatId: "c1", Text: "hi", TimeSent: 1000}},
	})

	f.SendRequest(message.GetMessages{ProfileId: "Dummy_1", ChatId: "c1", Limit: 1})

	require.Empty(t, a.sent, "a known chat with no FromMsgId is served from cache")
	require.GreaterOrEqual(t, len(delivered), 1)
}

func TestSetAndGetCurrentProfileAndChat(t *testing.T) {
	f := New(nil)
	a := newStubAdapter("Dummy_1")
	require.NoError(t, f.AddProtocol(a, t.TempDir()))

	assert.Equal(t, message.ProfileId("Dummy_1"), f.CurrentProfile())

	f.SetCurrentChat("c42")
	assert.Equal(t, "c42", f.CurrentChat())
}
