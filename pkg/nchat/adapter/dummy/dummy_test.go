package dummy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nchat-go/nchat/pkg/nchat/adapter"
	"github.com/nchat-go/nchat/pkg/nchat/message"
)

func TestLoginEmitsConnectSuccess(t *testing.T) {
	a := New("Dummy_1", nil)
	var got []message.Notification
	a.SetMessageHandler(func(n message.Notification) { got = append(got, n) })

	require.True(t, a.LoadProfile("", "Dummy_1"))
	require.True(t, a.Login())

	require.Eventually(t, func() bool { return len(got) >= 1 }, time.Second, time.Millisecond)
	assert.True(t, got[0].Succeeded())
	assert.Equal(t, adapter.Online, a.State())
}

func TestFailedLoginEmitsConnectFailureAndLeavesLoginFailedState(t *testing.T) {
	a := New("Dummy_1", nil)
	a.FailLogin = true
	var got []message.Notification
	a.SetMessageHandler(func(n message.Notification) { got = append(got, n) })

	require.True(t, a.LoadProfile("", "Dummy_1"))
	require.True(t, a.Login())

	require.Eventually(t, func() bool { return len(got) >= 1 }, time.Second, time.Millisecond)
	assert.False(t, got[0].Succeeded())
	assert.Equal(t, adapter.LoginFailed, a.State())
}

func TestSendMessageRoundTrips(t *testing.T) {
	a := New("Dummy_1", nil)
	var got []message.Notification
	a.SetMessageHandler(func(n message.Notification) { got = append(got, n) })

	require.True(t, a.LoadProfile("", "Dummy_1"))
	require.True(t, a.Login())

	a.SendRequest(message.SendMessage{ProfileId: "Dummy_1", ChatId: "c1", ChatMessage: message.ChatMessage{Text: "hello"}})

	require.Eventually(t, func() bool {
		for _, n := range got {
			if r, ok := n.(message.SendMessageResult); ok && r.ChatMessage.Text == "hello" {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
}

func TestGetMessagesPagesFromNewest(t *testing.T) {
	a := New("Dummy_1", nil)
	for i := 0; i < 5; i++ {
		a.SeedMessage("c1", message.ChatMessage{Id: string(rune('a' + i)), TimeSent: int64(1000 + i)})
	}
	var got []message.Notification
	a.SetMessageHandler(func(n message.Notification) { got = append(got, n) })

	require.True(t, a.LoadProfile("", "Dummy_1"))
	require.True(t, a.Login())
	a.SendRequest(message.GetMessages{ProfileId: "Dummy_1", ChatId: "c1", Limit: 2})

	require.Eventually(t, func() bool {
		for _, n := range got {
			if nm, ok := n.(message.NewMessages); ok && nm.ChatId == "c1" && len(nm.Messages) == 2 {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
}
