package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nchat-go/nchat/pkg/nchat/adapter/dummy"
	"github.com/nchat-go/nchat/pkg/nchat/message"
)

// These mirror the end-to-end scenarios run against the Dummy adapter: a
// full facade+dispatcher+cache stack, not the routing-only stubAdapter
// used elsewhere in this package's tests.

func TestScenarioSendMessageThenOutgoingEcho(t *testing.T) {
	f := New(nil)
	a := dummy.New("Dummy_1", nil)
	require.NoError(t, f.AddProtocol(a, t.TempDir()))

	var delivered []message.Notification
	f.SetNotificationHandler(func(n message.Notification) { delivered = append(delivered, n) })

	require.True(t, a.LoadProfile("", "Dummy_1"))
	require.True(t, a.Login())
	f.SendRequest(message.SendMessage{
		ProfileId:   "Dummy_1",
		ChatId:      "c1",
		ChatMessage: message.ChatMessage{Text: "hi"},
	})

	require.Eventually(t, func() bool { return len(delivered) >= 3 }, time.Second, time.Millisecond)

	var sendResult *message.SendMessageResult
	var echoed *message.NewMessages
	for _, n := range delivered {
		switch v := n.(type) {
		case message.SendMessageResult:
			sendResult = &v
		case message.NewMessages:
			if len(v.Messages) == 1 && v.Messages[0].Text == "hi" {
				echoed = &v
			}
		}
	}

	require.NotNil(t, sendResult, "expected a SendMessageResult notification")
	assert.True(t, sendResult.Success)
	assert.Equal(t, "c1", sendResult.ChatId)
	assert.Equal(t, "hi", sendResult.ChatMessage.Text)

	require.NotNil(t, echoed, "expected a follow-up NewMessages echoing the outgoing message")
	assert.True(t, echoed.Messages[0].IsOutgoing)
	assert.Equal(t, "hi", echoed.Messages[0].Text)
}

func TestScenarioEditedMessageForwardsAsModified(t *testing.T) {
	f := New(nil)
	a := dummy.New("Dummy_1", nil)
	require.NoError(t, f.AddProtocol(a, t.TempDir()))

	var delivered []message.Notification
	f.SetNotificationHandler(func(n message.Notification) { delivered = append(delivered, n) })

	a.Emit(message.NewMessages{
		ProfileId: "Dummy_1", Success: true, ChatId: "c1",
		Messages: []message.ChatMessage{{Id: "mX", ChatId: "c1", Text: "original", TimeSent: 1000}},
	})
	a.Emit(message.NewMessages{
		ProfileId: "Dummy_1", Success: true, ChatId: "c1", Modified: true,
		Messages: []message.ChatMessage{{Id: "mX", ChatId: "c1", Text: "edited", TimeSent: 1000}},
	})

	require.Eventually(t, func() bool { return len(delivered) >= 2 }, time.Second, time.Millisecond)

	first := delivered[0].(message.NewMessages)
	second := delivered[1].(message.NewMessages)
	assert.False(t, first.Modified)
	assert.True(t, second.Modified)
	assert.Equal(t, "mX", second.Messages[0].Id)
	assert.Equal(t, "edited", second.Messages[0].Text)
}

func TestScenarioSetStatusOnUnloadedProfileReportsFailureWithoutCrash(t *testing.T) {
	f := New(nil)

	var delivered message.Notification
	f.SetNotificationHandler(func(n message.Notification) { delivered = n })

	assert.NotPanics(t, func() {
		f.SendRequest(message.SetStatus{ProfileId: "Ghost_1", IsOnline: true})
	})

	require.NotNil(t, delivered)
	result, ok := delivered.(message.SetStatusResult)
	require.True(t, ok)
	assert.False(t, result.Success)
}
