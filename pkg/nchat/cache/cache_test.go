package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nchat-go/nchat/pkg/nchat/message"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	dir := t.TempDir()
	c, err := Open(dir, "Dummy_1", nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestHandleNewMessagesPersistsAndForwards(t *testing.T) {
	c := newTestCache(t)

	var forwarded []message.Notification
	c.Forward = func(n message.Notification) { forwarded = append(forwarded, n) }

	c.HandleNotification(message.NewMessages{
		ProfileId: "Dummy_1",
		Success:   true,
		ChatId:    "c1",
		Messages: []message.ChatMessage{
			{Id: "m1", ChatId: "c1", Text: "hi", TimeSent: 1000},
			{Id: "m2", ChatId: "c1", Text: "there", TimeSent: 2000},
		},
	})

	require.Len(t, forwarded, 1)
	nm := forwarded[0].(message.NewMessages)
	assert.True(t, nm.Success)
	require.Len(t, nm.Messages, 2)
	assert.Equal(t, "m1", nm.Messages[0].Id)
	assert.Equal(t, "m2", nm.Messages[1].Id)
}

func TestHandleNewMessagesDedupesIdenticalResubmission(t *testing.T) {
	c := newTestCache(t)
	var forwarded int
	c.Forward = func(message.Notification) { forwarded++ }

	msg := message.ChatMessage{Id: "m1", ChatId: "c1", Text: "hi", TimeSent: 1000}
	batch := message.NewMessages{ProfileId: "Dummy_1", Success: true, ChatId: "c1", Messages: []message.ChatMessage{msg}}

	c.HandleNotification(batch)
	require.Equal(t, 1, forwarded)

	// Resubmitting the identical message must not produce a second forward.
	c.HandleNotification(batch)
	assert.Equal(t, 1, forwarded)
}

func TestHandleNewMessagesForwardsEditsAsModified(t *testing.T) {
	c := newTestCache(t)
	var forwarded []message.Notification
	c.Forward = func(n message.Notification) { forwarded = append(forwarded, n) }

	c.HandleNotification(message.NewMessages{
		ProfileId: "Dummy_1", Success: true, ChatId: "c1",
		Messages: []message.ChatMessage{{Id: "m1", ChatId: "c1", Text: "hi", TimeSent: 1000}},
	})
	c.HandleNotification(message.NewMessages{
		ProfileId: "Dummy_1", Success: true, ChatId: "c1", Modified: true,
		Messages: []message.ChatMessage{{Id: "m1", ChatId: "c1", Text: "hi edited", TimeSent: 1000}},
	})

	require.Len(t, forwarded, 2)
	edit := forwarded[1].(message.NewMessages)
	assert.True(t, edit.Modified)
	assert.Equal(t, "hi edited", edit.Messages[0].Text)
}

// TestHandleNewMessagesDetectsEditsWithoutAdapterHint covers the
// production path: no real adapter ever sets Modified itself, so the
// cache must derive it purely from the stored-vs-incoming diff.
func TestHandleNewMessagesDetectsEditsWithoutAdapterHint(t *testing.T) {
	c := newTestCache(t)
	var forwarded []message.Notification
	c.Forward = func(n message.Notification) { forwarded = append(forwarded, n) }

	c.HandleNotification(message.NewMessages{
		ProfileId: "Dummy_1", Success: true, ChatId: "c1",
		Messages: []message.ChatMessage{{Id: "m1", ChatId: "c1", Text: "hi", TimeSent: 1000}},
	})
	c.HandleNotification(message.NewMessages{
		ProfileId: "Dummy_1", Success: true, ChatId: "c1",
		Messages: []message.ChatMessage{{Id: "m1", ChatId: "c1", Text: "hi edited", TimeSent: 1000}},
	})

	require.Len(t, forwarded, 2)
	edit := forwarded[1].(message.NewMessages)
	assert.True(t, edit.Modified)
}

func TestHandleRequestServesCachedHistoryWithoutForwardingToAdapter(t *testing.T) {
	c := newTestCache(t)
	c.Forward = func(message.Notification) {}

	c.HandleNotification(message.NewMessages{
		ProfileId: "Dummy_1", Success: true, ChatId: "c1",
		Messages: []message.ChatMessage{
			{Id: "m1", ChatId: "c1", Text: "a", TimeSent: 1000},
			{Id: "m2", ChatId: "c1", Text: "b", TimeSent: 2000},
		},
	})
	require.NoError(t, c.MarkChatComplete("c1"))

	var got message.NewMessages
	c.Forward = func(n message.Notification) { got = n.(message.NewMessages) }

	handled := c.HandleRequest(message.GetMessages{ProfileId: "Dummy_1", ChatId: "c1", Limit: 10})
	require.True(t, handled)
	require.Len(t, got.Messages, 2)
}

func TestHandleRequestMissesWhenChatUnknown(t *testing.T) {
	c := newTestCache(t)
	handled := c.HandleRequest(message.GetMessages{ProfileId: "Dummy_1", ChatId: "unknown", Limit: 10})
	assert.False(t, handled)
}

func TestTimeCollisionAppliesTiebreak(t *testing.T) {
	c := newTestCache(t)
	var forwarded []message.Notification
	c.Forward = func(n message.Notification) { forwarded = append(forwarded, n) }

	c.HandleNotification(message.NewMessages{
		ProfileId: "Dummy_1", Success: true, ChatId: "c1",
		Messages: []message.ChatMessage{
			{Id: "m1", ChatId: "c1", Text: "a", TimeSent: 5000},
			{Id: "m2", ChatId: "c1", Text: "b", TimeSent: 5000},
		},
	})

	require.Len(t, forwarded, 1)
	nm := forwarded[0].(message.NewMessages)
	require.Len(t, nm.Messages, 2)
	assert.NotEqual(t, nm.Messages[0].TimeSent, nm.Messages[1].TimeSent, "colliding timestamps must be tiebroken apart")
}

func TestSendMessageResultPersistsThenForwardsAsNewMessages(t *testing.T) {
	c := newTestCache(t)
	var forwarded []message.Notification
	c.Forward = func(n message.Notification) { forwarded = append(forwarded, n) }

	c.HandleNotification(message.SendMessageResult{
		ProfileId: "Dummy_1", Success: true, ChatId: "c1",
		ChatMessage: message.ChatMessage{Id: "m1", ChatId: "c1", Text: "hi", TimeSent: 1000, IsOutgoing: true},
	})

	require.Len(t, forwarded, 2)
	_, ok := forwarded[0].(message.SendMessageResult)
	require.True(t, ok)
	nm, ok := forwarded[1].(message.NewMessages)
	require.True(t, ok)
	require.Len(t, nm.Messages, 1)
	assert.True(t, nm.Messages[0].IsOutgoing)
	assert.Equal(t, "hi", nm.Messages[0].Text)
}

func TestFailedSendMessageResultIsNotPersistedOrFollowedByNewMessages(t *testing.T) {
	c := newTestCache(t)
	var forwarded []message.Notification
	c.Forward = func(n message.Notification) { forwarded = append(forwarded, n) }

	c.HandleNotification(message.SendMessageResult{
		ProfileId: "Dummy_1", Success: false, ChatId: "c1",
		ChatMessage: message.ChatMessage{Id: "m1", ChatId: "c1", Text: "hi"},
	})

	require.Len(t, forwarded, 1)
}

func TestHandleNewMessagesForwardsInNonDecreasingTimeOrder(t *testing.T) {
	c := newTestCache(t)
	var forwarded message.NewMessages
	c.Forward = func(n message.Notification) { forwarded = n.(message.NewMessages) }

	// Delivered out of time order; the forwarded batch must come out sorted.
	c.HandleNotification(message.NewMessages{
		ProfileId: "Dummy_1", Success: true, ChatId: "c1",
		Messages: []message.ChatMessage{
			{Id: "m3", ChatId: "c1", Text: "third", TimeSent: 3000},
			{Id: "m1", ChatId: "c1", Text: "first", TimeSent: 1000},
			{Id: "m2", ChatId: "c1", Text: "second", TimeSent: 2000},
		},
	})

	require.Len(t, forwarded.Messages, 3)
	for i := 1; i < len(forwarded.Messages); i++ {
		assert.LessOrEqual(t, forwarded.Messages[i-1].TimeSent, forwarded.Messages[i].TimeSent)
	}
	assert.Equal(t, "m1", forwarded.Messages[0].Id)
	assert.Equal(t, "m3", forwarded.Messages[2].Id)
}

func TestExportWritesOneFilePerChat(t *testing.T) {
	c := newTestCache(t)
	c.Forward = func(message.Notification) {}
	c.HandleNotification(message.NewMessages{
		ProfileId: "Dummy_1", Success: true, ChatId: "c1",
		Messages: []message.ChatMessage{{Id: "m1", ChatId: "c1", SenderId: "alice", Text: "hello", TimeSent: 1000}},
	})

	out := t.TempDir()
	require.NoError(t, c.Export(out))

	data, err := os.ReadFile(filepath.Join(out, "c1.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "alice: hello")
}
