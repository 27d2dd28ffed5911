package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nchat-go/nchat/pkg/nchat/message"
	"github.com/nchat-go/nchat/pkg/nchat/status"
)

func TestDispatcherProcessesInFIFOOrder(t *testing.T) {
	var emitted []message.Notification
	emit := func(n message.Notification) { emitted = append(emitted, n) }

	var processed []string
	handler := func(req message.Request) message.Notification {
		r := req.(message.GetMessage)
		processed = append(processed, r.MsgId)
		return message.NewMessages{ProfileId: r.ProfileId, Success: true, ChatId: r.ChatId}
	}

	d := New("p1", status.New(), handler, emit, nil)
	d.Start()
	defer d.Stop()

	for i := 0; i < 5; i++ {
		d.EnqueueDeferred(message.GetMessage{ProfileId: "p1", ChatId: "c1", MsgId: string(rune('a' + i))})
	}

	require.Eventually(t, func() bool { return len(emitted) == 5 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, processed)
}

func TestDispatcherSetsStatusFlagsAroundCall(t *testing.T) {
	reg := status.New()
	var sawFetching bool

	handler := func(req message.Request) message.Notification {
		sawFetching = reg.Has(status.Fetching)
		return message.NewChats{ProfileId: req.ProfileID(), Success: true}
	}

	d := New("p1", reg, handler, func(message.Notification) {}, nil)
	d.Start()
	defer d.Stop()

	d.EnqueueDeferred(message.GetChats{ProfileId: "p1"})
	require.Eventually(t, func() bool { return sawFetching }, time.Second, time.Millisecond)
	assert.False(t, reg.Has(status.Fetching), "flag must be cleared after the call completes")
}

func TestStopDrainsQueueWithFailureNotifications(t *testing.T) {
	block := make(chan struct{})
	var emitted []message.Notification
	handler := func(req message.Request) message.Notification {
		<-block
		return message.NewChats{ProfileId: req.ProfileID(), Success: true}
	}

	d := New("p1", status.New(), handler, func(n message.Notification) { emitted = append(emitted, n) }, nil)
	d.Start()

	d.EnqueueDeferred(message.GetChats{ProfileId: "p1"}) // will block in handler
	d.EnqueueDeferred(message.GetChats{ProfileId: "p1"}) // queued, should be discarded as failure

	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()

	close(block) // let the in-flight call finish
	<-done

	require.Len(t, emitted, 2)
	assert.True(t, emitted[0].Succeeded())
	assert.False(t, emitted[1].Succeeded())
}

func TestEnqueueShedsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	var emitted []message.Notification
	handler := func(req message.Request) message.Notification {
		<-block
		return message.NewChats{ProfileId: req.ProfileID(), Success: true}
	}

	d := New("p1", status.New(), handler, func(n message.Notification) { emitted = append(emitted, n) }, nil)
	d.Start()
	defer func() {
		close(block)
		d.Stop()
	}()

	d.EnqueueDeferred(message.GetChats{ProfileId: "p1"}) // occupies the worker
	time.Sleep(10 * time.Millisecond)

	for i := 0; i < queueCapacity+5; i++ {
		d.EnqueueDeferred(message.GetChats{ProfileId: "p1"})
	}

	require.Eventually(t, func() bool { return len(emitted) >= 5 }, time.Second, time.Millisecond)
}
