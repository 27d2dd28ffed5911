// Package dispatcher implements the per-profile FIFO worker described in
// the core spec: each adapter instance owns one dispatcher, which
// serializes calls into the adapter's protocol-specific Handler on a
// single dedicated goroutine, sets status flags around each call, rate
// limits between requests, and drains outstanding work on shutdown.
package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nchat-go/nchat/pkg/nchat/message"
	"github.com/nchat-go/nchat/pkg/nchat/status"
)

// interRequestDelay rate-limits rapid-fire commands between dequeues, per
// spec §4.5. Requests queued with EnqueueDeferred skip it.
const interRequestDelay = 50 * time.Millisecond

// queueCapacity bounds the FIFO; beyond this, SendRequest sheds load by
// emitting a failure notification instead of blocking, per spec §5.
const queueCapacity = 256

// Handler is the protocol-specific processing function an adapter
// supplies; it performs the actual network I/O and returns the
// notification to emit (possibly after emitting intermediate
// notifications itself via Emit, for multi-notification requests).
type Handler func(message.Request) message.Notification

// Dispatcher is the FIFO worker owned by one adapter instance.
type Dispatcher struct {
	profileId message.ProfileId
	statusReg *status.Register
	handler   Handler
	emit      func(message.Notification)
	logger    *slog.Logger
	limiter   *rate.Limiter

	mu     sync.Mutex
	queue  []queued
	notEmpty chan struct{}

	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

type queued struct {
	req       message.Request
	skipDelay bool
}

// New constructs a Dispatcher for one adapter instance. Call Start to
// begin processing.
func New(id message.ProfileId, statusReg *status.Register, handler Handler, emit func(message.Notification), logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		profileId: id,
		statusReg: statusReg,
		handler:   handler,
		emit:      emit,
		logger:    logger.With("component", "dispatcher", "profile", string(id)),
		limiter:   rate.NewLimiter(rate.Every(interRequestDelay), 1),
		notEmpty:  make(chan struct{}, 1),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Start launches the dedicated worker goroutine.
func (d *Dispatcher) Start() {
	go d.run()
}

// Enqueue adds a request to the FIFO. It never blocks: if the queue is
// full, the request is shed with a failure notification and a logged
// warning instead of being accepted.
func (d *Dispatcher) Enqueue(req message.Request) {
	d.enqueue(req, false)
}

// EnqueueDeferred injects a request (typically wrapping a DeferNotify)
// that skips the inter-request rate limit delay — used by adapters to
// route protocol events received on other goroutines through the worker
// without adding latency.
func (d *Dispatcher) EnqueueDeferred(req message.Request) {
	d.enqueue(req, true)
}

func (d *Dispatcher) enqueue(req message.Request, skipDelay bool) {
	d.mu.Lock()
	if len(d.queue) >= queueCapacity {
		d.mu.Unlock()
		d.logger.Warn("dispatcher queue full, shedding request")
		d.emitShedFailure(req)
		return
	}
	d.queue = append(d.queue, queued{req: req, skipDelay: skipDelay})
	d.mu.Unlock()

	select {
	case d.notEmpty <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) emitShedFailure(req message.Request) {
	if d.emit != nil {
		d.emit(failureFor(req))
	}
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		item, ok := d.dequeue()
		if !ok {
			return
		}

		flags := statusFlagsFor(item.req)
		if flags != 0 && d.statusReg != nil {
			d.statusReg.Set(flags)
		}

		notif := d.handler(item.req)

		if flags != 0 && d.statusReg != nil {
			d.statusReg.Clear(flags)
		}

		if notif != nil && d.emit != nil {
			d.emit(notif)
		}

		if !item.skipDelay {
			_ = d.limiter.Wait(context.Background())
		}
	}
}

// dequeue blocks until a request is available or Stop has been called
// (ok=false), draining the remaining queue with failure notifications
// before returning.
func (d *Dispatcher) dequeue() (queued, bool) {
	for {
		select {
		case <-d.stop:
			d.drainRemaining()
			return queued{}, false
		default:
		}

		d.mu.Lock()
		if len(d.queue) > 0 {
			item := d.queue[0]
			d.queue = d.queue[1:]
			d.mu.Unlock()
			return item, true
		}
		d.mu.Unlock()

		select {
		case <-d.notEmpty:
			continue
		case <-d.stop:
			d.drainRemaining()
			return queued{}, false
		}
	}
}

func (d *Dispatcher) drainRemaining() {
	d.mu.Lock()
	remaining := d.queue
	d.queue = nil
	d.mu.Unlock()

	for _, item := range remaining {
		if d.emit != nil {
			d.emit(failureFor(item.req))
		}
	}
}

// Stop signals the worker to exit: any in-flight request is allowed to
// finish, and remaining queued requests are discarded with failure
// notifications. Stop blocks until the worker has exited. Safe to call
// more than once.
func (d *Dispatcher) Stop() {
	d.once.Do(func() { close(d.stop) })
	<-d.stopped
}

func statusFlagsFor(req message.Request) status.Flag {
	switch req.(type) {
	case message.GetContacts, message.GetChats, message.GetMessage, message.GetMessages, message.DownloadFile:
		return status.Fetching
	case message.SendMessage, message.SendTyping:
		return status.Sending
	case message.MarkMessageRead, message.DeleteMessage, message.SetStatus, message.CreateChat:
		return status.Updating
	default:
		return 0
	}
}

// failureFor synthesizes the matching failure notification for a request
// that could not be served (shed, unrecognized, or dropped on shutdown),
// echoing enough identity for the UI to correlate it with the request.
func failureFor(req message.Request) message.Notification {
	id := req.ProfileID()
	switch r := req.(type) {
	case message.GetContacts:
		return message.NewContacts{ProfileId: id, Success: false}
	case message.GetChats:
		return message.NewChats{ProfileId: id, Success: false}
	case message.GetMessage:
		return message.NewMessages{ProfileId: id, Success: false, ChatId: r.ChatId}
	case message.GetMessages:
		return message.NewMessages{ProfileId: id, Success: false, ChatId: r.ChatId}
	case message.SendMessage:
		return message.SendMessageResult{ProfileId: id, Success: false, ChatId: r.ChatId, ChatMessage: r.ChatMessage}
	case message.MarkMessageRead:
		return message.MarkMessageReadResult{ProfileId: id, Success: false, ChatId: r.ChatId, MsgId: r.MsgId}
	case message.DeleteMessage:
		return message.DeleteMessageResult{ProfileId: id, Success: false, ChatId: r.ChatId, MsgId: r.MsgId}
	case message.SendTyping:
		return message.SendTypingResult{ProfileId: id, Success: false, ChatId: r.ChatId, IsTyping: r.IsTyping}
	case message.SetStatus:
		return message.SetStatusResult{ProfileId: id, Success: false, IsOnline: r.IsOnline}
	case message.CreateChat:
		return message.NewChats{ProfileId: id, Success: false}
	case message.DownloadFile:
		return message.NewMessageFile{ProfileId: id, Success: false, ChatId: r.ChatId, MsgId: r.MsgId}
	case message.DeferNotify:
		return r.Notification
	default:
		return message.NewMessages{ProfileId: id, Success: false}
	}
}
