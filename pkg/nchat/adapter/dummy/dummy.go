// Package dummy implements an in-memory protocol backend used by tests and
// by demo profiles registered with the Dummy choice in `nchat setup`. It
// never touches the network: its "remote" state is whatever the caller
// seeds via SeedChat, SeedContact and SeedMessage, letting integration tests exercise the
// dispatcher, cache, and UI facade without a live Telegram or WhatsApp
// account.
package dummy

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nchat-go/nchat/pkg/nchat/adapter"
	"github.com/nchat-go/nchat/pkg/nchat/dispatcher"
	"github.com/nchat-go/nchat/pkg/nchat/message"
)

// Adapter is the in-memory backend. Its contacts, chats, and messages are
// seeded via SeedChat/SeedMessage (typically from a test) before Login.
type Adapter struct {
	*adapter.Base

	logger     *slog.Logger
	dispatcher *dispatcher.Dispatcher

	mu       sync.Mutex
	contacts []message.ContactInfo
	chats    []message.ChatInfo
	messages map[string][]message.ChatMessage // chatId -> messages, ascending TimeSent

	nextMsgId atomic.Int64

	// FailLogin, when set, makes Login emit Connect{Success:false}.
	FailLogin bool
}

// New constructs a Dummy adapter for profile id, advertising every
// feature the in-memory backend can satisfy.
func New(id message.ProfileId, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		Base:     adapter.NewBase(adapter.AutoGetChatsOnLogin, adapter.MultipleProfiles, adapter.EditMessagesMax48Hrs),
		logger:   logger.With("component", "dummy", "profile", string(id)),
		messages: make(map[string][]message.ChatMessage),
	}
	a.SetIdentity(id, "Dummy")
	a.SetSelfId("self")
	a.dispatcher = dispatcher.New(id, a.Status(), a.process, a.Emit, a.logger)
	return a
}

// SeedChat registers a chat so GetChats will report it.
func (a *Adapter) SeedChat(chat message.ChatInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.chats = append(a.chats, chat)
}

// SeedContact registers a contact so GetContacts will report it.
func (a *Adapter) SeedContact(c message.ContactInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.contacts = append(a.contacts, c)
}

// SeedMessage appends a message to a chat's in-memory history.
func (a *Adapter) SeedMessage(chatId string, m message.ChatMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m.ChatId = chatId
	a.messages[chatId] = append(a.messages[chatId], m)
}

func (a *Adapter) SetupProfile(profilesDir string) (message.ProfileId, bool) {
	ok := a.LoadProfile(profilesDir, a.GetProfileId())
	return a.GetProfileId(), ok
}

func (a *Adapter) LoadProfile(profilesDir string, id message.ProfileId) bool {
	a.SetState(adapter.Loaded)
	return true
}

func (a *Adapter) CloseProfile() bool {
	a.dispatcher.Stop()
	return true
}

func (a *Adapter) Login() bool {
	if !a.CompareAndSetState(adapter.Loaded, adapter.LoggingIn) {
		return false
	}
	a.dispatcher.Start()

	if a.FailLogin {
		a.SetState(adapter.LoginFailed)
		a.dispatcher.EnqueueDeferred(message.DeferNotify{ProfileId: a.GetProfileId(), Notification: message.Connect{ProfileId: a.GetProfileId(), Success: false}})
		return true
	}

	a.SetState(adapter.Online)
	a.dispatcher.EnqueueDeferred(message.DeferNotify{ProfileId: a.GetProfileId(), Notification: message.Connect{ProfileId: a.GetProfileId(), Success: true}})

	if a.HasFeature(adapter.AutoGetChatsOnLogin) {
		a.dispatcher.Enqueue(message.GetChats{ProfileId: a.GetProfileId()})
	}
	return true
}

func (a *Adapter) Logout() bool {
	a.dispatcher.Stop()
	a.SetState(adapter.Loaded)
	return true
}

func (a *Adapter) SendRequest(req message.Request) {
	a.dispatcher.Enqueue(req)
}

// process is the dispatcher Handler: it runs on the dispatcher's single
// worker goroutine and never blocks on network I/O since there is none.
func (a *Adapter) process(req message.Request) message.Notification {
	id := a.GetProfileId()

	switch r := req.(type) {
	case message.GetContacts:
		a.mu.Lock()
		contacts := append([]message.ContactInfo(nil), a.contacts...)
		a.mu.Unlock()
		return message.NewContacts{ProfileId: id, Success: true, Contacts: contacts}

	case message.GetChats:
		a.mu.Lock()
		chats := append([]message.ChatInfo(nil), a.chats...)
		a.mu.Unlock()
		return message.NewChats{ProfileId: id, Success: true, Chats: chats}

	case message.GetMessage:
		a.mu.Lock()
		defer a.mu.Unlock()
		for _, m := range a.messages[r.ChatId] {
			if m.Id == r.MsgId {
				return message.NewMessages{ProfileId: id, Success: true, ChatId: r.ChatId, Messages: []message.ChatMessage{m}}
			}
		}
		return message.NewMessages{ProfileId: id, Success: false, ChatId: r.ChatId}

	case message.GetMessages:
		return a.getMessages(r)

	case message.SendMessage:
		m := r.ChatMessage
		if m.Id == "" {
			m.Id = fmt.Sprintf("dummy-%d", a.nextMsgId.Add(1))
		}
		m.ChatId = r.ChatId
		m.IsOutgoing = true
		m.SenderId = a.GetSelfId()
		a.SeedMessage(r.ChatId, m)
		return message.SendMessageResult{ProfileId: id, Success: true, ChatId: r.ChatId, ChatMessage: m}

	case message.MarkMessageRead:
		a.mu.Lock()
		for i, m := range a.messages[r.ChatId] {
			if m.Id == r.MsgId {
				a.messages[r.ChatId][i].IsRead = true
			}
		}
		a.mu.Unlock()
		return message.MarkMessageReadResult{ProfileId: id, Success: true, ChatId: r.ChatId, MsgId: r.MsgId}

	case message.DeleteMessage:
		a.mu.Lock()
		kept := a.messages[r.ChatId][:0]
		for _, m := range a.messages[r.ChatId] {
			if m.Id != r.MsgId {
				kept = append(kept, m)
			}
		}
		a.messages[r.ChatId] = kept
		a.mu.Unlock()
		return message.DeleteMessageResult{ProfileId: id, Success: true, ChatId: r.ChatId, MsgId: r.MsgId}

	case message.SendTyping:
		return message.SendTypingResult{ProfileId: id, Success: true, ChatId: r.ChatId, IsTyping: r.IsTyping}

	case message.SetStatus:
		return message.SetStatusResult{ProfileId: id, Success: true, IsOnline: r.IsOnline}

	case message.CreateChat:
		chat := message.ChatInfo{Id: r.UserId}
		a.SeedChat(chat)
		return message.NewChats{ProfileId: id, Success: true, Chats: []message.ChatInfo{chat}}

	case message.DownloadFile:
		return message.NewMessageFile{ProfileId: id, Success: true, ChatId: r.ChatId, MsgId: r.MsgId, FileInfo: r.FileId}

	case message.DeferNotify:
		return r.Notification

	default:
		return adapter.UnsupportedRequest(id)
	}
}

func (a *Adapter) getMessages(r message.GetMessages) message.Notification {
	a.mu.Lock()
	all := a.messages[r.ChatId]
	a.mu.Unlock()

	limit := r.Limit
	if limit <= 0 {
		limit = len(all)
	}

	var upTo int
	if r.FromMsgId == "" {
		upTo = len(all)
	} else {
		upTo = len(all)
		for i, m := range all {
			if m.Id == r.FromMsgId {
				upTo = i
				break
			}
		}
	}

	start := upTo - limit
	if start < 0 {
		start = 0
	}
	batch := append([]message.ChatMessage(nil), all[start:upTo]...)

	return message.NewMessages{ProfileId: a.GetProfileId(), Success: true, ChatId: r.ChatId, Messages: batch}
}
