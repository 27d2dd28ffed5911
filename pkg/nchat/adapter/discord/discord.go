// Package discord implements the Discord protocol adapter on top of
// bwmarrin/discordgo's bot-account gateway client. Unlike Telegram and
// WhatsApp, Discord bots authenticate with a single long-lived token
// rather than a per-profile interactive login, so SetupProfile and
// LoadProfile both reduce to opening the same gateway session.
package discord

import (
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/nchat-go/nchat/pkg/nchat/adapter"
	"github.com/nchat-go/nchat/pkg/nchat/dispatcher"
	"github.com/nchat-go/nchat/pkg/nchat/message"
)

// Credentials is the bot token issued by the Discord developer portal,
// shared across every Discord profile since a bot token identifies the
// application, not an individual account handle.
type Credentials struct {
	Token string
}

// Adapter is the Discord protocol backend. One Adapter owns one gateway
// session scoped to a single guild/DM-visible bot identity.
type Adapter struct {
	*adapter.Base

	logger     *slog.Logger
	dispatcher *dispatcher.Dispatcher
	token      string

	mu      sync.Mutex
	session *discordgo.Session
}

// New constructs an unauthenticated Discord adapter for profile id.
func New(id message.ProfileId, creds Credentials, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		logger: logger.With("component", "discord", "profile", string(id)),
		token:  creds.Token,
		Base: adapter.NewBase(
			adapter.MultipleProfiles,
			adapter.TypingTimeout,
		),
	}
	a.SetIdentity(id, "Discord")
	a.dispatcher = dispatcher.New(id, a.Status(), a.process, a.Emit, a.logger)
	return a
}

// SetupProfile and LoadProfile are identical for Discord: a bot token has
// no separate registration step, so both just open the gateway session
// and confirm the token is accepted.
func (a *Adapter) SetupProfile(profilesDir string) (message.ProfileId, bool) {
	ok := a.LoadProfile(profilesDir, a.GetProfileId())
	return a.GetProfileId(), ok
}

func (a *Adapter) LoadProfile(profilesDir string, id message.ProfileId) bool {
	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		a.logger.Error("discord: create session", "err", err)
		return false
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	session.AddHandler(a.onMessageCreate)

	a.mu.Lock()
	a.session = session
	a.mu.Unlock()

	a.SetState(adapter.Loaded)
	return true
}

func (a *Adapter) CloseProfile() bool {
	a.dispatcher.Stop()
	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	if session != nil {
		_ = session.Close()
	}
	a.SetState(adapter.Uninitialized)
	return true
}

// Login opens the gateway websocket. Once discordgo's handshake
// completes, session.State.User is populated with the bot's own
// identity, which becomes GetSelfId.
func (a *Adapter) Login() bool {
	if !a.CompareAndSetState(adapter.Loaded, adapter.LoggingIn) {
		return false
	}
	a.dispatcher.Start()

	a.mu.Lock()
	session := a.session
	a.mu.Unlock()

	if err := session.Open(); err != nil {
		a.SetState(adapter.LoginFailed)
		a.dispatcher.EnqueueDeferred(message.DeferNotify{ProfileId: a.GetProfileId(), Notification: message.Connect{ProfileId: a.GetProfileId(), Success: false}})
		a.logger.Error("discord: open gateway", "err", err)
		return true
	}

	if session.State.User != nil {
		a.SetSelfId(session.State.User.ID)
	}
	a.SetState(adapter.Online)
	a.dispatcher.EnqueueDeferred(message.DeferNotify{ProfileId: a.GetProfileId(), Notification: message.Connect{ProfileId: a.GetProfileId(), Success: true}})
	return true
}

func (a *Adapter) Logout() bool {
	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	if session != nil {
		_ = session.Close()
	}
	a.dispatcher.Stop()
	a.SetState(adapter.Loaded)
	return true
}

func (a *Adapter) SendRequest(req message.Request) {
	a.dispatcher.Enqueue(req)
}

// onMessageCreate converts a gateway MESSAGE_CREATE event into a
// NewMessages notification, skipping the bot's own messages so sends
// don't echo back as new incoming messages.
func (a *Adapter) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if s.State.User != nil && m.Author != nil && m.Author.ID == s.State.User.ID {
		return
	}

	cm := message.ChatMessage{
		Id:       m.ID,
		ChatId:   m.ChannelID,
		Text:     m.Content,
		TimeSent: m.Timestamp.UnixMilli(),
	}
	if m.Author != nil {
		cm.SenderId = m.Author.ID
	}
	cm.TimeSent += message.TimeSentTiebreak(cm.Id)

	a.dispatcher.EnqueueDeferred(message.DeferNotify{
		ProfileId: a.GetProfileId(),
		Notification: message.NewMessages{
			ProfileId: a.GetProfileId(),
			Success:   true,
			ChatId:    m.ChannelID,
			Messages:  []message.ChatMessage{cm},
		},
	})
}

// process is the dispatcher Handler, run on the adapter's single worker
// goroutine.
func (a *Adapter) process(req message.Request) message.Notification {
	id := a.GetProfileId()

	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	if session == nil || a.State() != adapter.Online {
		return adapter.UnsupportedRequest(id)
	}

	switch r := req.(type) {
	case message.SendMessage:
		return a.sendMessage(session, id, r)
	case message.GetChats:
		return a.getChats(session, id)
	case message.GetContacts:
		// Bot accounts have no friends/contacts list (that API is
		// reserved for user accounts and disallowed by Discord's ToS),
		// so this always reports an empty but successful result.
		return message.NewContacts{ProfileId: id, Success: true}
	case message.MarkMessageRead:
		_ = session.ChannelMessageAck(r.ChatId, r.MsgId, "")
		return message.MarkMessageReadResult{ProfileId: id, Success: true, ChatId: r.ChatId, MsgId: r.MsgId}
	case message.DeferNotify:
		return r.Notification
	default:
		return adapter.UnsupportedRequest(id)
	}
}

func (a *Adapter) sendMessage(session *discordgo.Session, id message.ProfileId, r message.SendMessage) message.Notification {
	sent, err := session.ChannelMessageSend(r.ChatId, r.ChatMessage.Text)
	if err != nil {
		a.logger.Error("discord: send message", "err", err, "chat", r.ChatId)
		return message.SendMessageResult{ProfileId: id, Success: false, ChatId: r.ChatId, ChatMessage: r.ChatMessage}
	}

	out := r.ChatMessage
	out.Id = sent.ID
	out.ChatId = r.ChatId
	out.IsOutgoing = true
	return message.SendMessageResult{ProfileId: id, Success: true, ChatId: r.ChatId, ChatMessage: out}
}

// getChats lists every guild text channel and open DM channel the bot's
// gateway state cache currently knows about. Unlike Telegram/WhatsApp
// there is no "unread count" concept exposed to bots, so IsUnread is
// always false; the UI falls back to treating every new message as the
// unread signal.
func (a *Adapter) getChats(session *discordgo.Session, id message.ProfileId) message.Notification {
	var chats []message.ChatInfo

	for _, g := range session.State.Guilds {
		for _, ch := range g.Channels {
			if ch.Type != discordgo.ChannelTypeGuildText {
				continue
			}
			chats = append(chats, message.ChatInfo{Id: ch.ID})
		}
	}
	for _, ch := range session.State.PrivateChannels {
		chats = append(chats, message.ChatInfo{Id: ch.ID})
	}

	return message.NewChats{ProfileId: id, Success: true, Chats: chats}
}
