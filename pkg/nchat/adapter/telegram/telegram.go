// Package telegram implements the Telegram protocol adapter on top of
// gotd/td, a native Go MTProto client. The adapter owns a long-running
// client.Run loop (gotd's connection lifecycle requires it); requests
// queued by the dispatcher reach the MTProto API only once that loop has
// completed authentication.
package telegram

import (
	"context"
	cryptorand "crypto/rand"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/session"
	"github.com/gotd/td/tg"
	"golang.org/x/term"

	"github.com/nchat-go/nchat/pkg/nchat/adapter"
	"github.com/nchat-go/nchat/pkg/nchat/dispatcher"
	"github.com/nchat-go/nchat/pkg/nchat/message"
)

const fdStdin = syscall.Stdin

// Credentials are the Telegram API id/hash every MTProto client needs,
// obtained once from my.telegram.org and shared across profiles.
type Credentials struct {
	AppID   int
	AppHash string
}

// Adapter is the Telegram protocol backend.
type Adapter struct {
	*adapter.Base

	logger     *slog.Logger
	dispatcher *dispatcher.Dispatcher
	creds      Credentials
	phone      string

	client *telegram.Client
	api    atomic.Pointer[tg.Client]

	runCtx    context.Context
	runCancel context.CancelFunc
	runDone   chan struct{}

	mu      sync.Mutex
	selfId  int64
	peerIdx map[string]tg.InputPeerClass // chatId (stringified peer) -> resolved peer
}

// New constructs an unauthenticated Telegram adapter for profile id.
func New(id message.ProfileId, phone string, creds Credentials, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		logger: logger.With("component", "telegram", "profile", string(id)),
		creds:  creds,
		phone:  phone,
		Base: adapter.NewBase(
			adapter.MultipleProfiles,
			adapter.EditMessagesCurrentDay,
		),
		peerIdx: make(map[string]tg.InputPeerClass),
	}
	a.SetIdentity(id, "Telegram")
	a.dispatcher = dispatcher.New(id, a.Status(), a.process, a.Emit, a.logger)
	return a
}

func (a *Adapter) sessionPath(profilesDir string, id message.ProfileId) string {
	return fmt.Sprintf("%s/%s/cache/telegram.session", profilesDir, id)
}

// SetupProfile and LoadProfile are identical for Telegram: gotd's session
// storage transparently handles "no session yet" by triggering the login
// flow on first Run, so there is no separate first-run registration step.
func (a *Adapter) SetupProfile(profilesDir string) (message.ProfileId, bool) {
	ok := a.LoadProfile(profilesDir, a.GetProfileId())
	return a.GetProfileId(), ok
}

func (a *Adapter) LoadProfile(profilesDir string, id message.ProfileId) bool {
	dispatch := tg.NewUpdateDispatcher()
	dispatch.OnNewMessage(a.onNewMessage)

	a.client = telegram.NewClient(a.creds.AppID, a.creds.AppHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: a.sessionPath(profilesDir, id)},
		UpdateHandler:  &dispatch,
		Device: telegram.DeviceConfig{
			DeviceModel:   "nchat",
			SystemVersion: "linux",
			AppVersion:    "1.0.0",
		},
	})
	a.SetState(adapter.Loaded)
	return true
}

// onNewMessage converts an incoming MTProto message update into a
// NewMessages notification and remembers the peer so replies can resolve
// it later, following the same entities-driven peer cache warming the
// update dispatcher pattern relies on.
func (a *Adapter) onNewMessage(ctx context.Context, entities tg.Entities, u *tg.UpdateNewMessage) error {
	msg, ok := u.Message.(*tg.Message)
	if !ok || msg.Out {
		return nil
	}

	peerId := peerIDString(msg.PeerID)
	if peer := inputPeerFor(msg.PeerID, entities); peer != nil {
		a.rememberPeer(peerId, peer)
	}

	cm := message.ChatMessage{
		Id:       strconv.Itoa(msg.ID),
		ChatId:   peerId,
		Text:     msg.Message,
		TimeSent: int64(msg.Date) * 1000,
	}
	cm.TimeSent += message.TimeSentTiebreak(cm.Id)

	a.dispatcher.EnqueueDeferred(message.DeferNotify{
		ProfileId: a.GetProfileId(),
		Notification: message.NewMessages{
			ProfileId: a.GetProfileId(),
			Success:   true,
			ChatId:    peerId,
			Messages:  []message.ChatMessage{cm},
		},
	})
	return nil
}

func peerIDString(p tg.PeerClass) string {
	switch v := p.(type) {
	case *tg.PeerUser:
		return "user" + strconv.FormatInt(v.UserID, 10)
	case *tg.PeerChat:
		return "chat" + strconv.FormatInt(v.ChatID, 10)
	case *tg.PeerChannel:
		return "channel" + strconv.FormatInt(v.ChannelID, 10)
	default:
		return ""
	}
}

func inputPeerFor(p tg.PeerClass, entities tg.Entities) tg.InputPeerClass {
	switch v := p.(type) {
	case *tg.PeerUser:
		if u, ok := entities.Users[v.UserID]; ok {
			return &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash}
		}
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: v.ChatID}
	case *tg.PeerChannel:
		if c, ok := entities.Channels[v.ChannelID]; ok {
			return &tg.InputPeerChannel{ChannelID: c.ID, AccessHash: c.AccessHash}
		}
	}
	return nil
}

func (a *Adapter) CloseProfile() bool {
	a.dispatcher.Stop()
	if a.runCancel != nil {
		a.runCancel()
		<-a.runDone
	}
	a.SetState(adapter.Uninitialized)
	return true
}

// Login starts the MTProto connection loop in a background goroutine,
// authenticating via the terminal if no session exists, then runs until
// CloseProfile cancels it.
func (a *Adapter) Login() bool {
	if !a.CompareAndSetState(adapter.Loaded, adapter.LoggingIn) {
		return false
	}
	a.dispatcher.Start()

	a.runCtx, a.runCancel = context.WithCancel(context.Background())
	a.runDone = make(chan struct{})
	ready := make(chan error, 1)

	go func() {
		defer close(a.runDone)
		err := a.client.Run(a.runCtx, func(ctx context.Context) error {
			if loginErr := a.authenticate(ctx); loginErr != nil {
				ready <- loginErr
				return loginErr
			}

			self, err := a.client.Self(ctx)
			if err != nil {
				ready <- err
				return err
			}
			a.mu.Lock()
			a.selfId = self.ID
			a.mu.Unlock()
			a.SetSelfId(strconv.FormatInt(self.ID, 10))

			a.api.Store(a.client.API())
			a.SetState(adapter.Online)
			ready <- nil
			a.dispatcher.EnqueueDeferred(message.DeferNotify{ProfileId: a.GetProfileId(), Notification: message.Connect{ProfileId: a.GetProfileId(), Success: true}})

			<-ctx.Done()
			return ctx.Err()
		})
		if err != nil && a.State() != adapter.Uninitialized {
			a.CompareAndSetState(adapter.Online, adapter.Reconnecting)
		}
	}()

	if err := <-ready; err != nil {
		a.SetState(adapter.LoginFailed)
		a.dispatcher.EnqueueDeferred(message.DeferNotify{ProfileId: a.GetProfileId(), Notification: message.Connect{ProfileId: a.GetProfileId(), Success: false}})
		a.logger.Error("telegram: login failed", "err", err)
	}
	return true
}

func (a *Adapter) authenticate(ctx context.Context) error {
	status, err := a.client.Auth().Status(ctx)
	if err != nil {
		return errors.Wrap(err, "auth status")
	}
	if status.Authorized {
		return nil
	}
	flow := auth.NewFlow(terminalAuthenticator{phone: a.phone}, auth.SendCodeOptions{})
	return a.client.Auth().IfNecessary(ctx, flow)
}

func (a *Adapter) Logout() bool {
	ctx := a.runCtx
	if ctx != nil && a.client != nil {
		_, _ = a.client.API().AuthLogOut(ctx)
	}
	a.dispatcher.Stop()
	if a.runCancel != nil {
		a.runCancel()
	}
	a.SetState(adapter.Loaded)
	return true
}

func (a *Adapter) SendRequest(req message.Request) {
	a.dispatcher.Enqueue(req)
}

// process is the dispatcher Handler, run on the adapter's single worker
// goroutine. A nil api means the connection loop hasn't finished
// authenticating yet.
func (a *Adapter) process(req message.Request) message.Notification {
	id := a.GetProfileId()
	api := a.api.Load()
	if api == nil {
		return adapter.UnsupportedRequest(id)
	}

	switch r := req.(type) {
	case message.SendMessage:
		return a.sendMessage(api, id, r)
	case message.GetContacts:
		return a.getContacts(api, id)
	case message.GetChats:
		return message.NewChats{ProfileId: id, Success: true} // no chat list is pulled; chats surface as messages arrive
	case message.MarkMessageRead:
		return message.MarkMessageReadResult{ProfileId: id, Success: true, ChatId: r.ChatId, MsgId: r.MsgId}
	case message.DeferNotify:
		return r.Notification
	default:
		return adapter.UnsupportedRequest(id)
	}
}

func (a *Adapter) sendMessage(api *tg.Client, id message.ProfileId, r message.SendMessage) message.Notification {
	peer, err := a.resolvePeer(r.ChatId)
	if err != nil {
		return message.SendMessageResult{ProfileId: id, Success: false, ChatId: r.ChatId, ChatMessage: r.ChatMessage}
	}

	_, err = api.MessagesSendMessage(a.runCtx, &tg.MessagesSendMessageRequest{
		Peer:     peer,
		Message:  r.ChatMessage.Text,
		RandomID: randomID(),
	})
	if err != nil {
		return message.SendMessageResult{ProfileId: id, Success: false, ChatId: r.ChatId, ChatMessage: r.ChatMessage}
	}

	sent := r.ChatMessage
	sent.ChatId = r.ChatId
	sent.IsOutgoing = true
	return message.SendMessageResult{ProfileId: id, Success: true, ChatId: r.ChatId, ChatMessage: sent}
}

func (a *Adapter) getContacts(api *tg.Client, id message.ProfileId) message.Notification {
	result, err := api.ContactsGetContacts(a.runCtx, 0)
	if err != nil {
		return message.NewContacts{ProfileId: id, Success: false}
	}
	list, ok := result.(*tg.ContactsContacts)
	if !ok {
		return message.NewContacts{ProfileId: id, Success: false}
	}

	var out []message.ContactInfo
	for _, u := range list.Users {
		user, ok := u.(*tg.User)
		if !ok {
			continue
		}
		name := strings.TrimSpace(user.FirstName + " " + user.LastName)
		out = append(out, message.ContactInfo{Id: strconv.FormatInt(user.ID, 10), Name: name, Phone: user.Phone})
	}
	return message.NewContacts{ProfileId: id, Success: true, Contacts: out}
}

// resolvePeer looks up a previously-seen peer by the stringified chat id
// the cache/UI uses, populated as incoming message updates arrive.
func (a *Adapter) resolvePeer(chatId string) (tg.InputPeerClass, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	peer, ok := a.peerIdx[chatId]
	if !ok {
		return nil, fmt.Errorf("telegram: unknown peer for chat %q", chatId)
	}
	return peer, nil
}

func (a *Adapter) rememberPeer(chatId string, peer tg.InputPeerClass) {
	a.mu.Lock()
	a.peerIdx[chatId] = peer
	a.mu.Unlock()
}

// randomID fills gotd's required per-message idempotency token. Telegram
// only needs it to be unique per client session.
func randomID() int64 {
	var b [8]byte
	_, _ = cryptorand.Read(b[:])
	v := int64(0)
	for _, x := range b {
		v = v<<8 | int64(x)
	}
	if v < 0 {
		v = -v
	}
	return v
}

// terminalAuthenticator implements gotd's auth.UserAuthenticator by
// reading phone verification codes and 2FA passwords from the controlling
// terminal, used only on first login before a session exists on disk.
type terminalAuthenticator struct {
	phone string
}

func (t terminalAuthenticator) Phone(_ context.Context) (string, error) { return t.phone, nil }

func (t terminalAuthenticator) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	fmt.Print("Enter the code Telegram sent you: ")
	var code string
	_, err := fmt.Scanln(&code)
	return strings.TrimSpace(code), err
}

func (t terminalAuthenticator) Password(_ context.Context) (string, error) {
	fmt.Print("Enter your 2FA password: ")
	b, err := term.ReadPassword(int(fdStdin))
	fmt.Println()
	return string(b), err
}

func (t terminalAuthenticator) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	fmt.Println(tos.Text)
	return nil
}

func (t terminalAuthenticator) SignUp(_ context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("telegram: account signup is not supported, link an existing account")
}
