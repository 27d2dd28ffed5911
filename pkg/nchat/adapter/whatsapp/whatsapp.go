// Package whatsapp implements the WhatsApp protocol adapter using
// whatsmeow, a native Go WhatsApp Web client — no Node.js bridge, no
// external process. Session state (device keys, contact cache) lives in a
// per-profile SQLite database managed by whatsmeow's own sqlstore.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/mattn/go-sqlite3" // SQLite driver backing whatsmeow's device store.

	"github.com/nchat-go/nchat/pkg/nchat/adapter"
	"github.com/nchat-go/nchat/pkg/nchat/dispatcher"
	"github.com/nchat-go/nchat/pkg/nchat/fileinfo"
	"github.com/nchat-go/nchat/pkg/nchat/message"
	"github.com/nchat-go/nchat/pkg/nchat/pconfig"
)

// Adapter is the WhatsApp protocol backend.
type Adapter struct {
	*adapter.Base

	logger     *slog.Logger
	dispatcher *dispatcher.Dispatcher

	container *sqlstore.Container
	client    *whatsmeow.Client
	mediaDir  string

	// pcfg holds the per-profile overrides of autoReadDefault/sendTypingDefault;
	// GetBool falls back to the constructor defaults when a profile has never
	// changed them.
	pcfg              *pconfig.Store
	autoReadDefault   bool
	sendTypingDefault bool

	mediaMu   sync.Mutex
	mediaRefs map[string]mediaRef // chatId+"/"+msgId -> downloadable proto + mimetype

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs an unconnected WhatsApp adapter for profile id. autoRead and
// sendTyping are the defaults applied until a profile overrides them in its
// own pconfig store.
func New(id message.ProfileId, autoRead, sendTyping bool, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		logger: logger.With("component", "whatsapp", "profile", string(id)),
		Base: adapter.NewBase(
			adapter.MultipleProfiles,
			adapter.EditMessagesMax48Hrs,
		),
		mediaRefs:         make(map[string]mediaRef),
		autoReadDefault:   autoRead,
		sendTypingDefault: sendTyping,
	}
	a.SetIdentity(id, "WhatsApp")
	a.dispatcher = dispatcher.New(id, a.Status(), a.process, a.Emit, a.logger)
	return a
}

// SetupProfile runs interactive QR-code linking and persists the resulting
// device under profilesDir/<id>/cache/whatsapp.db.
func (a *Adapter) SetupProfile(profilesDir string) (message.ProfileId, bool) {
	id := a.GetProfileId()
	if !a.openStore(profilesDir, id) {
		return id, false
	}

	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.client = whatsmeow.NewClient(a.container.NewDevice(), waLog.Noop)
	a.client.AddEventHandler(a.handleEvent)

	if err := a.loginWithQR(a.ctx); err != nil {
		a.logger.Error("whatsapp: QR login failed", "err", err)
		return id, false
	}
	return id, true
}

// LoadProfile reopens an existing linked session.
func (a *Adapter) LoadProfile(profilesDir string, id message.ProfileId) bool {
	if !a.openStore(profilesDir, id) {
		return false
	}

	a.ctx, a.cancel = context.WithCancel(context.Background())
	devices, err := a.container.GetAllDevices(a.ctx)
	device := newDevice(devices)
	if err != nil || device == nil {
		a.logger.Error("whatsapp: no linked device found", "err", err)
		return false
	}

	a.client = whatsmeow.NewClient(device, waLog.Noop)
	a.client.AddEventHandler(a.handleEvent)
	a.SetState(adapter.Loaded)
	return true
}

func (a *Adapter) openStore(profilesDir string, id message.ProfileId) bool {
	dbPath := fmt.Sprintf("file:%s/%s/cache/whatsapp.db?_foreign_keys=1&_journal_mode=WAL", profilesDir, id)
	ctx := context.Background()
	container, err := sqlstore.New(ctx, "sqlite3", dbPath, waLog.Noop)
	if err != nil {
		a.logger.Error("whatsapp: open session store", "err", err)
		return false
	}
	a.container = container
	a.mediaDir = filepath.Join(profilesDir, string(id), "cache", "media")

	pcfg, err := pconfig.Open(filepath.Join(profilesDir, string(id), "config.json"))
	if err != nil {
		a.logger.Error("whatsapp: open profile config", "err", err)
		return false
	}
	a.pcfg = pcfg
	return true
}

func (a *Adapter) CloseProfile() bool {
	a.dispatcher.Stop()
	if a.client != nil {
		a.client.Disconnect()
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.SetState(adapter.Uninitialized)
	return true
}

func (a *Adapter) Login() bool {
	if !a.CompareAndSetState(adapter.Loaded, adapter.LoggingIn) {
		return false
	}
	a.dispatcher.Start()

	if err := a.client.Connect(); err != nil {
		a.SetState(adapter.LoginFailed)
		a.dispatcher.EnqueueDeferred(message.DeferNotify{ProfileId: a.GetProfileId(), Notification: message.Connect{ProfileId: a.GetProfileId(), Success: false}})
		return true
	}
	return true
}

func (a *Adapter) Logout() bool {
	a.dispatcher.Stop()
	if a.client != nil {
		a.client.Logout(context.Background())
	}
	a.SetState(adapter.Loaded)
	return true
}

func (a *Adapter) SendRequest(req message.Request) {
	a.dispatcher.Enqueue(req)
}

// loginWithQR blocks on the QR channel, printing each refreshed code to
// the terminal until the user scans it or the flow times out.
func (a *Adapter) loginWithQR(ctx context.Context) error {
	qrChan, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("whatsapp: qr channel: %w", err)
	}
	if err := a.client.Connect(); err != nil {
		return fmt.Errorf("whatsapp: connect for qr: %w", err)
	}

	for evt := range qrChan {
		switch evt.Event {
		case "code":
			fmt.Println("\n" + evt.Code + "\n")
			a.logger.Info("whatsapp: scan the QR code to link this account")
		case "success":
			return nil
		case "timeout":
			return fmt.Errorf("whatsapp: QR login timed out")
		default:
			if evt.Error != nil {
				return evt.Error
			}
		}
	}
	return fmt.Errorf("whatsapp: QR channel closed before login completed")
}

// process is the dispatcher Handler: it runs requests on the adapter's
// single worker goroutine.
func (a *Adapter) process(req message.Request) message.Notification {
	id := a.GetProfileId()

	switch r := req.(type) {
	case message.GetContacts:
		return a.getContacts(id)
	case message.GetChats:
		return message.NewChats{ProfileId: id, Success: true} // whatsmeow has no chat-list API; chats surface as messages arrive
	case message.SendMessage:
		return a.sendMessage(id, r)
	case message.MarkMessageRead:
		return a.markRead(id, r)
	case message.SendTyping:
		return a.sendTyping(id, r)
	case message.SetStatus:
		return a.setStatus(id, r)
	case message.DownloadFile:
		return a.downloadFile(id, r)
	case message.DeferNotify:
		return r.Notification
	default:
		return adapter.UnsupportedRequest(id)
	}
}

func (a *Adapter) getContacts(id message.ProfileId) message.Notification {
	contacts, err := a.client.Store.Contacts.GetAllContacts(a.ctx)
	if err != nil {
		return message.NewContacts{ProfileId: id, Success: false}
	}
	out := make([]message.ContactInfo, 0, len(contacts))
	for jid, info := range contacts {
		out = append(out, message.ContactInfo{Id: jid.String(), Name: info.FullName})
	}
	return message.NewContacts{ProfileId: id, Success: true, Contacts: out}
}

func (a *Adapter) sendMessage(id message.ProfileId, r message.SendMessage) message.Notification {
	jid, err := parseJID(r.ChatId)
	if err != nil {
		return message.SendMessageResult{ProfileId: id, Success: false, ChatId: r.ChatId, ChatMessage: r.ChatMessage}
	}

	if a.pcfg.GetBool("send_typing", a.sendTypingDefault) {
		a.client.SendChatPresence(a.ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
	}

	waMsg := &waE2E.Message{Conversation: proto(r.ChatMessage.Text)}
	resp, err := a.client.SendMessage(a.ctx, jid, waMsg)
	if err != nil {
		return message.SendMessageResult{ProfileId: id, Success: false, ChatId: r.ChatId, ChatMessage: r.ChatMessage}
	}

	sent := r.ChatMessage
	sent.Id = resp.ID
	sent.ChatId = r.ChatId
	sent.IsOutgoing = true
	sent.SenderId = a.GetSelfId()
	sent.TimeSent = resp.Timestamp.UnixMilli()
	return message.SendMessageResult{ProfileId: id, Success: true, ChatId: r.ChatId, ChatMessage: sent}
}

func (a *Adapter) markRead(id message.ProfileId, r message.MarkMessageRead) message.Notification {
	jid, err := parseJID(r.ChatId)
	if err != nil {
		return message.MarkMessageReadResult{ProfileId: id, Success: false, ChatId: r.ChatId, MsgId: r.MsgId}
	}
	err = a.client.MarkRead(a.ctx, []types.MessageID{types.MessageID(r.MsgId)}, time.Now(), jid, jid)
	return message.MarkMessageReadResult{ProfileId: id, Success: err == nil, ChatId: r.ChatId, MsgId: r.MsgId}
}

func (a *Adapter) sendTyping(id message.ProfileId, r message.SendTyping) message.Notification {
	jid, err := parseJID(r.ChatId)
	if err != nil {
		return message.SendTypingResult{ProfileId: id, Success: false, ChatId: r.ChatId, IsTyping: r.IsTyping}
	}
	state := types.ChatPresencePaused
	if r.IsTyping {
		state = types.ChatPresenceComposing
	}
	err = a.client.SendChatPresence(a.ctx, jid, state, types.ChatPresenceMediaText)
	return message.SendTypingResult{ProfileId: id, Success: err == nil, ChatId: r.ChatId, IsTyping: r.IsTyping}
}

// downloadFile fetches the attachment a prior NewMessages notification
// pointed at, using the encrypted media reference cached at receive time.
// WhatsApp media URLs carry no standalone download credential, so a
// message's attachment can only be fetched while its proto is still held
// in mediaRefs.
func (a *Adapter) downloadFile(id message.ProfileId, r message.DownloadFile) message.Notification {
	key := mediaRefKey(r.ChatId, r.MsgId)

	a.mediaMu.Lock()
	ref, ok := a.mediaRefs[key]
	a.mediaMu.Unlock()
	if !ok {
		return message.NewMessageFile{ProfileId: id, Success: false, ChatId: r.ChatId, MsgId: r.MsgId}
	}

	data, err := a.client.Download(a.ctx, ref.msg)
	if err != nil {
		a.logger.Error("whatsapp: download media", "err", err, "chat", r.ChatId, "msg", r.MsgId)
		return message.NewMessageFile{ProfileId: id, Success: false, ChatId: r.ChatId, MsgId: r.MsgId}
	}

	if err := os.MkdirAll(a.mediaDir, 0o700); err != nil {
		return message.NewMessageFile{ProfileId: id, Success: false, ChatId: r.ChatId, MsgId: r.MsgId}
	}
	path := filepath.Join(a.mediaDir, r.MsgId+extensionFromMime(ref.mimetype))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return message.NewMessageFile{ProfileId: id, Success: false, ChatId: r.ChatId, MsgId: r.MsgId}
	}

	fi := message.FileInfo{FilePath: path, FileType: ref.mimetype, FileId: r.FileId, FileStatus: message.FileStatusDownloaded}
	return message.NewMessageFile{ProfileId: id, Success: true, ChatId: r.ChatId, MsgId: r.MsgId, FileInfo: fileinfo.Encode(fi)}
}

// mediaRef is the minimum whatsmeow needs to re-download an attachment
// after its message has already been delivered and cached: the encrypted
// message proto itself (DirectPath/MediaKey/hashes) plus the mimetype
// that extractFileInfo already parsed out of it.
type mediaRef struct {
	msg      whatsmeow.DownloadableMessage
	mimetype string
}

func mediaRefKey(chatId, msgId string) string { return chatId + "/" + msgId }

// extensionFromMime maps a MIME type to the file extension used for saved
// attachments.
func extensionFromMime(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "jpeg"), strings.Contains(mimeType, "jpg"):
		return ".jpg"
	case strings.Contains(mimeType, "png"):
		return ".png"
	case strings.Contains(mimeType, "webp"):
		return ".webp"
	case strings.Contains(mimeType, "gif"):
		return ".gif"
	case strings.Contains(mimeType, "ogg"):
		return ".ogg"
	case strings.Contains(mimeType, "mp4"):
		return ".mp4"
	case strings.Contains(mimeType, "pdf"):
		return ".pdf"
	case strings.Contains(mimeType, "zip"):
		return ".zip"
	default:
		return ".bin"
	}
}

func (a *Adapter) setStatus(id message.ProfileId, r message.SetStatus) message.Notification {
	presence := types.PresenceUnavailable
	if r.IsOnline {
		presence = types.PresenceAvailable
	}
	err := a.client.SendPresence(a.ctx, presence)
	return message.SetStatusResult{ProfileId: id, Success: err == nil, IsOnline: r.IsOnline}
}

// handleEvent is whatsmeow's single event callback; it always runs off
// the adapter's worker goroutine, so it emits through the dispatcher's
// deferred path rather than calling Emit directly.
func (a *Adapter) handleEvent(rawEvt any) {
	id := a.GetProfileId()

	switch evt := rawEvt.(type) {
	case *events.Connected:
		a.SetState(adapter.Online)
		a.dispatcher.EnqueueDeferred(message.DeferNotify{ProfileId: id, Notification: message.Connect{ProfileId: id, Success: true}})

	case *events.Disconnected:
		a.CompareAndSetState(adapter.Online, adapter.Reconnecting)

	case *events.LoggedOut:
		a.SetState(adapter.Loaded)

	case *events.Message:
		if n, ok := a.toMessageNotification(evt); ok {
			a.dispatcher.EnqueueDeferred(message.DeferNotify{ProfileId: id, Notification: n})
			if a.pcfg.GetBool("auto_read", a.autoReadDefault) {
				a.client.MarkRead(a.ctx, []types.MessageID{evt.Info.ID}, time.Now(), evt.Info.Chat, evt.Info.Sender)
			}
		}

	case *events.Receipt:
		if evt.Type == types.ReceiptTypeRead {
			for _, msgId := range evt.MessageIDs {
				n := message.NewMessageStatus{ProfileId: id, Success: true, ChatId: evt.Chat.String(), MsgId: string(msgId), IsRead: true}
				a.dispatcher.EnqueueDeferred(message.DeferNotify{ProfileId: id, Notification: n})
			}
		}
	}
}

func (a *Adapter) toMessageNotification(evt *events.Message) (message.Notification, bool) {
	if evt.Info.IsFromMe || evt.Info.Chat.Server == "broadcast" {
		return nil, false
	}

	text := extractText(evt.Message)
	if text == "" {
		return nil, false
	}

	cm := message.ChatMessage{
		Id:       string(evt.Info.ID),
		SenderId: evt.Info.Sender.String(),
		ChatId:   evt.Info.Chat.String(),
		Text:     text,
		TimeSent: evt.Info.Timestamp.UnixMilli(),
	}
	cm.TimeSent += message.TimeSentTiebreak(cm.Id)

	if fi, downloadable, ok := extractFileInfo(evt.Message); ok {
		cm.FileInfo = fileinfo.Encode(fi)
		a.mediaMu.Lock()
		a.mediaRefs[mediaRefKey(cm.ChatId, cm.Id)] = mediaRef{msg: downloadable, mimetype: fi.FileType}
		a.mediaMu.Unlock()
	}

	return message.NewMessages{
		ProfileId: message.ProfileId(a.GetProfileId()),
		Success:   true,
		ChatId:    cm.ChatId,
		Messages:  []message.ChatMessage{cm},
	}, true
}

func extractText(m *waE2E.Message) string {
	if m == nil {
		return ""
	}
	if m.Conversation != nil {
		return m.GetConversation()
	}
	if ext := m.ExtendedTextMessage; ext != nil {
		return ext.GetText()
	}
	if img := m.ImageMessage; img != nil {
		return img.GetCaption()
	}
	if doc := m.DocumentMessage; doc != nil {
		if c := doc.GetCaption(); c != "" {
			return c
		}
		return "[document: " + doc.GetFileName() + "]"
	}
	return ""
}

// extractFileInfo returns the FileInfo surfaced to the cache/UI plus the
// encrypted proto needed to actually download the attachment later (see
// downloadFile), since whatsmeow media has no standalone fetch-by-ID API.
func extractFileInfo(m *waE2E.Message) (message.FileInfo, whatsmeow.DownloadableMessage, bool) {
	if m == nil {
		return message.FileInfo{}, nil, false
	}
	if doc := m.DocumentMessage; doc != nil {
		return message.FileInfo{FileType: doc.GetMimetype(), FileId: doc.GetDirectPath(), FileStatus: message.FileStatusNotDownloaded}, doc, true
	}
	if img := m.ImageMessage; img != nil {
		return message.FileInfo{FileType: img.GetMimetype(), FileId: img.GetDirectPath(), FileStatus: message.FileStatusNotDownloaded}, img, true
	}
	return message.FileInfo{}, nil, false
}

func proto(s string) *string { return &s }

// parseJID converts a bare phone number or a full "user@server" string
// into a whatsmeow JID.
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("whatsapp: empty JID")
	}
	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 5 {
		return types.JID{}, fmt.Errorf("whatsapp: phone number too short: %s", s)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}

// newDevice picks the linked device to resume, or nil if none is linked
// yet (first run must go through SetupProfile instead).
func newDevice(devices []*store.Device) *store.Device {
	if len(devices) == 0 {
		return nil
	}
	return devices[0]
}
