package cache

import (
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/nchat-go/nchat/pkg/nchat/message"
)

// maxWriteAttempts bounds the write-through retry before a persistence
// failure is surfaced to the UI as a failed notification rather than
// silently dropped.
const maxWriteAttempts = 3

// writeRetryBaseDelay is the first backoff interval for a transient
// SQLite busy error (lock contention with a concurrent reader); it
// doubles on each subsequent attempt.
const writeRetryBaseDelay = 20 * time.Millisecond

// chatRange tracks what the cache knows about one chat's coverage so
// GetMessages can be answered locally instead of round-tripping to the
// adapter.
type chatRange struct {
	oldestKnown int64
	newestKnown int64
	hasOldest   bool // true once the chat's true beginning-of-history is cached
	count       int
}

// Cache is the per-profile message store. One Cache instance fronts one
// adapter: requests that can be answered from local storage are answered
// directly (via Forward), everything else is returned unhandled so the
// caller can still send it to the dispatcher.
type Cache struct {
	profileId message.ProfileId
	db        *sql.DB
	logger    *slog.Logger

	// Forward delivers a notification toward the UI facade. Set by the
	// owner before the cache is wired into the dispatch path.
	Forward func(message.Notification)

	mu     sync.Mutex
	ranges map[string]*chatRange
}

// Open opens (creating if necessary) the cache database under
// profileDir/cache/messages.db and loads existing chat ranges into memory.
func Open(profileDir string, id message.ProfileId, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := openDB(filepath.Join(profileDir, "cache", "messages.db"))
	if err != nil {
		return nil, err
	}

	c := &Cache{
		profileId: id,
		db:        db,
		logger:    logger.With("component", "cache", "profile", string(id)),
		ranges:    make(map[string]*chatRange),
	}

	if err := c.loadRanges(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) Close() error { return c.db.Close() }

func (c *Cache) loadRanges() error {
	rows, err := c.db.Query(`SELECT id, oldest_known, newest_known, has_oldest FROM chats`)
	if err != nil {
		return fmt.Errorf("cache: load ranges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		r := &chatRange{}
		var hasOldest int
		if err := rows.Scan(&id, &r.oldestKnown, &r.newestKnown, &hasOldest); err != nil {
			return fmt.Errorf("cache: scan range: %w", err)
		}
		r.hasOldest = hasOldest != 0
		var count int
		if err := c.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE chat_id = ?`, id).Scan(&count); err != nil {
			return fmt.Errorf("cache: count messages: %w", err)
		}
		r.count = count
		c.ranges[id] = r
	}
	return rows.Err()
}

// HandleRequest attempts to answer req directly from the cache. It returns
// handled=true if it did so (having already called Forward with the
// result); the caller must otherwise send req on to the adapter.
//
// Only GetMessages is ever served from cache: every other request mutates
// remote state or needs data this cache does not track, per the contract
// that cache-hit history requests never reach the adapter while everything
// else always does.
func (c *Cache) HandleRequest(req message.Request) bool {
	gm, ok := req.(message.GetMessages)
	if !ok {
		return false
	}

	c.mu.Lock()
	r, known := c.ranges[gm.ChatId]
	var hasOldest bool
	var oldestKnown int64
	if known {
		hasOldest, oldestKnown = r.hasOldest, r.oldestKnown
	}
	c.mu.Unlock()
	if !known {
		return false
	}

	upperBound := int64(1<<63 - 1)
	if gm.FromMsgId != "" {
		t, found := c.messageTime(gm.ChatId, gm.FromMsgId)
		if !found {
			return false
		}
		upperBound = t
	}

	msgs, err := c.fetchBefore(gm.ChatId, upperBound, gm.FromMsgId != "", gm.Limit)
	if err != nil {
		c.logger.Error("cache read failed", "err", err)
		return false
	}

	if len(msgs) < gm.Limit && !(hasOldest && upperBound >= oldestKnown) {
		// Not enough cached history to satisfy the request and we don't
		// know we've hit the true start of the chat: must go to the network.
		return false
	}

	if c.Forward != nil {
		c.Forward(message.NewMessages{
			ProfileId: gm.ProfileId,
			Success:   true,
			ChatId:    gm.ChatId,
			Messages:  msgs,
		})
	}
	return true
}

func (c *Cache) messageTime(chatId, msgId string) (int64, bool) {
	var t int64
	err := c.db.QueryRow(`SELECT time_sent FROM messages WHERE chat_id = ? AND id = ?`, chatId, msgId).Scan(&t)
	if err != nil {
		return 0, false
	}
	return t, true
}

func (c *Cache) fetchBefore(chatId string, upperBound int64, exclusive bool, limit int) ([]message.ChatMessage, error) {
	op := "<="
	if exclusive {
		op = "<"
	}
	rows, err := c.db.Query(fmt.Sprintf(`
		SELECT id, sender_id, text, quoted_id, quoted_text, quoted_sender, file_info, time_sent, is_outgoing, is_read
		FROM messages WHERE chat_id = ? AND time_sent %s ?
		ORDER BY time_sent DESC LIMIT ?`, op), chatId, upperBound, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []message.ChatMessage
	for rows.Next() {
		var m message.ChatMessage
		var outgoing, read int
		if err := rows.Scan(&m.Id, &m.SenderId, &m.Text, &m.QuotedId, &m.QuotedText, &m.QuotedSender, &m.FileInfo, &m.TimeSent, &outgoing, &read); err != nil {
			return nil, err
		}
		m.ChatId = chatId
		m.IsOutgoing = outgoing != 0
		m.IsRead = read != 0
		m.Reactions = c.loadReactions(chatId, m.Id)
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeSent < out[j].TimeSent })
	return out, rows.Err()
}

func (c *Cache) loadReactions(chatId, msgId string) map[string]string {
	rows, err := c.db.Query(`SELECT sender_id, emoji FROM reactions WHERE chat_id = ? AND msg_id = ?`, chatId, msgId)
	if err != nil {
		return nil
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var sender, emoji string
		if rows.Scan(&sender, &emoji) == nil {
			out[sender] = emoji
		}
	}
	return out
}

// HandleNotification persists a notification from the adapter, applies
// deduplication and monotonic-time reordering, and forwards the resulting
// (possibly adjusted) notification to the UI. Notifications the cache has
// no storage for pass straight through.
func (c *Cache) HandleNotification(n message.Notification) {
	switch v := n.(type) {
	case message.NewContacts:
		c.writeThrough(func() error { return c.storeContacts(v.Contacts) }, n)
	case message.NewChats:
		c.writeThrough(func() error { return c.storeChats(v.Chats) }, n)
	case message.NewMessages:
		c.handleNewMessages(v)
	case message.SendMessageResult:
		if !v.Success {
			if c.Forward != nil {
				c.Forward(n)
			}
			return
		}
		persisted := false
		c.writeThrough(func() error {
			err := c.storeMessage(v.ChatId, v.ChatMessage)
			persisted = err == nil
			return err
		}, n)
		if persisted && c.Forward != nil {
			c.Forward(message.NewMessages{ProfileId: v.ProfileId, Success: true, ChatId: v.ChatId, Messages: []message.ChatMessage{v.ChatMessage}})
		}
	case message.NewMessageStatus:
		c.writeThrough(func() error { return c.setRead(v.ChatId, v.MsgId, v.IsRead) }, n)
	case message.NewMessageFile:
		c.writeThrough(func() error { return c.setFileInfo(v.ChatId, v.MsgId, v.FileInfo) }, n)
	case message.NewMessageReaction:
		c.writeThrough(func() error { return c.storeReaction(v.ChatId, v.MsgId, v.SenderId, v.Emoji) }, n)
	case message.UpdateMute:
		c.writeThrough(func() error { return c.setChatFlag(v.ChatId, "is_muted", v.IsMuted) }, n)
	case message.UpdatePin:
		c.writeThrough(func() error { return c.setChatFlag(v.ChatId, "is_pinned", v.IsPinned) }, n)
	case message.DeleteChat:
		c.writeThrough(func() error { return c.deleteChat(v.ChatId) }, n)
	default:
		if c.Forward != nil {
			c.Forward(n)
		}
	}
}

// handleNewMessages deduplicates against existing rows, applies the
// monotonic timeSent tiebreak, stores the batch, and forwards exactly one
// notification — dropping the forward entirely if every message in the
// batch is an unchanged duplicate of what's already cached.
func (c *Cache) handleNewMessages(n message.NewMessages) {
	if !n.Success {
		if c.Forward != nil {
			c.Forward(n)
		}
		return
	}

	changed := make([]message.ChatMessage, 0, len(n.Messages))
	anyEdited := false
	batchTimes := make(map[int64]bool, len(n.Messages))
	for _, m := range n.Messages {
		if batchTimes[m.TimeSent] || c.timeCollides(n.ChatId, m.Id, m.TimeSent) {
			m.TimeSent += message.TimeSentTiebreak(m.Id)
		}
		batchTimes[m.TimeSent] = true
		dup, identical, err := c.diffAgainstStored(n.ChatId, m)
		if err != nil {
			c.logger.Error("cache dedup lookup failed", "err", err)
			changed = append(changed, m)
			continue
		}
		if dup && identical {
			continue
		}
		if dup && !identical {
			anyEdited = true
		}
		changed = append(changed, m)
	}

	if len(changed) == 0 {
		return // pure duplicate resubmission: exactly zero forwards
	}

	sort.Slice(changed, func(i, j int) bool { return changed[i].TimeSent < changed[j].TimeSent })

	attempt := func() error {
		for _, m := range changed {
			if err := c.storeMessage(n.ChatId, m); err != nil {
				return err
			}
		}
		return nil
	}

	out := message.NewMessages{ProfileId: n.ProfileId, Success: true, ChatId: n.ChatId, Messages: changed, Modified: anyEdited || n.Modified}
	c.writeThrough(func() error { return attempt() }, out)
}

// timeCollides reports whether another message in chatId already occupies
// exactly this TimeSent, requiring the tiebreak to keep ordering strict.
func (c *Cache) timeCollides(chatId, msgId string, t int64) bool {
	var n int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE chat_id = ? AND time_sent = ? AND id != ?`, chatId, t, msgId).Scan(&n)
	return err == nil && n > 0
}

// diffAgainstStored reports whether a message with this id is already
// cached (dup) and, if so, whether its content is byte-identical
// (identical) — an identical resubmission must not re-trigger a UI forward.
func (c *Cache) diffAgainstStored(chatId string, m message.ChatMessage) (dup, identical bool, err error) {
	var text, quotedId, fileInfo string
	var read int
	row := c.db.QueryRow(`SELECT text, quoted_id, file_info, is_read FROM messages WHERE chat_id = ? AND id = ?`, chatId, m.Id)
	switch scanErr := row.Scan(&text, &quotedId, &fileInfo, &read); scanErr {
	case sql.ErrNoRows:
		return false, false, nil
	case nil:
		same := text == m.Text && quotedId == m.QuotedId && fileInfo == m.FileInfo && (read != 0) == m.IsRead
		return true, same, nil
	default:
		return false, false, scanErr
	}
}

func (c *Cache) storeMessage(chatId string, m message.ChatMessage) error {
	_, err := c.db.Exec(`
		INSERT INTO messages (chat_id, id, sender_id, text, quoted_id, quoted_text, quoted_sender, file_info, time_sent, is_outgoing, is_read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chat_id, id) DO UPDATE SET
			text=excluded.text, quoted_id=excluded.quoted_id, quoted_text=excluded.quoted_text,
			quoted_sender=excluded.quoted_sender, file_info=excluded.file_info,
			time_sent=excluded.time_sent, is_outgoing=excluded.is_outgoing, is_read=excluded.is_read`,
		chatId, m.Id, m.SenderId, m.Text, m.QuotedId, m.QuotedText, m.QuotedSender, m.FileInfo, m.TimeSent,
		boolInt(m.IsOutgoing), boolInt(m.IsRead))
	if err != nil {
		return err
	}
	for sender, emoji := range m.Reactions {
		if err := c.storeReaction(chatId, m.Id, sender, emoji); err != nil {
			return err
		}
	}
	return c.extendRange(chatId, m.TimeSent)
}

func (c *Cache) extendRange(chatId string, t int64) error {
	c.mu.Lock()
	r, ok := c.ranges[chatId]
	if !ok {
		r = &chatRange{oldestKnown: t, newestKnown: t}
		c.ranges[chatId] = r
	}
	if t < r.oldestKnown || r.count == 0 {
		r.oldestKnown = t
	}
	if t > r.newestKnown {
		r.newestKnown = t
	}
	r.count++
	oldest, newest, hasOldest := r.oldestKnown, r.newestKnown, r.hasOldest
	c.mu.Unlock()

	_, err := c.db.Exec(`
		INSERT INTO chats (id, oldest_known, newest_known, has_oldest, last_message_time)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			oldest_known=?, newest_known=?, has_oldest=?,
			last_message_time=MAX(chats.last_message_time, excluded.last_message_time)`,
		chatId, oldest, newest, boolInt(hasOldest), newest,
		oldest, newest, boolInt(hasOldest))
	return err
}

// MarkChatComplete records that the cache now holds every message back to
// the true start of a chat's history, so future GetMessages with no
// FromMsgId can be answered from a short local result.
func (c *Cache) MarkChatComplete(chatId string) error {
	c.mu.Lock()
	if r, ok := c.ranges[chatId]; ok {
		r.hasOldest = true
	}
	c.mu.Unlock()
	_, err := c.db.Exec(`UPDATE chats SET has_oldest = 1 WHERE id = ?`, chatId)
	return err
}

func (c *Cache) storeContacts(contacts []message.ContactInfo) error {
	for _, ct := range contacts {
		_, err := c.db.Exec(`
			INSERT INTO contacts (id, name, phone, is_self) VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET name=excluded.name, phone=excluded.phone, is_self=excluded.is_self`,
			ct.Id, ct.Name, ct.Phone, boolInt(ct.IsSelf))
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) storeChats(chats []message.ChatInfo) error {
	for _, ch := range chats {
		_, err := c.db.Exec(`
			INSERT INTO chats (id, is_unread, is_unread_mention, is_muted, is_pinned, last_message_time)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				is_unread=excluded.is_unread, is_unread_mention=excluded.is_unread_mention,
				is_muted=excluded.is_muted, is_pinned=excluded.is_pinned,
				last_message_time=MAX(chats.last_message_time, excluded.last_message_time)`,
			ch.Id, boolInt(ch.IsUnread), boolInt(ch.IsUnreadMention), boolInt(ch.IsMuted), boolInt(ch.IsPinned), ch.LastMessageTime)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) setRead(chatId, msgId string, read bool) error {
	_, err := c.db.Exec(`UPDATE messages SET is_read = ? WHERE chat_id = ? AND id = ?`, boolInt(read), chatId, msgId)
	return err
}

func (c *Cache) setFileInfo(chatId, msgId, fileInfo string) error {
	_, err := c.db.Exec(`UPDATE messages SET file_info = ? WHERE chat_id = ? AND id = ?`, fileInfo, chatId, msgId)
	return err
}

func (c *Cache) storeReaction(chatId, msgId, sender, emoji string) error {
	_, err := c.db.Exec(`
		INSERT INTO reactions (chat_id, msg_id, sender_id, emoji) VALUES (?, ?, ?, ?)
		ON CONFLICT (chat_id, msg_id, sender_id) DO UPDATE SET emoji=excluded.emoji`,
		chatId, msgId, sender, emoji)
	return err
}

func (c *Cache) setChatFlag(chatId, column string, value bool) error {
	_, err := c.db.Exec(fmt.Sprintf(`UPDATE chats SET %s = ? WHERE id = ?`, column), boolInt(value), chatId)
	return err
}

func (c *Cache) deleteChat(chatId string) error {
	if _, err := c.db.Exec(`DELETE FROM messages WHERE chat_id = ?`, chatId); err != nil {
		return err
	}
	if _, err := c.db.Exec(`DELETE FROM reactions WHERE chat_id = ?`, chatId); err != nil {
		return err
	}
	_, err := c.db.Exec(`DELETE FROM chats WHERE id = ?`, chatId)
	c.mu.Lock()
	delete(c.ranges, chatId)
	c.mu.Unlock()
	return err
}

// writeThrough retries a persistence attempt, surfacing a failure
// notification (rather than dropping out) if every attempt fails.
func (c *Cache) writeThrough(attempt func() error, successNotif message.Notification) {
	var err error
	for i := 0; i < maxWriteAttempts; i++ {
		if err = attempt(); err == nil {
			if c.Forward != nil {
				c.Forward(successNotif)
			}
			return
		}
		time.Sleep(writeRetryBaseDelay << i)
	}
	c.logger.Error("cache write failed after retries", "err", err)
	if c.Forward != nil {
		c.Forward(withFailure(successNotif))
	}
}

// withFailure returns a copy of n with Success forced false, used when a
// write-through persist could not be committed despite retries.
func withFailure(n message.Notification) message.Notification {
	switch v := n.(type) {
	case message.NewContacts:
		v.Success = false
		return v
	case message.NewChats:
		v.Success = false
		return v
	case message.NewMessages:
		v.Success = false
		return v
	case message.NewMessageStatus:
		v.Success = false
		return v
	case message.NewMessageFile:
		v.Success = false
		return v
	case message.NewMessageReaction:
		v.Success = false
		return v
	case message.UpdateMute:
		v.Success = false
		return v
	case message.UpdatePin:
		v.Success = false
		return v
	case message.DeleteChat:
		v.Success = false
		return v
	case message.SendMessageResult:
		v.Success = false
		return v
	default:
		return n
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
