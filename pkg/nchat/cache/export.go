package cache

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Export writes every cached chat in this profile to dir/<chatId>.txt, one
// line per message in ascending TimeSent order, in the plain "[time]
// sender: text" form used for offline reading.
func (c *Cache) Export(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("cache: export mkdir: %w", err)
	}

	rows, err := c.db.Query(`SELECT id FROM chats`)
	if err != nil {
		return fmt.Errorf("cache: export list chats: %w", err)
	}
	var chatIds []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		chatIds = append(chatIds, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, chatId := range chatIds {
		if err := c.exportChat(dir, chatId); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) exportChat(dir, chatId string) error {
	rows, err := c.db.Query(`
		SELECT sender_id, text, time_sent FROM messages
		WHERE chat_id = ? ORDER BY time_sent ASC`, chatId)
	if err != nil {
		return fmt.Errorf("cache: export query %s: %w", chatId, err)
	}
	defer rows.Close()

	path := filepath.Join(dir, sanitizeFileName(chatId)+".txt")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cache: export create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for rows.Next() {
		var sender, text string
		var timeSent int64
		if err := rows.Scan(&sender, &text, &timeSent); err != nil {
			return err
		}
		ts := time.UnixMilli(timeSent).Format("2006-01-02 15:04:05")
		if _, err := fmt.Fprintf(w, "[%s] %s: %s\n", ts, sender, text); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return w.Flush()
}

// sanitizeFileName strips path separators from a chat id so it can never
// escape the export directory.
func sanitizeFileName(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		switch r {
		case '/', '\\', filepath.Separator:
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
