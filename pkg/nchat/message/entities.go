package message

import "hash/fnv"

// ContactInfo is the identity of a remote user or group, created on first
// observation and mutated by subsequent profile sync events. Never
// destroyed except with the owning profile.
type ContactInfo struct {
	Id     string
	Name   string
	Phone  string
	IsSelf bool
}

// ChatInfo is a conversation addressable within one profile. There is
// exactly one ChatInfo per (profileId, chatId); LastMessageTime must equal
// the max TimeSent over the non-decreasing-time messages in that chat.
type ChatInfo struct {
	Id              string
	IsUnread        bool
	IsUnreadMention bool
	IsMuted         bool
	IsPinned        bool
	LastMessageTime int64
}

// FileStatus is the lifecycle of an attachment download.
type FileStatus int

const (
	FileStatusNone FileStatus = iota
	FileStatusNotDownloaded
	FileStatusDownloaded
	FileStatusDownloading
	FileStatusDownloadFailed
)

// FileInfo describes an attachment. FileId is an opaque handle used to
// request a download from the adapter; FilePath is populated once the
// file has actually landed on disk.
type FileInfo struct {
	FilePath   string
	FileType   string
	FileId     string
	FileStatus FileStatus
}

// ChatMessage is the atomic content unit of a conversation. Id is unique
// within (profileId, chatId) and stable across restarts. FileInfo carries
// the hex-encoded attachment descriptor (see package fileinfo), empty when
// there is no attachment.
type ChatMessage struct {
	Id           string
	SenderId     string
	ChatId       string
	Text         string
	QuotedId     string
	QuotedText   string
	QuotedSender string
	FileInfo     string
	TimeSent     int64
	IsOutgoing   bool
	IsRead       bool
	Reactions    map[string]string // senderId -> emoji
}

// TimeSentTiebreak computes the low-order tiebreaker added to a coarse
// timestamp so that TimeSent is strictly monotonic per message even when
// two messages share a millisecond: hash(id) mod 256, per spec.
func TimeSentTiebreak(id string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int64(h.Sum32() % 256)
}
