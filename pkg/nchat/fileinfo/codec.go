// Package fileinfo implements the binary-safe codec that carries an
// attachment descriptor inside the nominally-textual ChatMessage.FileInfo
// field: serialize to a length-delimited binary layout, then hex-encode.
//
// Wire format (bit-exact, must never change across versions):
//
//	u16 version (=1)
//	u32 pathLen, path[pathLen]
//	u32 typeLen, type[typeLen]
//	u32 idLen,   id[idLen]
//	u8  status
//
// hex-encoded lowercase with no separators. The empty string is a valid
// sentinel meaning "no attachment" and is never itself hex-decoded.
package fileinfo

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/nchat-go/nchat/pkg/nchat/message"
)

const wireVersion uint16 = 1

// ErrNoAttachment is returned by Decode for the empty-string sentinel.
// Callers should treat it the same as a structurally-valid FileInfo with
// FileStatus == FileStatusNone.
var ErrNoAttachment = fmt.Errorf("fileinfo: no attachment")

// Encode serializes a FileInfo to its hex-encoded wire representation.
// Encoding never fails: any Go string is representable.
func Encode(fi message.FileInfo) string {
	buf := make([]byte, 0, 2+4+len(fi.FilePath)+4+len(fi.FileType)+4+len(fi.FileId)+1)

	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], wireVersion)
	buf = append(buf, u16[:]...)

	buf = appendLenPrefixed(buf, fi.FilePath)
	buf = appendLenPrefixed(buf, fi.FileType)
	buf = appendLenPrefixed(buf, fi.FileId)
	buf = append(buf, byte(fi.FileStatus))

	return hex.EncodeToString(buf)
}

func appendLenPrefixed(buf []byte, s string) []byte {
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(s)))
	buf = append(buf, u32[:]...)
	return append(buf, s...)
}

// Decode parses the hex-encoded wire representation back into a FileInfo.
// Decode("") returns ErrNoAttachment, the "no attachment" signal callers
// must check for explicitly — it is not a decode failure. Any other
// non-empty input that fails to decode (bad hex, length mismatch, short
// read) is a programming error: the caller constructed or stored a
// corrupt descriptor, and callers should treat a non-ErrNoAttachment error
// here as fatal.
func Decode(s string) (message.FileInfo, error) {
	if s == "" {
		return message.FileInfo{}, ErrNoAttachment
	}

	raw, err := hex.DecodeString(s)
	if err != nil {
		return message.FileInfo{}, fmt.Errorf("fileinfo: invalid hex encoding: %w", err)
	}

	r := reader{buf: raw}
	version, err := r.u16()
	if err != nil {
		return message.FileInfo{}, fmt.Errorf("fileinfo: truncated version: %w", err)
	}
	if version != wireVersion {
		return message.FileInfo{}, fmt.Errorf("fileinfo: unsupported wire version %d", version)
	}

	path, err := r.lenPrefixed()
	if err != nil {
		return message.FileInfo{}, fmt.Errorf("fileinfo: truncated path: %w", err)
	}
	fileType, err := r.lenPrefixed()
	if err != nil {
		return message.FileInfo{}, fmt.Errorf("fileinfo: truncated type: %w", err)
	}
	fileId, err := r.lenPrefixed()
	if err != nil {
		return message.FileInfo{}, fmt.Errorf("fileinfo: truncated id: %w", err)
	}
	status, err := r.u8()
	if err != nil {
		return message.FileInfo{}, fmt.Errorf("fileinfo: truncated status: %w", err)
	}
	if !r.empty() {
		return message.FileInfo{}, fmt.Errorf("fileinfo: trailing bytes after status")
	}

	return message.FileInfo{
		FilePath:   path,
		FileType:   fileType,
		FileId:     fileId,
		FileStatus: message.FileStatus(status),
	}, nil
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) empty() bool { return r.pos >= len(r.buf) }

func (r *reader) u16() (uint16, error) {
	if len(r.buf)-r.pos < 2 {
		return 0, fmt.Errorf("short read")
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if len(r.buf)-r.pos < 4 {
		return 0, fmt.Errorf("short read")
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) u8() (uint8, error) {
	if len(r.buf)-r.pos < 1 {
		return 0, fmt.Errorf("short read")
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) lenPrefixed() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if uint32(len(r.buf)-r.pos) < n {
		return "", fmt.Errorf("length mismatch: want %d bytes, have %d", n, len(r.buf)-r.pos)
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}
