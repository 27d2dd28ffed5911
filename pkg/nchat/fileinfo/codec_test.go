package fileinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nchat-go/nchat/pkg/nchat/message"
)

func TestRoundTrip(t *testing.T) {
	cases := []message.FileInfo{
		{},
		{FilePath: "/tmp/a.jpg", FileType: "image/jpeg", FileId: "f1", FileStatus: message.FileStatusDownloaded},
		{FilePath: "", FileType: "", FileId: "abc123", FileStatus: message.FileStatusNotDownloaded},
		{FilePath: "path with spaces/and-dashes.bin", FileType: "application/octet-stream", FileId: "", FileStatus: message.FileStatusDownloadFailed},
	}

	for _, fi := range cases {
		encoded := Encode(fi)
		decoded, err := Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, fi, decoded)
	}
}

func TestDecodeEmptyIsNoAttachment(t *testing.T) {
	_, err := Decode("")
	assert.ErrorIs(t, err, ErrNoAttachment)
}

func TestDecodeCorruptIsError(t *testing.T) {
	_, err := Decode("zz")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoAttachment)

	_, err = Decode("0001")
	assert.Error(t, err)

	encoded := Encode(message.FileInfo{FilePath: "x"})
	truncated := encoded[:len(encoded)-4]
	_, err = Decode(truncated)
	assert.Error(t, err)
}

func TestEncodeIsLowercaseHex(t *testing.T) {
	encoded := Encode(message.FileInfo{FilePath: "ABC"})
	for _, c := range encoded {
		assert.False(t, c >= 'A' && c <= 'F', "expected lowercase hex, got %q", encoded)
	}
}
