package telegram

import (
	"testing"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
)

func TestPeerIDStringDistinguishesPeerKinds(t *testing.T) {
	assert.Equal(t, "user42", peerIDString(&tg.PeerUser{UserID: 42}))
	assert.Equal(t, "chat7", peerIDString(&tg.PeerChat{ChatID: 7}))
	assert.Equal(t, "channel9", peerIDString(&tg.PeerChannel{ChannelID: 9}))
}

func TestRandomIDIsAlwaysNonNegative(t *testing.T) {
	for i := 0; i < 20; i++ {
		assert.GreaterOrEqual(t, randomID(), int64(0))
	}
}
