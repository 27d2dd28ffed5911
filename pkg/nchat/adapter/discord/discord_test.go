package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"

	"github.com/nchat-go/nchat/pkg/nchat/adapter"
	"github.com/nchat-go/nchat/pkg/nchat/message"
)

func TestNewSetsIdentityAndFeatures(t *testing.T) {
	a := New(message.ProfileId("discord_bot"), Credentials{Token: "x"}, nil)

	assert.Equal(t, message.ProfileId("discord_bot"), a.GetProfileId())
	assert.Equal(t, "Discord", a.GetProfileDisplayName())
	assert.True(t, a.HasFeature(adapter.MultipleProfiles))
	assert.True(t, a.HasFeature(adapter.TypingTimeout))
}

func TestSendRequestBeforeLoginIsUnsupported(t *testing.T) {
	a := New(message.ProfileId("discord_bot"), Credentials{Token: "x"}, nil)

	n := a.process(message.SendMessage{ProfileId: a.GetProfileId(), ChatId: "123"})
	assert.False(t, n.Succeeded())
}

func TestProcessPassesThroughDeferNotifyOnceOnline(t *testing.T) {
	a := New(message.ProfileId("discord_bot"), Credentials{Token: "x"}, nil)
	a.session = &discordgo.Session{State: discordgo.NewState()}
	a.SetState(adapter.Online)

	inner := message.NewMessages{ProfileId: a.GetProfileId(), Success: true, ChatId: "123"}
	n := a.process(message.DeferNotify{ProfileId: a.GetProfileId(), Notification: inner})
	assert.Equal(t, inner, n)
}
