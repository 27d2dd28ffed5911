package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJIDAcceptsBarePhoneNumber(t *testing.T) {
	jid, err := parseJID("15551234567")
	require.NoError(t, err)
	assert.Equal(t, "15551234567", jid.User)
	assert.Equal(t, "s.whatsapp.net", jid.Server)
}

func TestParseJIDAcceptsFullJID(t *testing.T) {
	jid, err := parseJID("15551234567@s.whatsapp.net")
	require.NoError(t, err)
	assert.Equal(t, "15551234567", jid.User)
}

func TestParseJIDRejectsShortNumbers(t *testing.T) {
	_, err := parseJID("123")
	assert.Error(t, err)
}

func TestParseJIDRejectsEmpty(t *testing.T) {
	_, err := parseJID("  ")
	assert.Error(t, err)
}
