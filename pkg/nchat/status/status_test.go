package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetClearAndHas(t *testing.T) {
	r := New()
	assert.True(t, r.Has(Offline))

	r.Set(Online | Fetching)
	assert.True(t, r.Has(Online))
	assert.True(t, r.Has(Fetching))
	assert.True(t, r.Has(Offline), "Set never clears unrelated flags")

	r.Clear(Offline)
	assert.False(t, r.Has(Offline))

	r.Clear(Fetching)
	assert.False(t, r.Has(Fetching))
	assert.True(t, r.Has(Online))
}

func TestOnChangeFiresOnlyOnActualTransitions(t *testing.T) {
	r := New()
	var transitions int
	r.OnChange(func(before, after Flag) { transitions++ })

	r.Set(Online)
	assert.Equal(t, 1, transitions)

	r.Set(Online) // no-op, already set
	assert.Equal(t, 1, transitions)

	r.Clear(Online)
	assert.Equal(t, 2, transitions)
}
