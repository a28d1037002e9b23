package datastore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_EncodeDecode(t *testing.T) {
	parent := NewNameKey("Profile", "alice@example.com", nil)
	k := NewIDKey("Conference", 42, parent)

	got, err := DecodeKey(k.Encode())
	require.NoError(t, err)
	assert.True(t, got.Equal(k))
	assert.Equal(t, "Conference", got.Kind())
	assert.Equal(t, int64(42), got.ID())
	assert.Equal(t, "alice@example.com", got.Parent().Name())
	assert.Equal(t, "Profile:salice@example.com/Conference:i42", k.String())
}

func TestKey_DecodeRejectsGarbage(t *testing.T) {
	for _, in := range []string{
		"",
		"!!!",
		NewIDKey("Conference", 1, nil).Encode() + "%",
	} {
		_, err := DecodeKey(in)
		require.Error(t, err, in)
		assert.True(t, errors.Is(err, ErrInvalidKey), in)
	}
}

func TestParsePath_Rejects(t *testing.T) {
	for _, p := range []string{
		"Conference",
		"Conference\x1fi0",
		"Conference\x1fi-3",
		"Conference\x1fs",
		"Conference\x1fx12",
		"\x1fs1",
	} {
		_, err := ParsePath(p)
		assert.ErrorIs(t, err, ErrInvalidKey, "%q", p)
	}
}

func TestKey_Ancestry(t *testing.T) {
	alice := NewNameKey("Profile", "alice", nil)
	alice2 := NewNameKey("Profile", "alice2", nil)
	conf := NewIDKey("Conference", 7, alice)

	assert.True(t, conf.HasAncestor(alice))
	assert.True(t, conf.HasAncestor(conf))
	assert.False(t, conf.HasAncestor(alice2))
	assert.True(t, conf.SameGroup(alice))
	assert.False(t, conf.SameGroup(alice2))
	assert.True(t, conf.Root().Equal(alice))
}

func TestKey_Validate(t *testing.T) {
	assert.Error(t, NewIDKey("Conference", 0, nil).validate())
	assert.Error(t, NewNameKey("Profile", "bad\x1ename", nil).validate())
	assert.Error(t, NewIDKey("Conference", 1, NewNameKey("Profile", "", nil)).validate())
	assert.NoError(t, NewIDKey("Conference", 1, NewNameKey("Profile", "ok", nil)).validate())
}
