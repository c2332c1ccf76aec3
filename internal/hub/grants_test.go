package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintAndVerifyRoundTrip(t *testing.T) {
	m := NewHMACMinter("secret", time.Minute)

	token, err := m.Mint("call-conv-1", "tutor")
	require.NoError(t, err)

	room, user, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "call-conv-1", room)
	assert.Equal(t, "tutor", user)
}

func TestVerifyRejectsTampering(t *testing.T) {
	m := NewHMACMinter("secret", time.Minute)
	token, err := m.Mint("call-conv-1", "tutor")
	require.NoError(t, err)

	_, _, err = m.Verify(token + "x")
	assert.ErrorIs(t, err, ErrInvalidGrant)

	_, _, err = m.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := NewHMACMinter("secret-a", time.Minute).Mint("room", "user")
	require.NoError(t, err)

	_, _, err = NewHMACMinter("secret-b", time.Minute).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestVerifyRejectsExpired(t *testing.T) {
	m := NewHMACMinter("secret", time.Millisecond)
	token, err := m.Mint("room", "user")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	_, _, err = m.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestMintRequiresRoomAndUser(t *testing.T) {
	m := NewHMACMinter("secret", time.Minute)

	_, err := m.Mint("", "user")
	assert.Error(t, err)
	_, err = m.Mint("room", "")
	assert.Error(t, err)
}
