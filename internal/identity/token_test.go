package identity

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionToken_Format(t *testing.T) {
	session, err := NewSessionToken(time.Hour)
	require.NoError(t, err)

	token, expiryPart, ok := strings.Cut(session, "|")
	require.True(t, ok)
	assert.Len(t, token, 32)
	assert.NotEmpty(t, expiryPart)

	expiry, ok := SessionExpiry(session)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiry, 5*time.Second)
}

func TestSessionValid(t *testing.T) {
	session, err := NewSessionToken(time.Hour)
	require.NoError(t, err)
	assert.True(t, SessionValid(session, time.Now()))
	assert.False(t, SessionValid(session, time.Now().Add(2*time.Hour)))
}

func TestSessionValid_Malformed(t *testing.T) {
	assert.False(t, SessionValid("", time.Now()))
	assert.False(t, SessionValid("no-separator", time.Now()))
	assert.False(t, SessionValid("tok|not-a-number", time.Now()))
	assert.False(t, SessionValid(InvalidSession, time.Now()), "logout marker never validates")
}

func TestNewAccessCode(t *testing.T) {
	code, err := NewAccessCode()
	require.NoError(t, err)
	assert.Len(t, code, 6)
	for _, r := range code {
		assert.True(t, r >= '0' && r <= '9')
	}
}
