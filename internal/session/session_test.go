package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/instant-messaging/internal/realtime/rttest"
)

func TestLifecycle(t *testing.T) {
	s := New()
	assert.Equal(t, StateLoggedOut, s.State())

	a, err := s.Begin()
	require.NoError(t, err)
	assert.Equal(t, StateLoggingIn, s.State())

	tr := rttest.NewTransport("u1", nil)
	require.NoError(t, s.Establish(a, Identity{UserID: "u1", Username: "alice"}, tr))
	assert.Equal(t, StateLoggedIn, s.State())
	assert.Equal(t, Identity{UserID: "u1", Username: "alice"}, s.Identity())
	assert.Same(t, tr, s.Transport())

	assert.Same(t, tr, s.End())
	assert.Equal(t, StateLoggedOut, s.State())
	assert.Equal(t, Identity{}, s.Identity())
	assert.Nil(t, s.Transport())

	// Ending twice is harmless.
	assert.Nil(t, s.End())
}

func TestBeginRejectedUnlessLoggedOut(t *testing.T) {
	s := New()

	a, err := s.Begin()
	require.NoError(t, err)

	_, err = s.Begin()
	assert.ErrorIs(t, err, ErrAlreadyLoggedIn)

	require.NoError(t, s.Establish(a, Identity{UserID: "u1"}, nil))
	_, err = s.Begin()
	assert.ErrorIs(t, err, ErrAlreadyLoggedIn)
}

func TestAbort(t *testing.T) {
	s := New()

	a, err := s.Begin()
	require.NoError(t, err)
	s.Abort(a)
	assert.Equal(t, StateLoggedOut, s.State())

	_, err = s.Begin()
	assert.NoError(t, err)
}

func TestStaleAttempt(t *testing.T) {
	s := New()

	first, err := s.Begin()
	require.NoError(t, err)

	// Logout while the first attempt is in flight, then log in again.
	s.End()
	second, err := s.Begin()
	require.NoError(t, err)

	err = s.Establish(first, Identity{UserID: "old"}, nil)
	assert.ErrorIs(t, err, ErrAttemptAborted)

	// A stale abort does not disturb the current attempt.
	s.Abort(first)
	assert.Equal(t, StateLoggingIn, s.State())

	require.NoError(t, s.Establish(second, Identity{UserID: "new"}, nil))
	assert.Equal(t, "new", s.Identity().UserID.String())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "logged_out", StateLoggedOut.String())
	assert.Equal(t, "logging_in", StateLoggingIn.String())
	assert.Equal(t, "logged_in", StateLoggedIn.String())
	assert.Equal(t, "unknown", State(9).String())
}

func TestCurrent(t *testing.T) {
	s := New()

	a, err := s.Begin()
	require.NoError(t, err)
	assert.True(t, s.Current(a))

	require.NoError(t, s.Establish(a, Identity{UserID: "u1"}, nil))
	assert.True(t, s.Current(a))

	s.End()
	assert.False(t, s.Current(a))

	b, err := s.Begin()
	require.NoError(t, err)
	assert.False(t, s.Current(a))
	assert.True(t, s.Current(b))
}
