package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateThenValidateSucceeds(t *testing.T) {
	s := NewStore(time.Minute)
	sess := s.Create("user-1")

	got, ok := s.Validate("user-1", sess.SessionID)
	require.True(t, ok)
	assert.Equal(t, "user-1", got.UserID)
}

func TestValidateRejectsWrongUser(t *testing.T) {
	s := NewStore(time.Minute)
	sess := s.Create("user-1")

	_, ok := s.Validate("user-2", sess.SessionID)
	assert.False(t, ok)
}

func TestValidateRejectsUnknownSession(t *testing.T) {
	s := NewStore(time.Minute)
	_, ok := s.Validate("user-1", "bogus-session-id")
	assert.False(t, ok)
}

func TestValidateRejectsExpiredSession(t *testing.T) {
	s := NewStore(time.Millisecond)
	sess := s.Create("user-1")
	time.Sleep(5 * time.Millisecond)

	_, ok := s.Validate("user-1", sess.SessionID)
	assert.False(t, ok)
}

func TestValidateExtendsExpiryStrictlyForward(t *testing.T) {
	s := NewStore(50 * time.Millisecond)
	sess := s.Create("user-1")
	firstExpiry := sess.ExpiresAt

	time.Sleep(5 * time.Millisecond)
	got, ok := s.Validate("user-1", sess.SessionID)
	require.True(t, ok)
	assert.True(t, got.ExpiresAt.After(firstExpiry))
}

func TestInvalidateRemovesSessionImmediately(t *testing.T) {
	s := NewStore(time.Minute)
	sess := s.Create("user-1")
	s.Invalidate(sess.SessionID)

	_, ok := s.Validate("user-1", sess.SessionID)
	assert.False(t, ok)
}

func TestSweepExpiredRemovesOnlyExpired(t *testing.T) {
	s := NewStore(30 * time.Millisecond)
	stale := s.Create("user-1")
	time.Sleep(35 * time.Millisecond)
	fresh := s.Create("user-2")
	_ = stale

	n := s.SweepExpired()
	assert.Equal(t, 1, n)

	_, ok := s.Validate("user-2", fresh.SessionID)
	assert.True(t, ok)
}
