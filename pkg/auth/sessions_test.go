package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knotes-app/knotes/pkg/models"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)

	assert.True(t, CheckPassword(hash, "hunter2"))
	assert.False(t, CheckPassword(hash, "hunter3"))
	assert.False(t, CheckPassword("", "hunter2"))
}

func TestSessionLifecycle(t *testing.T) {
	m, err := NewManager("")
	require.NoError(t, err)

	user := models.NewUserID()
	s, err := m.Create(user)
	require.NoError(t, err)
	assert.NotEmpty(t, s.Token)

	got, ok := m.Get(s.Token)
	require.True(t, ok)
	assert.Equal(t, user, got.UserID)
	assert.False(t, got.MFAVerified(time.Now()))

	m.Delete(s.Token)
	_, ok = m.Get(s.Token)
	assert.False(t, ok)
}

func TestLoginWindowExpiry(t *testing.T) {
	m, err := NewManager("")
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	s, err := m.Create(models.NewUserID())
	require.NoError(t, err)

	now = now.Add(Window - time.Minute)
	_, ok := m.Get(s.Token)
	assert.True(t, ok, "session is valid just inside the window")

	now = now.Add(2 * time.Minute)
	_, ok = m.Get(s.Token)
	assert.False(t, ok, "session expires after two days")
}

func TestMFAWindowExpiresIndependently(t *testing.T) {
	m, err := NewManager("")
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	s, err := m.Create(models.NewUserID())
	require.NoError(t, err)

	// Verify a day into the login window.
	now = now.Add(24 * time.Hour)
	require.True(t, m.MarkMFAVerified(s.Token))

	got, ok := m.Get(s.Token)
	require.True(t, ok)
	assert.True(t, got.MFAVerified(now))

	// The login is refreshed by neither call; jump past the login window.
	now = now.Add(Window)
	_, ok = m.Get(s.Token)
	assert.False(t, ok, "login window wins even with a fresher verification")
}

func TestMFAStampClearsButSessionSurvives(t *testing.T) {
	// A session whose verification stamp predates its login can only come in
	// from the persisted table; Get must clear the stamp and keep the login.
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "sessions.json")
	stored := []*Session{{
		Token:         "stale-mfa",
		UserID:        models.NewUserID(),
		LoginAt:       now.Add(-time.Hour),
		MFAVerifiedAt: now.Add(-Window - time.Hour),
	}}
	data, err := json.Marshal(stored)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	m, err := NewManager(path)
	require.NoError(t, err)
	m.SetClock(func() time.Time { return now })

	got, ok := m.Get("stale-mfa")
	require.True(t, ok, "the login window is still open")
	assert.False(t, got.MFAVerified(now), "the stale stamp is cleared")
	assert.True(t, got.MFAVerifiedAt.IsZero())
}

func TestSessionsPersistAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")

	m, err := NewManager(path)
	require.NoError(t, err)
	s, err := m.Create(models.NewUserID())
	require.NoError(t, err)
	require.True(t, m.MarkMFAVerified(s.Token))

	reloaded, err := NewManager(path)
	require.NoError(t, err)
	got, ok := reloaded.Get(s.Token)
	require.True(t, ok)
	assert.Equal(t, s.UserID, got.UserID)
	assert.True(t, got.MFAVerified(time.Now()))
}

func TestEmailTokensAreOneShot(t *testing.T) {
	m, err := NewManager("")
	require.NoError(t, err)

	user := models.NewUserID()
	token, err := m.CreateEmailToken(user)
	require.NoError(t, err)

	got, ok := m.ConsumeEmailToken(token)
	require.True(t, ok)
	assert.Equal(t, user, got)

	_, ok = m.ConsumeEmailToken(token)
	assert.False(t, ok, "a token redeems exactly once")

	_, ok = m.ConsumeEmailToken("bogus")
	assert.False(t, ok)
}
