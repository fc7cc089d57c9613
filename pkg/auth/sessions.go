// Package auth provides credential hashing, session management and email
// verification tokens.
//
// Sessions carry two independent rolling windows of [Window] (2 days) each:
// one from login, one from the last successful two-factor verification. An
// expired login window removes the session entirely; an expired verification
// window only clears the verification stamp, forcing a re-challenge while
// the login itself stays valid. The session table is persisted to a JSON
// file so restarts don't log everyone out — the explicit, lifecycle-managed
// stand-in for what a browser client would keep in local storage.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/knotes-app/knotes/pkg/models"
)

// Window is the validity of a login and of a cached two-factor verification.
const Window = 2 * 24 * time.Hour

// Session is one authenticated session.
type Session struct {
	Token         string        `json:"token"`
	UserID        models.UserID `json:"userId"`
	LoginAt       time.Time     `json:"loginAt"`
	MFAVerifiedAt time.Time     `json:"mfaVerifiedAt"`
}

// MFAVerified reports whether the session holds an unexpired two-factor
// verification stamp.
func (s *Session) MFAVerified(now time.Time) bool {
	return !s.MFAVerifiedAt.IsZero() && now.Sub(s.MFAVerifiedAt) < Window
}

// Manager owns the session table and the pending email-verification tokens.
type Manager struct {
	mu       sync.Mutex
	path     string
	sessions map[string]*Session
	// emailTokens are one-shot and in-memory only; a restart just means
	// the user requests a fresh verification mail.
	emailTokens map[string]models.UserID
	now         func() time.Time
}

// NewManager creates a manager. When path is non-empty the session table is
// loaded from and persisted to that JSON file.
func NewManager(path string) (*Manager, error) {
	m := &Manager{
		path:        path,
		sessions:    make(map[string]*Session),
		emailTokens: make(map[string]models.UserID),
		now:         time.Now,
	}
	if path != "" {
		if err := m.load(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SetClock replaces the timestamp source, for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read session file: %w", err)
	}
	var sessions []*Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return fmt.Errorf("failed to decode session file: %w", err)
	}
	for _, s := range sessions {
		m.sessions[s.Token] = s
	}
	return nil
}

func (m *Manager) persistLocked() {
	if m.path == "" {
		return
	}
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	data, err := json.Marshal(sessions)
	if err != nil {
		return
	}
	// Best effort; a failed write costs sessions on restart, nothing else.
	_ = os.WriteFile(m.path, data, 0o600)
}

func newToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// Create starts a fresh session for the user.
func (m *Manager) Create(userID models.UserID) (*Session, error) {
	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &Session{
		Token:   token,
		UserID:  userID,
		LoginAt: m.now(),
	}
	m.sessions[token] = s
	m.persistLocked()
	cp := *s
	return &cp, nil
}

// Get resolves a token, enforcing both rolling windows. A login older than
// Window removes the session; a verification stamp older than Window is
// cleared so the next access forces a re-challenge.
func (m *Manager) Get(token string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return nil, false
	}
	now := m.now()
	if now.Sub(s.LoginAt) >= Window {
		delete(m.sessions, token)
		m.persistLocked()
		return nil, false
	}
	if !s.MFAVerifiedAt.IsZero() && now.Sub(s.MFAVerifiedAt) >= Window {
		s.MFAVerifiedAt = time.Time{}
		m.persistLocked()
	}
	cp := *s
	return &cp, true
}

// MarkMFAVerified stamps the session with the current time, starting its
// 2-day verification window.
func (m *Manager) MarkMFAVerified(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return false
	}
	s.MFAVerifiedAt = m.now()
	m.persistLocked()
	return true
}

// Delete ends a session (logout).
func (m *Manager) Delete(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	m.persistLocked()
}

// CreateEmailToken issues a one-shot email-verification token for the user.
func (m *Manager) CreateEmailToken(userID models.UserID) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate verification token: %w", err)
	}
	m.mu.Lock()
	m.emailTokens[token] = userID
	m.mu.Unlock()
	return token, nil
}

// ConsumeEmailToken redeems a verification token. Each token works once.
func (m *Manager) ConsumeEmailToken(token string) (models.UserID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.emailTokens[token]
	if ok {
		delete(m.emailTokens, token)
	}
	return userID, ok
}
