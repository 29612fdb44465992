// Package session issues and verifies the opaque tokens gating authenticated
// endpoints. State is process-wide memory only: an agent restart invalidates
// every session. That is an accepted limitation, not a defect.
package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lanops/lanagent/pkg/logger"
)

var (
	// ErrInvalidCredentials is returned by Login on a username/password mismatch.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnknownToken is returned by Logout for tokens that are not live.
	ErrUnknownToken = errors.New("unknown token")
	// ErrLoginDisabled is returned when no credentials are configured.
	ErrLoginDisabled = errors.New("login disabled: no credentials configured")
)

// Session is one live authenticated credential.
type Session struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

func (s Session) expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Manager owns the session table. Safe for concurrent use; the mutex covers
// only table mutation, never any caller work.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]Session

	username string
	password string
	ttl      time.Duration

	sweepCancel context.CancelFunc
	sweepWG     sync.WaitGroup
}

// NewManager builds a manager checking logins against the configured
// credentials. ttl of zero means sessions never expire.
func NewManager(username, password string, ttl time.Duration) *Manager {
	return &Manager{
		sessions: make(map[string]Session),
		username: username,
		password: password,
		ttl:      ttl,
	}
}

// newToken returns a 32-byte random hex string (64 chars).
func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return fmt.Sprintf("%x", b), nil
}

// Login authenticates the credentials and issues a fresh session. Every login
// issues a new token; an invalidated token is never revived.
func (m *Manager) Login(username, password string) (Session, error) {
	if m.username == "" || m.password == "" {
		return Session{}, ErrLoginDisabled
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(m.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(m.password)) == 1
	if !userOK || !passOK {
		return Session{}, ErrInvalidCredentials
	}

	token, err := newToken()
	if err != nil {
		return Session{}, err
	}
	now := time.Now()
	s := Session{Token: token, Username: username, CreatedAt: now}
	if m.ttl > 0 {
		s.ExpiresAt = now.Add(m.ttl)
	}

	m.mu.Lock()
	m.sessions[token] = s
	m.mu.Unlock()

	logger.WithField("user", username).Info("session issued")
	return s, nil
}

// Logout invalidates the token. Unknown tokens return ErrUnknownToken.
func (m *Manager) Logout(token string) error {
	m.mu.Lock()
	_, ok := m.sessions[token]
	if ok {
		delete(m.sessions, token)
	}
	m.mu.Unlock()

	if !ok {
		return ErrUnknownToken
	}
	logger.Info("session invalidated")
	return nil
}

// Verify reports whether the token belongs to a live, unexpired session.
// Expired and unknown tokens fail identically so a caller cannot tell which
// case occurred. Expired entries are dropped on sight.
func (m *Manager) Verify(token string) bool {
	if token == "" {
		return false
	}
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return false
	}
	if s.expired(now) {
		delete(m.sessions, token)
		return false
	}
	return true
}

// Count returns the number of live sessions, expired ones included until swept.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StartSweeper launches a background loop dropping expired sessions. No-op
// when sessions never expire.
func (m *Manager) StartSweeper(interval time.Duration) {
	if m.ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.sweepCancel = cancel
	m.sweepWG.Add(1)
	go func() {
		defer m.sweepWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.sweep(time.Now()); n > 0 {
					logger.Infof("session sweep dropped %d expired session(s)", n)
				}
			}
		}
	}()
}

func (m *Manager) sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	dropped := 0
	for token, s := range m.sessions {
		if s.expired(now) {
			delete(m.sessions, token)
			dropped++
		}
	}
	return dropped
}

// Close stops the sweeper and clears the table.
func (m *Manager) Close() {
	if m.sweepCancel != nil {
		m.sweepCancel()
		m.sweepWG.Wait()
	}
	m.mu.Lock()
	m.sessions = make(map[string]Session)
	m.mu.Unlock()
}
