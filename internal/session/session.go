package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zorosafi2003/CenterPhoneApp/internal/api"
)

// Credentials is the persisted session identity. The file stands in for the
// platform secure storage, which the core does not own.
type Credentials struct {
	Email       string `json:"email"`
	Token       string `json:"token"`
	FullName    string `json:"fullName"`
	TeacherName string `json:"teacherName"`
}

// State is one authentication transition, delivered on Changes.
type State struct {
	Authenticated bool
	Email         string
}

// Manager owns the session lifecycle: login, restore, logout (voluntary or
// forced by a 401). All auth state lives here; the gateway stays stateless.
type Manager struct {
	mu      sync.Mutex
	path    string
	creds   Credentials
	active  bool
	changes chan State
}

// NewManager creates a manager persisting credentials at path.
func NewManager(path string) *Manager {
	return &Manager{
		path:    path,
		changes: make(chan State, 8),
	}
}

// Restore loads previously stored credentials. Returns whether a session was
// restored; a missing or unreadable file just means "not logged in".
func (m *Manager) Restore() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		return false
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		log.Printf("stored credentials unreadable: %v", err)
		return false
	}
	if creds.Email == "" || creds.Token == "" {
		return false
	}
	m.creds = creds
	m.active = true
	m.notifyLocked()
	return true
}

// Login validates credentials against the remote API and persists the session.
func (m *Manager) Login(ctx context.Context, client *api.Client, email, password string) error {
	res, err := client.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = Credentials{
		Email:       email,
		Token:       res.Token,
		FullName:    res.FullName,
		TeacherName: res.TeacherName,
	}
	m.active = true
	if err := m.persistLocked(); err != nil {
		log.Printf("persist credentials failed: %v", err)
	}
	m.notifyLocked()
	return nil
}

// Logout clears the session and stored credentials. Calling it while logged
// out is a no-op, which makes the forced-logout path idempotent.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return
	}
	m.creds = Credentials{}
	m.active = false
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("remove credentials failed: %v", err)
	}
	m.notifyLocked()
}

// HandleAuthError forces a logout when err is the 401 condition. Reports
// whether the error was consumed.
func (m *Manager) HandleAuthError(err error) bool {
	if !errors.Is(err, api.ErrAuthExpired) {
		return false
	}
	log.Println("authentication expired, forcing logout")
	m.Logout()
	return true
}

// Authenticated reports whether a session is active.
func (m *Manager) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Token returns the current bearer token, or empty when logged out.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds.Token
}

// Email returns the logged-in user's email, or empty when logged out.
func (m *Manager) Email() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds.Email
}

// Changes returns the state-transition channel. Delivery is best effort: a
// slow consumer drops transitions rather than blocking the session.
func (m *Manager) Changes() <-chan State {
	return m.changes
}

// TokenExpired inspects the bearer token's exp claim without verifying the
// signature (only the server can do that). A token with no exp claim, or one
// that is not a JWT at all, is assumed live and left for the server to judge.
func (m *Manager) TokenExpired(now time.Time) bool {
	token := m.Token()
	if token == "" {
		return true
	}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return now.After(exp.Time)
}

func (m *Manager) persistLocked() error {
	data, err := json.Marshal(m.creds)
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0o600)
}

func (m *Manager) notifyLocked() {
	state := State{Authenticated: m.active, Email: m.creds.Email}
	select {
	case m.changes <- state:
	default:
	}
}
