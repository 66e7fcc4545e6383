package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"momo-wallet/internal/domain"
)

// ErrInvalidToken rejects tokens that are malformed, expired, or signed out.
var ErrInvalidToken = errors.New("invalid session token")

// AuthUser is the authenticated identity carried by a session.
type AuthUser struct {
	ID    string
	Email string
}

// Listener receives the current identity on auth-state change, or nil on sign-out.
type Listener func(*AuthUser)

type liveSession struct {
	user      AuthUser
	expiresAt time.Time
}

// Manager owns the live sessions and the auth-state observer list. It replaces
// the usual package-level current-user global: one Manager is created at
// process start and passed to the handlers that need it.
type Manager struct {
	secret []byte
	ttl    time.Duration

	mu        sync.Mutex
	sessions  map[string]liveSession
	listeners map[int]Listener
	nextID    int
}

func NewManager(secret string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		secret:    []byte(secret),
		ttl:       ttl,
		sessions:  make(map[string]liveSession),
		listeners: make(map[int]Listener),
	}
}

// SignIn issues a signed token for the user and notifies subscribers.
func (m *Manager) SignIn(user *domain.User) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"exp":   time.Now().Add(m.ttl).Unix(),
		"iat":   time.Now().Unix(),
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	identity := AuthUser{ID: user.ID, Email: user.Email}
	now := time.Now()
	m.mu.Lock()
	m.pruneLocked(now)
	m.sessions[signed] = liveSession{user: identity, expiresAt: now.Add(m.ttl)}
	m.mu.Unlock()

	m.notify(&identity)
	return signed, nil
}

// SignOut ends the session for the token and notifies subscribers with nil.
// Unknown tokens are a no-op.
func (m *Manager) SignOut(token string) {
	m.mu.Lock()
	_, ok := m.sessions[token]
	if ok {
		delete(m.sessions, token)
	}
	m.mu.Unlock()

	if ok {
		m.notify(nil)
	}
}

// Verify parses and validates the token and requires the session to still be
// live, so a signed-out token stops working before it expires. Tokens that
// fail validation are dropped from the session table so expired entries do
// not pile up.
func (m *Manager) Verify(token string) (*AuthUser, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		m.mu.Lock()
		delete(m.sessions, token)
		m.mu.Unlock()
		return nil, ErrInvalidToken
	}

	m.mu.Lock()
	entry, ok := m.sessions[token]
	if ok && time.Now().After(entry.expiresAt) {
		delete(m.sessions, token)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return nil, ErrInvalidToken
	}
	return &entry.user, nil
}

// pruneLocked drops sessions whose tokens have expired. Callers hold m.mu.
func (m *Manager) pruneLocked(now time.Time) {
	for token, entry := range m.sessions {
		if now.After(entry.expiresAt) {
			delete(m.sessions, token)
		}
	}
}

// Subscribe registers a listener for auth-state changes and returns its
// unsubscribe func.
func (m *Manager) Subscribe(fn Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Manager) notify(user *AuthUser) {
	m.mu.Lock()
	fns := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(user)
	}
}
