package session

import (
	"errors"
	"testing"
	"time"

	"momo-wallet/internal/domain"
)

func TestSignInVerifySignOut(t *testing.T) {
	m := NewManager("secret", time.Hour)
	user := &domain.User{ID: "user-1", Email: "ama@example.com"}

	token, err := m.SignIn(user)
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}

	identity, err := m.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity.ID != "user-1" || identity.Email != "ama@example.com" {
		t.Errorf("unexpected identity: %+v", identity)
	}

	m.SignOut(token)
	if _, err := m.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken after sign out, got %v", err)
	}
}

func TestVerifyRejectsForgedToken(t *testing.T) {
	m := NewManager("secret", time.Hour)
	other := NewManager("other-secret", time.Hour)

	token, err := other.SignIn(&domain.User{ID: "user-1", Email: "ama@example.com"})
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}

	if _, err := m.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for foreign signature, got %v", err)
	}
	if _, err := m.Verify("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestExpiredSessionsArePruned(t *testing.T) {
	m := NewManager("secret", 50*time.Millisecond)

	stale, err := m.SignIn(&domain.User{ID: "user-1", Email: "ama@example.com"})
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	time.Sleep(120 * time.Millisecond)

	// verifying the expired token rejects it and drops its table entry
	if _, err := m.Verify(stale); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for expired token, got %v", err)
	}
	m.mu.Lock()
	remaining := len(m.sessions)
	m.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected empty session table, got %d entries", remaining)
	}

	// a later sign-in sweeps expired entries that were never verified
	if _, err := m.SignIn(&domain.User{ID: "user-2", Email: "kofi@example.com"}); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	time.Sleep(120 * time.Millisecond)
	if _, err := m.SignIn(&domain.User{ID: "user-3", Email: "esi@example.com"}); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	m.mu.Lock()
	remaining = len(m.sessions)
	m.mu.Unlock()
	if remaining != 1 {
		t.Errorf("expected only the latest session, got %d entries", remaining)
	}
}

func TestSubscribersSeeAuthStateChanges(t *testing.T) {
	m := NewManager("secret", time.Hour)

	var events []*AuthUser
	unsubscribe := m.Subscribe(func(user *AuthUser) {
		events = append(events, user)
	})

	token, err := m.SignIn(&domain.User{ID: "user-1", Email: "ama@example.com"})
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	m.SignOut(token)

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0] == nil || events[0].ID != "user-1" {
		t.Errorf("expected sign-in event for user-1, got %+v", events[0])
	}
	if events[1] != nil {
		t.Errorf("expected nil sign-out event, got %+v", events[1])
	}

	unsubscribe()
	if _, err := m.SignIn(&domain.User{ID: "user-2", Email: "kofi@example.com"}); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("unsubscribed listener still notified, %d events", len(events))
	}
}

func TestSignOutUnknownTokenDoesNotNotify(t *testing.T) {
	m := NewManager("secret", time.Hour)

	notified := 0
	m.Subscribe(func(*AuthUser) { notified++ })

	m.SignOut("unknown")
	if notified != 0 {
		t.Errorf("expected no notification, got %d", notified)
	}
}
