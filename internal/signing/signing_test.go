package signing

import (
	"errors"
	"testing"
	"time"
)

func TestSigner(t *testing.T) {
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	s := NewSigner([]byte("topsecret-topsecret"))
	s.now = func() time.Time { return now }

	tok, err := s.Issue(10 * time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if tok.Value == "" || tok.ID == "" {
		t.Fatalf("expected token value and id, got %+v", tok)
	}
	if !tok.ExpiresAt.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("unexpected expiry %s", tok.ExpiresAt)
	}

	id, err := s.Validate(tok.Value)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if id != tok.ID {
		t.Fatalf("expected id %s, got %s", tok.ID, id)
	}

	// A different secret must not validate.
	other := NewSigner([]byte("othersecret-othersecret"))
	other.now = s.now
	if _, err := other.Validate(tok.Value); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for wrong secret, got %v", err)
	}
	if _, err := s.Validate(tok.Value + "x"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for tampered token, got %v", err)
	}

	now = now.Add(10*time.Minute + time.Second)
	if _, err := s.Validate(tok.Value); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestIssueRejectsZeroTTL(t *testing.T) {
	if _, err := NewSigner([]byte("topsecret-topsecret")).Issue(0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}
