package auth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	manager := NewManager("secret", "lifeos", time.Hour)
	issued, err := manager.Issue("user-1", "avery@example.com", "Avery")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	claims, err := manager.Parse(issued)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.Sub != "user-1" || claims.Email != "avery@example.com" || claims.Name != "Avery" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	manager := NewManager("secret", "lifeos", time.Hour)
	manager.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	issued, err := manager.Issue("user-1", "avery@example.com", "Avery")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	manager.now = time.Now
	_, err = manager.Parse(issued)
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	issued, err := NewManager("other", "lifeos", time.Hour).Issue("user-1", "a@b.c", "A")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	_, err = NewManager("secret", "lifeos", time.Hour).Parse(issued)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	manager := NewManager("secret", "lifeos", time.Hour)
	for _, token := range []string{"", "abc", "a.b.c"} {
		if _, err := manager.Parse(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Parse(%q) expected ErrInvalidToken, got %v", token, err)
		}
	}
}
