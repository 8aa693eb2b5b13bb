package jwtutil

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"
)

func newTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestParseAccessToken_RoundTrip(t *testing.T) {
	t.Parallel()

	key := newTestKey(t)
	token, err := GenerateAccessToken(NewClaims("u-1", "PREMIUM", "alice", time.Minute), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := ParseAccessToken(token, &key.PublicKey)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "u-1" || claims.Role != "PREMIUM" || claims.Username != "alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseAccessToken_Rejects(t *testing.T) {
	t.Parallel()

	key := newTestKey(t)
	other := newTestKey(t)

	expired, err := GenerateAccessToken(NewClaims("u-1", "FREE", "", -time.Minute), key)
	if err != nil {
		t.Fatalf("sign expired: %v", err)
	}
	foreign, err := GenerateAccessToken(NewClaims("u-1", "FREE", "", time.Minute), other)
	if err != nil {
		t.Fatalf("sign foreign: %v", err)
	}

	for name, token := range map[string]string{
		"expired": expired,
		"foreign": foreign,
		"garbage": "not-a-token",
	} {
		if _, err := ParseAccessToken(token, &key.PublicKey); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestParseAccessToken_RequiresUserID(t *testing.T) {
	t.Parallel()

	key := newTestKey(t)
	token, err := GenerateAccessToken(NewClaims("", "FREE", "", time.Minute), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseAccessToken(token, &key.PublicKey); !errors.Is(err, ErrMissingSubject) {
		t.Fatalf("expected ErrMissingSubject, got %v", err)
	}
}
