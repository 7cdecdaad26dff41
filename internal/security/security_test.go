package security

import (
	"errors"
	"testing"
	"time"
)

func TestMemberTokenRoundTrip(t *testing.T) {
	token, err := GenerateMemberToken("secret", 7, "alice", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, errParse := ParseMemberToken("secret", token)
	if errParse != nil {
		t.Fatalf("parse: %v", errParse)
	}
	if claims.MemberID != 7 || claims.Handle != "alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if _, errWrong := ParseMemberToken("other", token); !errors.Is(errWrong, ErrInvalidToken) {
		t.Fatalf("expected invalid token with wrong secret, got %v", errWrong)
	}
	if _, errAdmin := ParseAdminToken("secret", token); !errors.Is(errAdmin, ErrInvalidToken) {
		t.Fatalf("expected member token to be rejected as admin token, got %v", errAdmin)
	}
}

func TestExpiredToken(t *testing.T) {
	token, err := GenerateAdminToken("secret", 1, "root", nil, true, -time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, errParse := ParseAdminToken("secret", token); !errors.Is(errParse, ErrExpiredToken) {
		t.Fatalf("expected expired token, got %v", errParse)
	}
}

func TestPIN(t *testing.T) {
	if _, err := HashPIN("12a4"); !errors.Is(err, ErrMalformedPIN) {
		t.Fatalf("expected malformed pin, got %v", err)
	}
	hash, err := HashPIN("2468")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPIN(hash, "2468") {
		t.Fatalf("expected pin to match")
	}
	if CheckPIN(hash, "1357") {
		t.Fatalf("expected wrong pin to fail")
	}
}
