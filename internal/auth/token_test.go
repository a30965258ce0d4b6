package auth

import (
	"testing"
	"time"
)

func TestSignAndVerifyAccess(t *testing.T) {
	codec := NewCodec("secret", time.Hour)
	issued, err := codec.SignAccess("Pocahontas", "user-1")
	if err != nil {
		t.Fatalf("SignAccess() error = %v", err)
	}
	claims, err := codec.VerifyAccess(issued)
	if err != nil {
		t.Fatalf("VerifyAccess() error = %v", err)
	}
	if claims.Username != "Pocahontas" || claims.UserID != "user-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyAccessRejectsExpired(t *testing.T) {
	codec := NewCodec("secret", -time.Minute)
	issued, err := codec.SignAccess("Pocahontas", "user-1")
	if err != nil {
		t.Fatalf("SignAccess() error = %v", err)
	}
	if _, err := codec.VerifyAccess(issued); err != ErrInvalidToken {
		t.Fatalf("VerifyAccess() error = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyAccessRejectsWrongSecret(t *testing.T) {
	issued, err := NewCodec("secret", time.Hour).SignAccess("Pocahontas", "user-1")
	if err != nil {
		t.Fatalf("SignAccess() error = %v", err)
	}
	if _, err := NewCodec("other", time.Hour).VerifyAccess(issued); err != ErrInvalidToken {
		t.Fatalf("VerifyAccess() error = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyAccessRejectsGarbage(t *testing.T) {
	codec := NewCodec("secret", time.Hour)
	for _, token := range []string{"", "not-a-token", "a.b", "a.b.c.d"} {
		if _, err := codec.VerifyAccess(token); err != ErrInvalidToken {
			t.Fatalf("VerifyAccess(%q) error = %v, want ErrInvalidToken", token, err)
		}
	}
}

func TestSignAndVerifyInvite(t *testing.T) {
	codec := NewCodec("invite-secret", 7*24*time.Hour)
	issued, err := codec.SignInvite("inviter-1", "friend@example.com", "doc-1")
	if err != nil {
		t.Fatalf("SignInvite() error = %v", err)
	}
	claims, err := codec.VerifyInvite(issued)
	if err != nil {
		t.Fatalf("VerifyInvite() error = %v", err)
	}
	if claims.InviterID != "inviter-1" || claims.InviteeEmail != "friend@example.com" || claims.DocID != "doc-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestInviteNotVerifiableAsAccess(t *testing.T) {
	// The two token kinds use independent secrets; an invitation token must
	// never pass as an access token.
	issued, err := NewCodec("invite-secret", time.Hour).SignInvite("inviter-1", "friend@example.com", "doc-1")
	if err != nil {
		t.Fatalf("SignInvite() error = %v", err)
	}
	if _, err := NewCodec("auth-secret", time.Hour).VerifyAccess(issued); err != ErrInvalidToken {
		t.Fatalf("VerifyAccess() error = %v, want ErrInvalidToken", err)
	}
}

func TestDecodeSkipsSignature(t *testing.T) {
	issued, err := NewCodec("whatever", time.Hour).SignAccess("Pocahontas", "user-1")
	if err != nil {
		t.Fatalf("SignAccess() error = %v", err)
	}
	claims, err := Decode(issued)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if claims.Username != "Pocahontas" {
		t.Fatalf("Decode() claims = %+v", claims)
	}
}
