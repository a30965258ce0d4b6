// Package auth signs and verifies the compact bearer tokens the API runs on:
// short-lived access tokens and medium-lived document invitation tokens.
package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for every verification failure: bad signature,
// malformed token, or expired token. Callers must not be able to tell these
// apart.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the payload of an access token.
type Claims struct {
	Username string `json:"username"`
	UserID   string `json:"userId"`
	jwt.RegisteredClaims
}

// InviteClaims bind an inviter, an invitee email address and a target
// document. They are signed with a secret distinct from the access-token
// secret.
type InviteClaims struct {
	InviterID    string `json:"inviterId"`
	InviteeEmail string `json:"inviteeEmail"`
	DocID        string `json:"docId"`
	jwt.RegisteredClaims
}

// Codec signs and verifies tokens under a single secret with a fixed
// lifetime. The service holds two: one for access tokens, one for
// invitations.
type Codec struct {
	secret []byte
	ttl    time.Duration
}

func NewCodec(secret string, ttl time.Duration) Codec {
	return Codec{secret: []byte(secret), ttl: ttl}
}

// SignAccess issues an access token for the given identity, expiring after
// the codec's lifetime.
func (c Codec) SignAccess(username, userID string) (string, error) {
	claims := Claims{
		Username: username,
		UserID:   userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(c.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return c.sign(claims)
}

// VerifyAccess checks signature and expiry and returns the embedded claims.
func (c Codec) VerifyAccess(token string) (Claims, error) {
	var claims Claims
	if err := c.verify(token, &claims); err != nil {
		return Claims{}, err
	}
	if claims.Username == "" || claims.UserID == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// SignInvite issues an invitation token binding inviter, invitee and
// document.
func (c Codec) SignInvite(inviterID, inviteeEmail, docID string) (string, error) {
	claims := InviteClaims{
		InviterID:    inviterID,
		InviteeEmail: inviteeEmail,
		DocID:        docID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(c.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return c.sign(claims)
}

// VerifyInvite checks signature and expiry of an invitation token. The
// inviter and document claims are validated by the redemption flow, not
// here, so that a structurally valid but incomplete token can be reported
// distinctly.
func (c Codec) VerifyInvite(token string) (InviteClaims, error) {
	var claims InviteClaims
	if err := c.verify(token, &claims); err != nil {
		return InviteClaims{}, err
	}
	return claims, nil
}

// Decode extracts access-token claims without checking the signature. The
// result is untrusted; it exists for reading metadata out of tokens that were
// verified under a different secret, or for diagnostics. Never gate anything
// on its output.
func Decode(token string) (Claims, error) {
	var claims Claims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// HashToken hashes a refresh token for storage. Only the hash ever touches
// the database or Redis.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}

func (c Codec) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (c Codec) verify(token string, claims jwt.Claims) error {
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}
