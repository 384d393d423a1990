// Package session implements stateless, HMAC-signed login sessions.
//
// Wire format (kept for cookie compatibility):
//
//	login:expires_unix:nonce:hex(hmac_sha256(secret, "login:expires_unix:nonce"))
//
// No server-side state is kept; validity is recomputed from the token and the
// shared secret on every request.
package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CookieName is the cookie that carries the session token.
const CookieName = "session_token"

// TTL is the lifetime of an issued token.
const TTL = 24 * time.Hour

const nonceBytes = 8

var (
	ErrEmptySecret  = errors.New("session: secret is empty")
	ErrInvalidLogin = errors.New("session: login must be non-empty and must not contain ':'")
)

// Token is a decoded session token.
type Token struct {
	Login     string
	ExpiresAt time.Time
	Nonce     string
	Signature string
}

func (t Token) payload() string {
	return t.Login + ":" + strconv.FormatInt(t.ExpiresAt.Unix(), 10) + ":" + t.Nonce
}

func (t Token) String() string { return t.payload() + ":" + t.Signature }

// Codec signs and verifies tokens under one shared secret.
type Codec struct {
	secret []byte
	ttl    time.Duration
}

func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Codec{secret: []byte(secret), ttl: TTL}, nil
}

func (c *Codec) sign(payload string) string {
	m := hmac.New(sha256.New, c.secret)
	m.Write([]byte(payload))
	return hex.EncodeToString(m.Sum(nil))
}

// Issue returns a new serialized token for login, valid until now+TTL.
func (c *Codec) Issue(login string, now time.Time) (string, error) {
	if login == "" || strings.Contains(login, ":") {
		return "", ErrInvalidLogin
	}
	nb := make([]byte, nonceBytes)
	if _, err := rand.Read(nb); err != nil {
		return "", fmt.Errorf("session: nonce: %w", err)
	}
	t := Token{
		Login:     login,
		ExpiresAt: time.Unix(now.Add(c.ttl).Unix(), 0),
		Nonce:     hex.EncodeToString(nb),
	}
	t.Signature = c.sign(t.payload())
	return t.String(), nil
}

// Decode parses and authenticates raw. It does not check expiry.
func (c *Codec) Decode(raw string) (Token, bool) {
	parts := strings.Split(raw, ":")
	if len(parts) != 4 {
		return Token{}, false
	}
	exp, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Token{}, false
	}
	want := c.sign(parts[0] + ":" + parts[1] + ":" + parts[2])
	if !hmac.Equal([]byte(parts[3]), []byte(want)) {
		return Token{}, false
	}
	return Token{
		Login:     parts[0],
		ExpiresAt: time.Unix(exp, 0),
		Nonce:     parts[2],
		Signature: parts[3],
	}, true
}

// Verify returns the login carried by raw if the signature matches and the
// token has not expired at now. Any failure yields ok=false.
func (c *Codec) Verify(raw string, now time.Time) (login string, ok bool) {
	t, ok := c.Decode(raw)
	if !ok {
		return "", false
	}
	if now.Unix() >= t.ExpiresAt.Unix() {
		return "", false
	}
	return t.Login, true
}
