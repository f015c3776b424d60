// Package authn issues and verifies the backend's own HS256 tokens and
// validates Google ID tokens during sign-in.
package authn

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var ErrInvalidToken = errors.New("invalid token")

// User is the authenticated caller context attached to module executions.
// Many operations run without one; modules fall back to a sentinel email.
type User struct {
	Email string `json:"email"`
	Sub   string `json:"sub"`
}

type claims struct {
	Email string `json:"email"`
	Sub   string `json:"sub"`
	Iat   int64  `json:"iat"`
	Exp   int64  `json:"exp"`
}

type header struct {
	Typ string `json:"typ"`
	Alg string `json:"alg"`
}

// JWT signs and verifies HS256 tokens with a shared secret.
type JWT struct {
	Secret []byte
	TTL    time.Duration
}

func NewJWT(secret string, ttl time.Duration) *JWT {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWT{Secret: []byte(secret), TTL: ttl}
}

func (j *JWT) Generate(user User) string {
	now := time.Now().Unix()
	h, _ := json.Marshal(header{Typ: "JWT", Alg: "HS256"})
	c, _ := json.Marshal(claims{Email: user.Email, Sub: user.Sub, Iat: now, Exp: now + int64(j.TTL.Seconds())})
	signing := b64(h) + "." + b64(c)
	return signing + "." + b64(j.sign(signing))
}

func (j *JWT) Verify(token string) (User, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return User{}, ErrInvalidToken
	}
	var h header
	if raw, err := unb64(parts[0]); err != nil || json.Unmarshal(raw, &h) != nil {
		return User{}, ErrInvalidToken
	}
	if h.Alg != "HS256" {
		return User{}, ErrInvalidToken
	}
	want := j.sign(parts[0] + "." + parts[1])
	got, err := unb64(parts[2])
	if err != nil || !hmac.Equal(want, got) {
		return User{}, ErrInvalidToken
	}
	var c claims
	if raw, err := unb64(parts[1]); err != nil || json.Unmarshal(raw, &c) != nil {
		return User{}, ErrInvalidToken
	}
	if c.Exp != 0 && c.Exp < time.Now().Unix() {
		return User{}, ErrInvalidToken
	}
	return User{Email: c.Email, Sub: c.Sub}, nil
}

func (j *JWT) sign(signingInput string) []byte {
	mac := hmac.New(sha256.New, j.Secret)
	mac.Write([]byte(signingInput))
	return mac.Sum(nil)
}

// FromBearer extracts the token from an Authorization header value.
func FromBearer(authorization string) (string, bool) {
	const prefix = "Bearer "
	if len(authorization) <= len(prefix) || !strings.EqualFold(authorization[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(authorization[len(prefix):])
	return token, token != ""
}

func b64(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

func unb64(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }
