package authn

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"
)

const googleCertsURL = "https://www.googleapis.com/oauth2/v3/certs"

// GoogleVerifier validates Google ID tokens (RS256) against Google's public
// JWKS. ClientID, when set, is enforced as the token audience.
type GoogleVerifier struct {
	ClientID string
	CertsURL string
	HTTP     *http.Client
}

func NewGoogleVerifier(clientID string) *GoogleVerifier {
	return &GoogleVerifier{
		ClientID: clientID,
		CertsURL: googleCertsURL,
		HTTP:     &http.Client{Timeout: 10 * time.Second},
	}
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type googleClaims struct {
	Iss   string `json:"iss"`
	Aud   string `json:"aud"`
	Exp   int64  `json:"exp"`
	Email string `json:"email"`
	Sub   string `json:"sub"`
}

// Verify checks signature, expiry, issuer and audience, returning the minimal
// profile the backend keeps.
func (g *GoogleVerifier) Verify(ctx context.Context, idToken string) (User, error) {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return User{}, ErrInvalidToken
	}
	var h struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	if raw, err := unb64(parts[0]); err != nil || json.Unmarshal(raw, &h) != nil {
		return User{}, ErrInvalidToken
	}
	if h.Alg != "RS256" || h.Kid == "" {
		return User{}, ErrInvalidToken
	}

	key, err := g.fetchKey(ctx, h.Kid)
	if err != nil {
		return User{}, err
	}
	sig, err := unb64(parts[2])
	if err != nil {
		return User{}, ErrInvalidToken
	}
	digest := sha256.Sum256([]byte(parts[0] + "." + parts[1]))
	if rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], sig) != nil {
		return User{}, ErrInvalidToken
	}

	var c googleClaims
	if raw, err := unb64(parts[1]); err != nil || json.Unmarshal(raw, &c) != nil {
		return User{}, ErrInvalidToken
	}
	if c.Exp <= time.Now().Unix() {
		return User{}, ErrInvalidToken
	}
	if g.ClientID != "" && subtle.ConstantTimeCompare([]byte(g.ClientID), []byte(c.Aud)) != 1 {
		return User{}, ErrInvalidToken
	}
	if c.Iss != "https://accounts.google.com" && c.Iss != "accounts.google.com" {
		return User{}, ErrInvalidToken
	}
	if c.Email == "" || c.Sub == "" {
		return User{}, ErrInvalidToken
	}
	return User{Email: c.Email, Sub: c.Sub}, nil
}

func (g *GoogleVerifier) fetchKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.CertsURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}
	var body struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	for _, k := range body.Keys {
		if k.Kid == kid && k.Kty == "RSA" {
			return jwkToKey(k)
		}
	}
	return nil, errors.New("signing key not found")
}

func jwkToKey(k jwk) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, err
	}
	e := 0
	for _, b := range eb {
		e = e<<8 | int(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}
