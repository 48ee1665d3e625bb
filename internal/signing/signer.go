package signing

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lokeshdeshmukh/face-swap-ai/internal/domain"
)

// Claims is the payload carried inside a signed asset token.
type Claims struct {
	Path string `json:"path"`
	Exp  int64  `json:"exp"`
}

// TokenSigner mints and verifies the opaque references handed to the compute
// backend and to asset downloads. A token is urlsafe base64 over
// `body "." hex(hmac_sha256(secret, body))` where body is compact JSON, so a
// token cannot be derived from a job id or forged without the secret.
type TokenSigner struct {
	secret []byte
}

// NewTokenSigner builds a signer for the given shared secret.
func NewTokenSigner(secret string) *TokenSigner {
	return &TokenSigner{secret: []byte(secret)}
}

// Sign encodes claims and appends their signature.
func (s *TokenSigner) Sign(claims Claims) (string, error) {
	body, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("signing: marshal claims: %w", err)
	}
	raw := append(body, '.')
	raw = append(raw, s.signature(body)...)
	return base64.URLEncoding.EncodeToString(raw), nil
}

// Verify checks the token signature and expiry and returns the claims.
// Signature or format failures map to ErrUnauthorized, expiry to ErrExpired.
func (s *TokenSigner) Verify(token string) (Claims, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return Claims{}, fmt.Errorf("signing: undecodable token: %w", domain.ErrUnauthorized)
	}
	i := bytes.LastIndexByte(raw, '.')
	if i < 0 {
		return Claims{}, fmt.Errorf("signing: malformed token: %w", domain.ErrUnauthorized)
	}
	body, sig := raw[:i], raw[i+1:]
	if !hmac.Equal(sig, s.signature(body)) {
		return Claims{}, fmt.Errorf("signing: signature mismatch: %w", domain.ErrUnauthorized)
	}
	var claims Claims
	if err := json.Unmarshal(body, &claims); err != nil {
		return Claims{}, fmt.Errorf("signing: undecodable claims: %w", domain.ErrUnauthorized)
	}
	if claims.Exp < time.Now().Unix() {
		return Claims{}, fmt.Errorf("signing: token expired: %w", domain.ErrExpired)
	}
	return claims, nil
}

func (s *TokenSigner) signature(body []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	out := make([]byte, hex.EncodedLen(sha256.Size))
	hex.Encode(out, mac.Sum(nil))
	return out
}

// SignWebhook returns the hex HMAC-SHA256 of body under secret. This is the
// scheme carried in the X-Callback-Signature header on compute callbacks.
func SignWebhook(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook reports whether signature matches body under secret using a
// constant-time comparison.
func VerifyWebhook(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(SignWebhook(secret, body)), []byte(signature))
}
