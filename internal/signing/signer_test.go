package signing

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lokeshdeshmukh/face-swap-ai/internal/domain"
)

func TestTokenSignerRoundTrip(t *testing.T) {
	signer := NewTokenSigner("unit-test-secret")
	exp := time.Now().Add(10 * time.Minute).Unix()

	token, err := signer.Sign(Claims{Path: "uploads/job-1/face.jpg", Exp: exp})
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}

	claims, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if claims.Path != "uploads/job-1/face.jpg" {
		t.Fatalf("Path = %q, want uploads/job-1/face.jpg", claims.Path)
	}
	if claims.Exp != exp {
		t.Fatalf("Exp = %d, want %d", claims.Exp, exp)
	}
}

func TestTokenSignerExpired(t *testing.T) {
	signer := NewTokenSigner("unit-test-secret")

	token, err := signer.Sign(Claims{Path: "uploads/job-1/face.jpg", Exp: time.Now().Add(-time.Minute).Unix()})
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}

	if _, err := signer.Verify(token); !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("Verify error = %v, want ErrExpired", err)
	}
}

func TestTokenSignerRejectsTampering(t *testing.T) {
	signer := NewTokenSigner("unit-test-secret")

	token, err := signer.Sign(Claims{Path: "uploads/job-1/face.jpg", Exp: time.Now().Add(time.Minute).Unix()})
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}

	flipped := []byte(token)
	if flipped[3] == 'A' {
		flipped[3] = 'B'
	} else {
		flipped[3] = 'A'
	}

	if _, err := signer.Verify(string(flipped)); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("Verify error = %v, want ErrUnauthorized", err)
	}
}

func TestTokenSignerRejectsForeignSecret(t *testing.T) {
	token, err := NewTokenSigner("secret-a").Sign(Claims{Path: "x", Exp: time.Now().Add(time.Minute).Unix()})
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}

	if _, err := NewTokenSigner("secret-b").Verify(token); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("Verify error = %v, want ErrUnauthorized", err)
	}
}

func TestTokenSignerRejectsGarbage(t *testing.T) {
	signer := NewTokenSigner("unit-test-secret")
	for _, token := range []string{"", "not-base64!!!", "aGVsbG8="} {
		if _, err := signer.Verify(token); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("Verify(%q) error = %v, want ErrUnauthorized", token, err)
		}
	}
}

func TestTokenNotDerivableFromPath(t *testing.T) {
	signer := NewTokenSigner("unit-test-secret")
	exp := time.Now().Add(time.Minute).Unix()

	a, err := signer.Sign(Claims{Path: "uploads/job-1/face.jpg", Exp: exp})
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}
	b, err := signer.Sign(Claims{Path: "uploads/job-2/face.jpg", Exp: exp})
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}
	if a == b {
		t.Fatalf("tokens for distinct paths collided")
	}
	if strings.Contains(a, "job-2") {
		t.Fatalf("token leaks foreign path material")
	}
}

func TestWebhookSignature(t *testing.T) {
	body := []byte(`{"job_id":"abc","status":"completed"}`)
	sig := SignWebhook("callback-secret", body)

	if len(sig) != 64 {
		t.Fatalf("signature length = %d, want 64 hex chars", len(sig))
	}
	if !VerifyWebhook("callback-secret", body, sig) {
		t.Fatalf("VerifyWebhook rejected a valid signature")
	}
	if VerifyWebhook("callback-secret", []byte(`{"job_id":"abc","status":"failed"}`), sig) {
		t.Fatalf("VerifyWebhook accepted a signature for a different body")
	}
	if VerifyWebhook("other-secret", body, sig) {
		t.Fatalf("VerifyWebhook accepted a signature under the wrong secret")
	}
	if VerifyWebhook("callback-secret", body, "") {
		t.Fatalf("VerifyWebhook accepted an empty signature")
	}
}
