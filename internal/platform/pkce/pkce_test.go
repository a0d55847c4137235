package pkce

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"
)

func TestGenerateVerifierLengthAndAlphabet(t *testing.T) {
	v, err := GenerateVerifier()
	if err != nil {
		t.Fatalf("GenerateVerifier: %v", err)
	}
	if len(v) != 43 {
		t.Errorf("expected 43-character verifier, got %d", len(v))
	}
	if strings.ContainsAny(v, "+/=") {
		t.Errorf("verifier contains non-URL-safe characters: %s", v)
	}
}

func TestGenerateVerifierUnique(t *testing.T) {
	a, _ := GenerateVerifier()
	b, _ := GenerateVerifier()
	if a == b {
		t.Error("two verifiers should never collide")
	}
}

func TestChallengeDeterministic(t *testing.T) {
	const verifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"

	first := Challenge(verifier)
	for i := 0; i < 5; i++ {
		if got := Challenge(verifier); got != first {
			t.Fatalf("challenge not stable: %s != %s", got, first)
		}
	}

	sum := sha256.Sum256([]byte(verifier))
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	if first != want {
		t.Errorf("challenge = %s, want %s", first, want)
	}
	if strings.ContainsAny(first, "+/=") {
		t.Errorf("challenge contains non-URL-safe characters: %s", first)
	}
}

func TestChallengeKnownVector(t *testing.T) {
	// Appendix B of RFC 7636.
	got := Challenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk")
	if got != "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM" {
		t.Errorf("unexpected challenge: %s", got)
	}
}

func TestGenerateNonceIndependence(t *testing.T) {
	state, err := GenerateNonce()
	if err != nil {
		t.Fatalf("GenerateNonce: %v", err)
	}
	nonce, err := GenerateNonce()
	if err != nil {
		t.Fatalf("GenerateNonce: %v", err)
	}
	if len(state) != 32 || len(nonce) != 32 {
		t.Errorf("expected 32 hex chars, got %d and %d", len(state), len(nonce))
	}
	if state == nonce {
		t.Error("state and nonce must be independent values")
	}
}
