// Package pkce implements the Proof Key for Code Exchange primitives
// (RFC 7636) used by the SMART on FHIR authorization code flow.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Method is the only code challenge method this client uses.
const Method = "S256"

// GenerateVerifier creates a cryptographically random code verifier.
// 32 bytes of entropy encoded as unpadded base64url yields a 43-character
// verifier, within the 43-128 range required by RFC 7636.
func GenerateVerifier() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Challenge derives the S256 code challenge for a verifier. The
// authorization server recomputes this from the verifier presented at the
// token endpoint, so the derivation must stay exactly
// base64url(sha256(verifier)) without padding.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// GenerateNonce creates a random hex string for use as an OAuth2 state or
// OpenID Connect nonce. Callers needing both must call twice; the two
// values are never derived from one another.
func GenerateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}
