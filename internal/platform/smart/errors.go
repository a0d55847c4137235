package smart

import (
	"errors"
	"fmt"
)

// ErrNotAuthenticated is returned when a resource operation runs against a
// session without an access token.
var ErrNotAuthenticated = errors.New("not authenticated")

// ErrNoFlow is returned when a callback arrives for a session with no
// authorization flow in progress (or one already consumed).
var ErrNoFlow = errors.New("no authorization flow in progress")

// DiscoveryError reports that neither the SMART well-known configuration
// nor the capability statement yielded both OAuth endpoints.
type DiscoveryError struct {
	FHIRBaseURL string
	Err         error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovering OAuth endpoints for %s: %v", e.FHIRBaseURL, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// AuthorizationDeniedError reports that the authorization server returned
// an error on the redirect instead of a code.
type AuthorizationDeniedError struct {
	Code        string
	Description string
}

func (e *AuthorizationDeniedError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authorization denied: %s (%s)", e.Code, e.Description)
	}
	return fmt.Sprintf("authorization denied: %s", e.Code)
}

// CsrfMismatchError reports that the state echoed by the authorization
// server did not match the one issued at launch. The values themselves are
// deliberately not carried.
type CsrfMismatchError struct{}

func (e *CsrfMismatchError) Error() string {
	return "state parameter mismatch"
}

// TokenExchangeError reports that the token endpoint rejected the code
// exchange. Body carries the server's raw error payload for diagnostic
// display; it never contains the code verifier.
type TokenExchangeError struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed (status %d): %v", e.StatusCode, e.Err)
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }
