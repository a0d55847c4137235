package smart

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Hisham-InfoGleam/smart-epic-salesforce/internal/platform/pkce"
	"github.com/Hisham-InfoGleam/smart-epic-salesforce/internal/session"
)

// authServer stands in for the discovery + token endpoints of an upstream
// authorization server.
type authServer struct {
	*httptest.Server
	tokenRequests int
	tokenStatus   int
	tokenBody     string
	lastTokenForm url.Values
}

func newAuthServer(t *testing.T) *authServer {
	as := &authServer{tokenStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/smart-configuration", func(w http.ResponseWriter, r *http.Request) {
		cfg := map[string]string{
			"authorization_endpoint": as.Server.URL + "/oauth2/authorize",
			"token_endpoint":         as.Server.URL + "/oauth2/token",
		}
		json.NewEncoder(w).Encode(cfg)
	})
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		as.tokenRequests++
		if err := r.ParseForm(); err != nil {
			t.Errorf("token request form: %v", err)
		}
		as.lastTokenForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(as.tokenStatus)
		w.Write([]byte(as.tokenBody))
	})
	as.Server = httptest.NewServer(mux)
	return as
}

func testFlow(as *authServer) *Flow {
	d := NewDiscoverer(as.Client(), zerolog.Nop())
	return NewFlow(FlowConfig{
		ClientID:    "test-client-id",
		RedirectURI: "http://localhost:3000/callback",
		Scopes:      []string{"openid", "fhirUser", "launch/patient", "patient/Patient.read"},
		FHIRBaseURL: as.URL,
	}, d, as.Client(), zerolog.Nop())
}

func TestBeginAuthorizationURL(t *testing.T) {
	as := newAuthServer(t)
	defer as.Close()

	f := testFlow(as)
	sess := &session.Session{ID: "s1"}

	authURL, err := f.Begin(context.Background(), sess)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	if !strings.HasPrefix(authURL, as.URL+"/oauth2/authorize") {
		t.Errorf("auth url should target the discovered endpoint, got %s", authURL)
	}

	q := u.Query()
	if q.Get("response_type") != "code" {
		t.Errorf("response_type = %q", q.Get("response_type"))
	}
	if q.Get("client_id") != "test-client-id" {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}
	if q.Get("redirect_uri") != "http://localhost:3000/callback" {
		t.Errorf("redirect_uri = %q", q.Get("redirect_uri"))
	}
	if q.Get("aud") != as.URL {
		t.Errorf("aud = %q, want the FHIR base url", q.Get("aud"))
	}
	if q.Get("code_challenge_method") != "S256" {
		t.Errorf("code_challenge_method = %q", q.Get("code_challenge_method"))
	}
	if !strings.Contains(q.Get("scope"), "launch/patient") {
		t.Errorf("scope missing launch/patient: %q", q.Get("scope"))
	}

	fs := sess.Flow
	if fs == nil {
		t.Fatal("Begin must store flow state on the session")
	}
	if q.Get("state") != fs.State {
		t.Error("state in url must match stored flow state")
	}
	if q.Get("nonce") != fs.Nonce {
		t.Error("nonce in url must match stored flow state")
	}
	if q.Get("code_challenge") != pkce.Challenge(fs.Verifier) {
		t.Error("code_challenge must be the S256 hash of the stored verifier")
	}
	if strings.Contains(authURL, fs.Verifier) {
		t.Error("verifier must never appear in the authorization url")
	}
}

func TestBeginOverwritesInFlightFlow(t *testing.T) {
	as := newAuthServer(t)
	defer as.Close()

	f := testFlow(as)
	sess := &session.Session{ID: "s1"}

	if _, err := f.Begin(context.Background(), sess); err != nil {
		t.Fatalf("first Begin: %v", err)
	}
	first := *sess.Flow
	if _, err := f.Begin(context.Background(), sess); err != nil {
		t.Fatalf("second Begin: %v", err)
	}

	if sess.Flow.State == first.State || sess.Flow.Verifier == first.Verifier {
		t.Error("a fresh Begin must mint new state and verifier")
	}
}

func TestCompleteStateMismatch(t *testing.T) {
	as := newAuthServer(t)
	defer as.Close()

	f := testFlow(as)
	sess := &session.Session{ID: "s1"}
	if _, err := f.Begin(context.Background(), sess); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	err := f.Complete(context.Background(), sess, CallbackParams{
		Code:  "some-code",
		State: "forged-state",
	})

	var csrf *CsrfMismatchError
	if !errors.As(err, &csrf) {
		t.Fatalf("expected *CsrfMismatchError, got %v", err)
	}
	if as.tokenRequests != 0 {
		t.Errorf("state mismatch must short-circuit before any token request, saw %d", as.tokenRequests)
	}
	if sess.Flow != nil {
		t.Error("flow state must be cleared after a state mismatch")
	}
	if sess.Authenticated() {
		t.Error("session must not be authenticated after a state mismatch")
	}
}

func TestCompleteUpstreamDenial(t *testing.T) {
	as := newAuthServer(t)
	defer as.Close()

	f := testFlow(as)
	sess := &session.Session{ID: "s1"}
	if _, err := f.Begin(context.Background(), sess); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	err := f.Complete(context.Background(), sess, CallbackParams{
		Error:            "access_denied",
		ErrorDescription: "the user declined",
	})

	var denied *AuthorizationDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected *AuthorizationDeniedError, got %v", err)
	}
	if denied.Code != "access_denied" || denied.Description != "the user declined" {
		t.Errorf("unexpected denial: %+v", denied)
	}
	if as.tokenRequests != 0 {
		t.Errorf("denial must not reach the token endpoint, saw %d requests", as.tokenRequests)
	}
	if sess.Flow != nil {
		t.Error("flow state must be cleared on denial")
	}
}

func TestCompleteWithoutFlow(t *testing.T) {
	as := newAuthServer(t)
	defer as.Close()

	f := testFlow(as)
	err := f.Complete(context.Background(), &session.Session{ID: "s1"}, CallbackParams{
		Code:  "code",
		State: "state",
	})
	if !errors.Is(err, ErrNoFlow) {
		t.Fatalf("expected ErrNoFlow, got %v", err)
	}
}

func TestCompleteSuccess(t *testing.T) {
	as := newAuthServer(t)
	defer as.Close()

	as.tokenBody = `{
		"access_token": "granted-access-token",
		"refresh_token": "granted-refresh-token",
		"token_type": "Bearer",
		"expires_in": 3600,
		"scope": "patient/Patient.read patient/Observation.read",
		"patient": "pat-42"
	}`

	f := testFlow(as)
	sess := &session.Session{ID: "s1"}
	if _, err := f.Begin(context.Background(), sess); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	verifier := sess.Flow.Verifier
	state := sess.Flow.State

	if err := f.Complete(context.Background(), sess, CallbackParams{Code: "auth-code", State: state}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if as.lastTokenForm.Get("code_verifier") != verifier {
		t.Error("token request must carry the stored code_verifier")
	}
	if as.lastTokenForm.Get("grant_type") != "authorization_code" {
		t.Errorf("grant_type = %q", as.lastTokenForm.Get("grant_type"))
	}
	if as.lastTokenForm.Get("client_id") != "test-client-id" {
		t.Error("public client must send client_id in the form body")
	}

	if sess.AccessToken != "granted-access-token" {
		t.Errorf("access token = %q", sess.AccessToken)
	}
	if sess.RefreshToken != "granted-refresh-token" {
		t.Errorf("refresh token = %q", sess.RefreshToken)
	}
	if sess.PatientID != "pat-42" {
		t.Errorf("patient = %q", sess.PatientID)
	}
	if sess.Scope != "patient/Patient.read patient/Observation.read" {
		t.Errorf("scope = %q", sess.Scope)
	}
	if sess.ExpiresIn < 3500 || sess.ExpiresIn > 3600 {
		t.Errorf("expires_in = %d", sess.ExpiresIn)
	}
	if sess.FHIRBaseURL != as.URL {
		t.Errorf("fhir base url = %q", sess.FHIRBaseURL)
	}
	if sess.Flow != nil {
		t.Error("flow state must be cleared after a successful exchange")
	}
	if !sess.Authenticated() {
		t.Error("session must be authenticated after a successful exchange")
	}
}

func TestCompleteExchangeFailure(t *testing.T) {
	as := newAuthServer(t)
	defer as.Close()

	as.tokenStatus = http.StatusBadRequest
	as.tokenBody = `{"error": "invalid_grant", "error_description": "code expired"}`

	f := testFlow(as)
	sess := &session.Session{ID: "s1"}
	if _, err := f.Begin(context.Background(), sess); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	verifier := sess.Flow.Verifier
	state := sess.Flow.State

	err := f.Complete(context.Background(), sess, CallbackParams{Code: "stale-code", State: state})

	var exchange *TokenExchangeError
	if !errors.As(err, &exchange) {
		t.Fatalf("expected *TokenExchangeError, got %v", err)
	}
	if exchange.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", exchange.StatusCode)
	}
	if !strings.Contains(string(exchange.Body), "invalid_grant") {
		t.Errorf("error must carry the raw token payload, got %q", exchange.Body)
	}
	if strings.Contains(string(exchange.Body), verifier) || strings.Contains(exchange.Error(), verifier) {
		t.Error("verifier must never surface in the exchange error")
	}
	if sess.Flow != nil {
		t.Error("flow state is single-use even on exchange failure")
	}
	if sess.Authenticated() {
		t.Error("session must not be authenticated after a failed exchange")
	}
}

func TestExpiresInFallsBackToExpiry(t *testing.T) {
	as := newAuthServer(t)
	defer as.Close()

	// No expires_in extra; the oauth2 package does not set Expiry either, so
	// the session falls back to zero.
	as.tokenBody = `{"access_token": "tok", "token_type": "Bearer", "patient": "pat-1"}`

	f := testFlow(as)
	sess := &session.Session{ID: "s1"}
	if _, err := f.Begin(context.Background(), sess); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := f.Complete(context.Background(), sess, CallbackParams{Code: "c", State: sess.Flow.State}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if sess.ExpiresIn != 0 {
		t.Errorf("expires_in should be 0 without server hint, got %d", sess.ExpiresIn)
	}
}

func TestMaskClientID(t *testing.T) {
	if got := MaskClientID("abcd1234efgh5678"); got != "abcd...5678" {
		t.Errorf("unexpected mask: %s", got)
	}
	if got := MaskClientID("short"); got != "*****" {
		t.Errorf("short ids must be fully masked, got %s", got)
	}
	if got := MaskClientID(""); got != "" {
		t.Errorf("empty id should stay empty, got %q", got)
	}
}

func TestFlowStateTimestamps(t *testing.T) {
	as := newAuthServer(t)
	defer as.Close()

	f := testFlow(as)
	sess := &session.Session{ID: "s1"}
	before := time.Now()
	if _, err := f.Begin(context.Background(), sess); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if sess.Flow.CreatedAt.Before(before.Add(-time.Second)) {
		t.Error("flow state should be stamped at creation")
	}
}
