package smart

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/Hisham-InfoGleam/smart-epic-salesforce/internal/platform/pkce"
	"github.com/Hisham-InfoGleam/smart-epic-salesforce/internal/session"
)

// FlowConfig holds the registered client's authorization parameters.
type FlowConfig struct {
	ClientID    string
	RedirectURI string
	Scopes      []string
	FHIRBaseURL string
}

// Flow orchestrates the standalone launch: endpoint discovery, the
// authorization redirect, and the code-for-token exchange. One flow at a
// time per session; Begin overwrites any in-flight flow state.
type Flow struct {
	cfg        FlowConfig
	discoverer *Discoverer
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewFlow creates a flow controller.
func NewFlow(cfg FlowConfig, discoverer *Discoverer, client *http.Client, logger zerolog.Logger) *Flow {
	if client == nil {
		client = http.DefaultClient
	}
	return &Flow{cfg: cfg, discoverer: discoverer, httpClient: client, logger: logger}
}

// CallbackParams are the query parameters the authorization server appends
// to the redirect URI.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Begin discovers the OAuth endpoints, generates fresh PKCE material and
// nonces, stores the flow state on the session, and returns the
// authorization URL to redirect the browser to.
func (f *Flow) Begin(ctx context.Context, sess *session.Session) (string, error) {
	eps, err := f.discoverer.Discover(ctx, f.cfg.FHIRBaseURL)
	if err != nil {
		return "", err
	}

	verifier, err := pkce.GenerateVerifier()
	if err != nil {
		return "", err
	}
	state, err := pkce.GenerateNonce()
	if err != nil {
		return "", err
	}
	nonce, err := pkce.GenerateNonce()
	if err != nil {
		return "", err
	}

	sess.Flow = &session.FlowState{
		Verifier:          verifier,
		State:             state,
		Nonce:             nonce,
		FHIRBaseURL:       f.cfg.FHIRBaseURL,
		AuthorizeEndpoint: eps.Authorize,
		TokenEndpoint:     eps.Token,
		CreatedAt:         time.Now(),
	}

	authURL := f.oauthConfig(eps).AuthCodeURL(state,
		oauth2.SetAuthURLParam("aud", f.cfg.FHIRBaseURL),
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("code_challenge", pkce.Challenge(verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", pkce.Method),
	)

	f.logger.Info().
		Str("authorize_endpoint", eps.Authorize).
		Str("client_id", MaskClientID(f.cfg.ClientID)).
		Msg("authorization flow started")

	return authURL, nil
}

// Complete finishes the flow for a callback. Ordering is fixed: an upstream
// error parameter terminates first, then the state check runs before any
// network call, and only then is the code exchanged. The flow state is
// single-use and cleared on every terminal path.
func (f *Flow) Complete(ctx context.Context, sess *session.Session, p CallbackParams) error {
	if p.Error != "" {
		sess.Flow = nil
		return &AuthorizationDeniedError{Code: p.Error, Description: p.ErrorDescription}
	}

	fs := sess.Flow
	if fs == nil {
		return ErrNoFlow
	}

	if p.State != fs.State {
		sess.Flow = nil
		f.logger.Warn().
			Str("fhir_base_url", fs.FHIRBaseURL).
			Msg("state mismatch on authorization callback, possible CSRF")
		return &CsrfMismatchError{}
	}

	eps := &Endpoints{Authorize: fs.AuthorizeEndpoint, Token: fs.TokenEndpoint}
	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)

	tok, err := f.oauthConfig(eps).Exchange(exchangeCtx, p.Code,
		oauth2.SetAuthURLParam("code_verifier", fs.Verifier),
	)
	sess.Flow = nil
	if err != nil {
		exchangeErr := &TokenExchangeError{Err: err}
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			if rerr.Response != nil {
				exchangeErr.StatusCode = rerr.Response.StatusCode
			}
			exchangeErr.Body = rerr.Body
		}
		return exchangeErr
	}

	sess.AccessToken = tok.AccessToken
	sess.RefreshToken = tok.RefreshToken
	sess.TokenType = tok.TokenType
	sess.PatientID = extraString(tok, "patient")
	sess.Scope = extraString(tok, "scope")
	sess.FHIRBaseURL = fs.FHIRBaseURL
	sess.ExpiresIn = expiresIn(tok)
	sess.FHIRUser = fhirUserFromIDToken(extraString(tok, "id_token"))
	sess.DemoMode = false
	sess.ClearDiagnostics()

	f.logger.Info().
		Str("patient", sess.PatientID).
		Str("token_type", sess.TokenType).
		Int("expires_in", sess.ExpiresIn).
		Msg("token exchange complete")

	return nil
}

// oauthConfig builds the oauth2 client config for the resolved endpoints.
// Public SMART clients authenticate by PKCE alone, so the client_id travels
// in the request body rather than a basic-auth header.
func (f *Flow) oauthConfig(eps *Endpoints) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    f.cfg.ClientID,
		RedirectURL: f.cfg.RedirectURI,
		Scopes:      f.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   eps.Authorize,
			TokenURL:  eps.Token,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func extraString(tok *oauth2.Token, key string) string {
	v, _ := tok.Extra(key).(string)
	return v
}

// expiresIn prefers the server-reported expires_in and falls back to the
// computed expiry.
func expiresIn(tok *oauth2.Token) int {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	if !tok.Expiry.IsZero() {
		return int(time.Until(tok.Expiry).Seconds())
	}
	return 0
}

// fhirUserFromIDToken pulls the fhirUser (or profile) claim out of an
// id_token without verifying the signature. The value is advisory display
// context only; authorization rests on the state check and PKCE.
func fhirUserFromIDToken(idToken string) string {
	if idToken == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return ""
	}
	if v, ok := claims["fhirUser"].(string); ok {
		return v
	}
	if v, ok := claims["profile"].(string); ok {
		return v
	}
	return ""
}

// MaskClientID truncates a client identifier to first4...last4 so that
// logs and diagnostic surfaces never expose the full value.
func MaskClientID(id string) string {
	if len(id) <= 8 {
		return strings.Repeat("*", len(id))
	}
	return id[:4] + "..." + id[len(id)-4:]
}
