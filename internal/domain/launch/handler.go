// Package launch owns the browser-facing authorization endpoints: starting
// the SMART standalone launch, completing the callback, demo-mode seeding,
// and logout.
package launch

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Hisham-InfoGleam/smart-epic-salesforce/internal/platform/fhir"
	"github.com/Hisham-InfoGleam/smart-epic-salesforce/internal/platform/smart"
	"github.com/Hisham-InfoGleam/smart-epic-salesforce/internal/session"
)

// errorResponse is the structured JSON body returned when the
// authorization flow terminates with an error.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	Hint             string `json:"hint,omitempty"`
}

type Handler struct {
	flow          *smart.Flow
	store         session.Store
	dashboardPath string
	demoEnabled   bool
	logger        zerolog.Logger
}

func NewHandler(flow *smart.Flow, store session.Store, dashboardPath string, demoEnabled bool, logger zerolog.Logger) *Handler {
	if dashboardPath == "" {
		dashboardPath = "/"
	}
	return &Handler{
		flow:          flow,
		store:         store,
		dashboardPath: dashboardPath,
		demoEnabled:   demoEnabled,
		logger:        logger,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/launch", h.Launch)
	e.GET("/callback", h.Callback)
	e.GET("/demo", h.Demo)
	e.GET("/logout", h.Logout)
}

// Launch starts a fresh authorization flow and redirects the browser to
// the authorization server. Any in-flight flow for this session is
// overwritten.
func (h *Handler) Launch(c echo.Context) error {
	ctx := c.Request().Context()
	id := session.IDFromContext(c)

	sess, err := h.store.Get(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		sess = &session.Session{ID: id}
	} else if err != nil {
		return err
	}

	authURL, err := h.flow.Begin(ctx, sess)
	if err != nil {
		var derr *smart.DiscoveryError
		if errors.As(err, &derr) {
			return c.JSON(http.StatusBadGateway, errorResponse{
				Error:            "discovery_failed",
				ErrorDescription: "could not resolve the authorization endpoints for the configured FHIR server",
				Hint:             "verify FHIR_BASE_URL points at a SMART-enabled FHIR server",
			})
		}
		return err
	}

	if err := h.store.Put(ctx, sess); err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, authURL)
}

// Callback completes the flow. Success redirects to the dashboard; every
// failure path returns a structured JSON error.
func (h *Handler) Callback(c echo.Context) error {
	ctx := c.Request().Context()
	id := session.IDFromContext(c)

	params := smart.CallbackParams{
		Code:             c.QueryParam("code"),
		State:            c.QueryParam("state"),
		Error:            c.QueryParam("error"),
		ErrorDescription: c.QueryParam("error_description"),
	}

	sess, err := h.store.Get(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Error:            "no_flow",
			ErrorDescription: "no authorization flow is in progress for this session",
			Hint:             "start again from /launch",
		})
	} else if err != nil {
		return err
	}

	flowErr := h.flow.Complete(ctx, sess, params)

	// The flow state is consumed on every terminal path; persist that (and
	// the tokens on success) before responding.
	if err := h.store.Put(ctx, sess); err != nil {
		return err
	}

	if flowErr == nil {
		return c.Redirect(http.StatusFound, h.dashboardPath)
	}
	return h.flowError(c, flowErr)
}

func (h *Handler) flowError(c echo.Context, err error) error {
	var denied *smart.AuthorizationDeniedError
	if errors.As(err, &denied) {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Error:            "authorization_denied",
			ErrorDescription: denied.Description,
			Hint:             "the authorization server or the user declined the request",
		})
	}

	var csrf *smart.CsrfMismatchError
	if errors.As(err, &csrf) {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Error:            "state_mismatch",
			ErrorDescription: "the state returned by the authorization server does not match this session",
			Hint:             "start again from /launch",
		})
	}

	if errors.Is(err, smart.ErrNoFlow) {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Error:            "no_flow",
			ErrorDescription: "no authorization flow is in progress for this session",
			Hint:             "start again from /launch",
		})
	}

	var exchange *smart.TokenExchangeError
	if errors.As(err, &exchange) {
		return c.JSON(http.StatusBadGateway, errorResponse{
			Error:            "token_exchange_failed",
			ErrorDescription: exchangeDescription(exchange),
			Hint:             "the authorization server rejected the code exchange",
		})
	}

	return err
}

// exchangeDescription pulls the server's own error fields out of the raw
// token error payload when it is standard OAuth JSON.
func exchangeDescription(e *smart.TokenExchangeError) string {
	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if json.Unmarshal(e.Body, &payload) == nil && payload.Error != "" {
		if payload.ErrorDescription != "" {
			return payload.Error + ": " + payload.ErrorDescription
		}
		return payload.Error
	}
	if len(e.Body) > 0 && len(e.Body) <= 512 {
		return string(e.Body)
	}
	return "token endpoint returned an unreadable error payload"
}

// Demo seeds the session with a synthetic token and patient, bypassing the
// OAuth flow entirely.
func (h *Handler) Demo(c echo.Context) error {
	if !h.demoEnabled {
		return echo.NewHTTPError(http.StatusNotFound, "demo mode is disabled")
	}

	ctx := c.Request().Context()
	sess := &session.Session{
		ID:          session.IDFromContext(c),
		AccessToken: "demo-" + uuid.NewString(),
		TokenType:   "Bearer",
		PatientID:   fhir.DemoPatientID,
		ExpiresIn:   int(time.Hour.Seconds()),
		Scope:       "patient/Patient.read patient/Observation.read patient/Condition.read patient/MedicationRequest.read",
		DemoMode:    true,
	}
	if err := h.store.Put(ctx, sess); err != nil {
		return err
	}

	h.logger.Info().Str("patient", sess.PatientID).Msg("demo session seeded")
	return c.Redirect(http.StatusFound, h.dashboardPath)
}

// Logout destroys the session and sends the browser home.
func (h *Handler) Logout(c echo.Context) error {
	id := session.IDFromContext(c)
	if err := h.store.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	c.SetCookie(&http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	return c.Redirect(http.StatusFound, "/")
}
