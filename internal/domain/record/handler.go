// Package record serves the patient-facing JSON API backed by the
// authorized session: FHIR resource bundles, session introspection, and
// the sanitized provider diagnostics view.
package record

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Hisham-InfoGleam/smart-epic-salesforce/internal/platform/fhir"
	"github.com/Hisham-InfoGleam/smart-epic-salesforce/internal/platform/smart"
	"github.com/Hisham-InfoGleam/smart-epic-salesforce/internal/session"
)

type Handler struct {
	fetcher  *fhir.Fetcher
	store    session.Store
	clientID string
	logger   zerolog.Logger
}

func NewHandler(fetcher *fhir.Fetcher, store session.Store, clientID string, logger zerolog.Logger) *Handler {
	return &Handler{fetcher: fetcher, store: store, clientID: clientID, logger: logger}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api")
	api.GET("/patient", h.Patient)
	api.GET("/observations", h.Observations)
	api.GET("/conditions", h.Conditions)
	api.GET("/medications", h.Medications)
	api.GET("/session", h.Session)
	api.GET("/debug/epic", h.Debug)
}

func (h *Handler) Patient(c echo.Context) error {
	return h.resource(c, fhir.ResourcePatient)
}

func (h *Handler) Observations(c echo.Context) error {
	return h.resource(c, fhir.ResourceObservation)
}

func (h *Handler) Conditions(c echo.Context) error {
	return h.resource(c, fhir.ResourceCondition)
}

func (h *Handler) Medications(c echo.Context) error {
	return h.resource(c, fhir.ResourceMedicationRequest)
}

// resource runs an aggregated fetch and folds the diagnostic bookkeeping
// back into the session in one update. Category failures have already been
// degraded to an advisory bundle by the fetcher, so anything short of a
// missing token answers 200.
func (h *Handler) resource(c echo.Context, resourceType string) error {
	ctx := c.Request().Context()
	id := session.IDFromContext(c)

	sess, err := h.store.Get(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return notAuthenticated(c)
	} else if err != nil {
		return err
	}

	res, err := h.fetcher.Fetch(ctx, sess, resourceType)
	if errors.Is(err, smart.ErrNotAuthenticated) {
		return notAuthenticated(c)
	} else if err != nil {
		return err
	}

	if !sess.DemoMode {
		if _, uerr := h.store.Update(ctx, id, func(s *session.Session) {
			s.RecordOutcomes(res.Label, res.Outcomes)
			s.AppendTrace(res.Trace...)
		}); uerr != nil {
			h.logger.Warn().Err(uerr).Str("resource", res.Label).
				Msg("failed to record provider diagnostics")
		}
	}

	return c.JSON(http.StatusOK, res.Bundle)
}

// sessionInfo is the /api/session response body.
type sessionInfo struct {
	PatientID     string `json:"patientId"`
	FHIRBaseURL   string `json:"fhirBaseUrl"`
	ExpiresIn     int    `json:"expiresIn"`
	Authenticated bool   `json:"authenticated"`
	DemoMode      bool   `json:"demoMode"`
	GrantedScope  string `json:"grantedScope"`
	FHIRUser      string `json:"fhirUser,omitempty"`
}

func (h *Handler) Session(c echo.Context) error {
	sess, ok := h.authedSession(c)
	if !ok {
		return notAuthenticated(c)
	}
	return c.JSON(http.StatusOK, sessionInfo{
		PatientID:     sess.PatientID,
		FHIRBaseURL:   sess.FHIRBaseURL,
		ExpiresIn:     sess.ExpiresIn,
		Authenticated: true,
		DemoMode:      sess.DemoMode,
		GrantedScope:  sess.Scope,
		FHIRUser:      sess.FHIRUser,
	})
}

// debugInfo is the sanitized diagnostics view. Tokens never appear here;
// the client id is masked.
type debugInfo struct {
	PatientID          string                               `json:"patientId"`
	FHIRBaseURL        string                               `json:"fhirBaseUrl"`
	GrantedScope       string                               `json:"grantedScope"`
	ClientID           string                               `json:"clientId"`
	LastProviderErrors map[string][]session.CategoryOutcome `json:"lastProviderErrors"`
	LastProviderTrace  []session.TraceEntry                 `json:"lastProviderTrace"`
}

func (h *Handler) Debug(c echo.Context) error {
	sess, ok := h.authedSession(c)
	if !ok {
		return notAuthenticated(c)
	}
	return c.JSON(http.StatusOK, debugInfo{
		PatientID:          sess.PatientID,
		FHIRBaseURL:        sess.FHIRBaseURL,
		GrantedScope:       sess.Scope,
		ClientID:           smart.MaskClientID(h.clientID),
		LastProviderErrors: sess.LastProviderErrors,
		LastProviderTrace:  sess.LastProviderTrace,
	})
}

func (h *Handler) authedSession(c echo.Context) (*session.Session, bool) {
	sess, err := h.store.Get(c.Request().Context(), session.IDFromContext(c))
	if err != nil || !sess.Authenticated() {
		return nil, false
	}
	return sess, true
}

func notAuthenticated(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Not authenticated"})
}
