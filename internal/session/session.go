// Package session holds the per-browser session model and its pluggable
// keyed stores. A session owns the in-flight authorization material before
// token exchange and the token/patient context afterwards; nothing in here
// is ever visible across session keys.
package session

import "time"

// FlowState is the short-lived authorization material created at launch and
// consumed at callback. The verifier never leaves the server.
type FlowState struct {
	Verifier          string    `json:"verifier"`
	State             string    `json:"state"`
	Nonce             string    `json:"nonce"`
	FHIRBaseURL       string    `json:"fhirBaseUrl"`
	AuthorizeEndpoint string    `json:"authorizeEndpoint"`
	TokenEndpoint     string    `json:"tokenEndpoint"`
	CreatedAt         time.Time `json:"createdAt"`
}

// CategoryOutcome records the result of one provider sub-query. For
// Observation fetches the category is the FHIR category code; other
// resource types use a single pseudo-category named after the resource.
type CategoryOutcome struct {
	Category    string   `json:"category"`
	HTTPStatus  int      `json:"httpStatus"`
	Diagnostics []string `json:"diagnosticMessages,omitempty"`
}

// TraceEntry is one sanitized record of an upstream provider call. Headers
// are already redacted to the trace allow-list before a TraceEntry is built.
type TraceEntry struct {
	Time     time.Time         `json:"time"`
	Method   string            `json:"method"`
	URL      string            `json:"url"`
	Status   int               `json:"status"`
	Category string            `json:"category,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// maxTraceEntries bounds the provider trace kept per session.
const maxTraceEntries = 25

// Session is the per-browser record created at successful token exchange
// (or immediately in demo mode) and destroyed on logout or expiry.
type Session struct {
	ID           string     `json:"id"`
	AccessToken  string     `json:"accessToken,omitempty"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	TokenType    string     `json:"tokenType,omitempty"`
	ExpiresIn    int        `json:"expiresIn,omitempty"`
	Scope        string     `json:"scope,omitempty"`
	PatientID    string     `json:"patientId,omitempty"`
	FHIRUser     string     `json:"fhirUser,omitempty"`
	FHIRBaseURL  string     `json:"fhirBaseUrl,omitempty"`
	DemoMode     bool       `json:"demoMode,omitempty"`
	Flow         *FlowState `json:"flow,omitempty"`

	LastProviderErrors map[string][]CategoryOutcome `json:"lastProviderErrors,omitempty"`
	LastProviderTrace  []TraceEntry                 `json:"lastProviderTrace,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy safe to hand to another goroutine. The
// provider-error map, trace slice, and flow state are copied, never
// aliased; a shallow struct copy would share the map with the stored
// session and race against concurrent RecordOutcomes writes.
func (s *Session) Clone() *Session {
	copied := *s
	if s.Flow != nil {
		fs := *s.Flow
		copied.Flow = &fs
	}
	if s.LastProviderErrors != nil {
		m := make(map[string][]CategoryOutcome, len(s.LastProviderErrors))
		for k, v := range s.LastProviderErrors {
			outcomes := make([]CategoryOutcome, len(v))
			copy(outcomes, v)
			m[k] = outcomes
		}
		copied.LastProviderErrors = m
	}
	if s.LastProviderTrace != nil {
		copied.LastProviderTrace = append([]TraceEntry(nil), s.LastProviderTrace...)
	}
	return &copied
}

// Authenticated reports whether the session holds an access token.
func (s *Session) Authenticated() bool {
	return s != nil && s.AccessToken != ""
}

// RecordOutcomes assigns the accumulated outcomes for one resource label in
// a single step. Sibling resource keys are left untouched.
func (s *Session) RecordOutcomes(resource string, outcomes []CategoryOutcome) {
	if s.LastProviderErrors == nil {
		s.LastProviderErrors = make(map[string][]CategoryOutcome)
	}
	s.LastProviderErrors[resource] = outcomes
}

// AppendTrace appends provider trace entries, keeping only the most recent
// maxTraceEntries.
func (s *Session) AppendTrace(entries ...TraceEntry) {
	s.LastProviderTrace = append(s.LastProviderTrace, entries...)
	if n := len(s.LastProviderTrace); n > maxTraceEntries {
		s.LastProviderTrace = s.LastProviderTrace[n-maxTraceEntries:]
	}
}

// ClearDiagnostics drops any provider error/trace bookkeeping, used when a
// fresh token exchange succeeds.
func (s *Session) ClearDiagnostics() {
	s.LastProviderErrors = nil
	s.LastProviderTrace = nil
}
