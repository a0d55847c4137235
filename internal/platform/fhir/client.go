package fhir

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Hisham-InfoGleam/smart-epic-salesforce/internal/platform/smart"
	"github.com/Hisham-InfoGleam/smart-epic-salesforce/internal/session"
)

// Resource types the fetcher knows how to query.
const (
	ResourcePatient           = "Patient"
	ResourceObservation       = "Observation"
	ResourceCondition         = "Condition"
	ResourceMedicationRequest = "MedicationRequest"
)

// diagnosticsLabels maps a resource type to its key in the session's
// provider-error record.
var diagnosticsLabels = map[string]string{
	ResourcePatient:           "patient",
	ResourceObservation:       "observations",
	ResourceCondition:         "conditions",
	ResourceMedicationRequest: "medications",
}

// FetchResult is the outcome of one aggregated fetch: the bundle to return
// to the caller plus the bookkeeping the handler folds back into the
// session in one step.
type FetchResult struct {
	Bundle   *Bundle
	Label    string
	Outcomes []session.CategoryOutcome
	Trace    []session.TraceEntry
}

// Fetcher issues authenticated FHIR queries for an authorized session,
// tolerating per-category failure.
type Fetcher struct {
	client     *http.Client
	categories []string
	logger     zerolog.Logger
}

// NewFetcher creates a Fetcher. categories is the ordered Observation
// category list; results are concatenated in this order.
func NewFetcher(client *http.Client, categories []string, logger zerolog.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if len(categories) == 0 {
		categories = []string{"laboratory", "vital-signs"}
	}
	return &Fetcher{client: client, categories: categories, logger: logger}
}

// subQuery is one independent provider call within a fetch.
type subQuery struct {
	category string
	url      string
}

// subResult accumulates the outcome of one subQuery.
type subResult struct {
	category string
	status   int
	entries  []BundleEntry
	diags    []string
	failed   bool
	trace    session.TraceEntry
}

// Fetch returns a normalized searchset bundle for the resource type. Every
// sub-query is attempted; a failing category never aborts its siblings, and
// the aggregate is returned even when all categories fail. An
// ErrNotAuthenticated is the only error path.
func (f *Fetcher) Fetch(ctx context.Context, sess *session.Session, resourceType string) (*FetchResult, error) {
	label, ok := diagnosticsLabels[resourceType]
	if !ok {
		return nil, fmt.Errorf("unsupported resource type %q", resourceType)
	}
	if !sess.Authenticated() {
		return nil, smart.ErrNotAuthenticated
	}
	if sess.DemoMode {
		return &FetchResult{Bundle: demoBundle(resourceType), Label: label}, nil
	}

	queries := f.buildQueries(sess, resourceType)

	// Fan out one goroutine per category and join all of them; there is no
	// early cancellation, a slow category delays the aggregate.
	results := make([]subResult, len(queries))
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q subQuery) {
			defer wg.Done()
			results[i] = f.run(ctx, sess, resourceType, q)
		}(i, q)
	}
	wg.Wait()

	res := &FetchResult{Label: label}
	var entries []BundleEntry
	var allDiags []string
	for _, r := range results {
		entries = append(entries, r.entries...)
		allDiags = append(allDiags, r.diags...)
		res.Trace = append(res.Trace, r.trace)
		if r.failed {
			res.Outcomes = append(res.Outcomes, session.CategoryOutcome{
				Category:    r.category,
				HTTPStatus:  r.status,
				Diagnostics: r.diags,
			})
		}
	}

	res.Bundle = NewSearchBundle(entries)
	if len(entries) == 0 {
		res.Bundle.Note = advisoryNote(allDiags)
	}
	return res, nil
}

// buildQueries returns the ordered sub-queries for a resource type. Only
// Observation fans out across categories; the upstream server partitions
// entitlement and data by category, so an unscoped query may be rejected or
// silently incomplete.
func (f *Fetcher) buildQueries(sess *session.Session, resourceType string) []subQuery {
	base := strings.TrimRight(sess.FHIRBaseURL, "/")

	switch resourceType {
	case ResourcePatient:
		return []subQuery{{
			category: ResourcePatient,
			url:      base + "/Patient/" + url.PathEscape(sess.PatientID),
		}}
	case ResourceObservation:
		queries := make([]subQuery, 0, len(f.categories))
		for _, c := range f.categories {
			q := url.Values{}
			q.Set("patient", sess.PatientID)
			q.Set("category", c)
			queries = append(queries, subQuery{
				category: c,
				url:      base + "/Observation?" + q.Encode(),
			})
		}
		return queries
	default:
		q := url.Values{}
		q.Set("patient", sess.PatientID)
		return []subQuery{{
			category: resourceType,
			url:      base + "/" + resourceType + "?" + q.Encode(),
		}}
	}
}

// run executes one sub-query and classifies the response. A 200 body whose
// entries carry embedded OperationOutcome resources still counts as a soft
// failure for diagnostic purposes, matching how the upstream reports
// category-level entitlement problems inside successful responses.
func (f *Fetcher) run(ctx context.Context, sess *session.Session, resourceType string, q subQuery) subResult {
	r := subResult{category: q.category}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.url, nil)
	if err != nil {
		r.failed = true
		r.diags = []string{err.Error()}
		return r
	}
	tokenType := sess.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	req.Header.Set("Authorization", tokenType+" "+sess.AccessToken)
	req.Header.Set("Accept", "application/fhir+json")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn().Err(err).Str("category", q.category).Msg("provider request failed")
		r.failed = true
		r.diags = []string{"provider request failed: " + err.Error()}
		r.trace = session.TraceEntry{
			Time:     start,
			Method:   http.MethodGet,
			URL:      q.url,
			Category: q.category,
		}
		return r
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	r.status = resp.StatusCode
	r.trace = session.TraceEntry{
		Time:     start,
		Method:   http.MethodGet,
		URL:      q.url,
		Status:   resp.StatusCode,
		Category: q.category,
		Headers:  RedactHeaders(resp.Header),
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		r.failed = true
		if diags := ExtractDiagnostics(body); diags != nil {
			r.diags = diags
		} else {
			r.diags = []string{fmt.Sprintf("provider returned status %d", resp.StatusCode)}
		}
		f.logger.Warn().
			Int("status", resp.StatusCode).
			Str("category", q.category).
			Strs("diagnostics", r.diags).
			Msg("provider rejected category query")
		return r
	}

	if resourceType == ResourcePatient {
		f.classifyRead(&r, body)
	} else {
		f.classifySearch(&r, resourceType, body)
	}
	return r
}

// classifyRead handles a direct resource read, where the body is the
// resource itself rather than a bundle.
func (f *Fetcher) classifyRead(r *subResult, body []byte) {
	switch resourceType(body) {
	case ResourcePatient:
		r.entries = []BundleEntry{{Resource: body, Search: &BundleSearch{Mode: "match"}}}
	case "OperationOutcome":
		r.failed = true
		r.diags = ExtractDiagnostics(body)
	default:
		r.failed = true
		r.diags = []string{"provider returned an unrecognized payload"}
	}
}

// classifySearch filters a searchset body down to entries of the requested
// type. Embedded OperationOutcome entries are dropped from the result but
// their diagnostics are kept.
func (f *Fetcher) classifySearch(r *subResult, want string, body []byte) {
	var bundle Bundle
	if err := json.Unmarshal(body, &bundle); err != nil {
		r.failed = true
		r.diags = []string{"malformed provider response: " + err.Error()}
		return
	}

	for _, entry := range bundle.Entry {
		switch resourceType(entry.Resource) {
		case want:
			r.entries = append(r.entries, entry)
		case "OperationOutcome":
			if diags := ExtractDiagnostics(entry.Resource); diags != nil {
				r.failed = true
				r.diags = append(r.diags, diags...)
			}
		}
	}
}

// advisoryNote builds the human-readable caveat attached to an empty
// bundle. Not-authorized diagnostics become a targeted remediation message;
// anything else is surfaced as-is.
func advisoryNote(diags []string) string {
	if len(diags) == 0 {
		return ""
	}
	if targets := ExtractNotAuthorizedTargets(diags); len(targets) > 0 {
		return fmt.Sprintf(
			"The provider declined part of this request. Ask your administrator to enable: %s.",
			strings.Join(targets, ", "))
	}
	return strings.Join(diags, "; ")
}
