package fhir

import (
	"encoding/json"
	"net/http"
	"regexp"
)

// ExtractDiagnostics parses an error payload as a FHIR OperationOutcome and
// returns its issue diagnostic strings in order, preferring the diagnostics
// field and falling back to details.text. Payloads that are not a
// recognized OperationOutcome (malformed JSON included) yield nil.
func ExtractDiagnostics(payload []byte) []string {
	var outcome OperationOutcome
	if err := json.Unmarshal(payload, &outcome); err != nil {
		return nil
	}
	if outcome.ResourceType != "OperationOutcome" {
		return nil
	}

	var diags []string
	for _, issue := range outcome.Issue {
		switch {
		case issue.Diagnostics != "":
			diags = append(diags, issue.Diagnostics)
		case issue.Details != nil && issue.Details.Text != "":
			diags = append(diags, issue.Details.Text)
		}
	}
	return diags
}

// notAuthorizedRe matches the fixed phrase Epic-style servers embed in
// OperationOutcome diagnostics when a client lacks an API entitlement,
// e.g. "Client not authorized for Observation.read."
var notAuthorizedRe = regexp.MustCompile(`Client not authorized for ([^\s.]+(?:\.[^\s.]+)*)\.`)

// ExtractNotAuthorizedTargets scans diagnostic strings for the "Client not
// authorized for X." phrase and returns the distinct X values in first-seen
// order. Strings without the phrase are ignored.
func ExtractNotAuthorizedTargets(diagnostics []string) []string {
	seen := make(map[string]bool)
	var targets []string
	for _, d := range diagnostics {
		for _, m := range notAuthorizedRe.FindAllStringSubmatch(d, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				targets = append(targets, m[1])
			}
		}
	}
	return targets
}

// tracedHeaders is the allow-list of response header names retained in the
// provider trace. Everything else, notably Set-Cookie and anything
// authorization-bearing, is dropped.
var tracedHeaders = map[string]bool{
	"Content-Type":     true,
	"Content-Length":   true,
	"Content-Encoding": true,
	"Cache-Control":    true,
	"Date":             true,
	"Etag":             true,
	"Expires":          true,
	"Last-Modified":    true,
	"Vary":             true,
	"X-Request-Id":     true,
	"X-Correlation-Id": true,
	"Epic-Trace-Id":    true,
	"Www-Authenticate": true,
	"Retry-After":      true,
}

// RedactHeaders returns only the allow-listed subset of headers, suitable
// for storing in the session's provider trace.
func RedactHeaders(h http.Header) map[string]string {
	out := make(map[string]string)
	for name, values := range h {
		if tracedHeaders[http.CanonicalHeaderKey(name)] && len(values) > 0 {
			out[http.CanonicalHeaderKey(name)] = values[0]
		}
	}
	return out
}
