// Package smart implements the client side of the SMART App Launch
// Framework: OAuth endpoint discovery and the authorization code flow with
// PKCE against an upstream FHIR authorization server.
package smart

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// OAuthURIsExtension is the CapabilityStatement security extension that
// carries OAuth endpoints on servers without a well-known SMART
// configuration document.
const OAuthURIsExtension = "http://fhir-registry.smarthealthit.org/StructureDefinition/oauth-uris"

// Endpoints are the resolved OAuth endpoints for a FHIR server.
type Endpoints struct {
	Authorize string
	Token     string
}

// smartConfiguration is the subset of the SMART well-known document this
// client reads.
type smartConfiguration struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
}

// capabilityStatement models just the security extension path of a FHIR
// CapabilityStatement.
type capabilityStatement struct {
	Rest []struct {
		Security struct {
			Extension []capabilityExtension `json:"extension"`
		} `json:"security"`
	} `json:"rest"`
}

type capabilityExtension struct {
	URL       string                `json:"url"`
	ValueURI  string                `json:"valueUri,omitempty"`
	Extension []capabilityExtension `json:"extension,omitempty"`
}

// Discoverer resolves the authorization and token endpoints for a FHIR base
// URL. SMART configuration discovery is optional per spec, so the
// capability statement extension path is kept as a fallback.
type Discoverer struct {
	client *http.Client
	logger zerolog.Logger
}

// NewDiscoverer creates a Discoverer using the given HTTP client.
func NewDiscoverer(client *http.Client, logger zerolog.Logger) *Discoverer {
	if client == nil {
		client = http.DefaultClient
	}
	return &Discoverer{client: client, logger: logger}
}

// Discover resolves both OAuth endpoints for fhirBaseURL. The well-known
// document wins when it yields both endpoints; any failure there falls back
// to the capability statement. When neither source works the returned error
// is a *DiscoveryError.
func (d *Discoverer) Discover(ctx context.Context, fhirBaseURL string) (*Endpoints, error) {
	eps, wkErr := d.fromWellKnown(ctx, fhirBaseURL)
	if wkErr == nil {
		return eps, nil
	}
	d.logger.Debug().Err(wkErr).Str("fhir_base_url", fhirBaseURL).
		Msg("smart-configuration unavailable, trying capability statement")

	eps, capErr := d.fromCapability(ctx, fhirBaseURL)
	if capErr == nil {
		return eps, nil
	}

	return nil, &DiscoveryError{
		FHIRBaseURL: fhirBaseURL,
		Err:         fmt.Errorf("well-known: %v; capability statement: %w", wkErr, capErr),
	}
}

func (d *Discoverer) fromWellKnown(ctx context.Context, base string) (*Endpoints, error) {
	url := strings.TrimRight(base, "/") + "/.well-known/smart-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var cfg smartConfiguration
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, fmt.Errorf("malformed smart-configuration: %w", err)
	}
	if cfg.AuthorizationEndpoint == "" || cfg.TokenEndpoint == "" {
		return nil, fmt.Errorf("smart-configuration missing endpoints")
	}

	return &Endpoints{Authorize: cfg.AuthorizationEndpoint, Token: cfg.TokenEndpoint}, nil
}

func (d *Discoverer) fromCapability(ctx context.Context, base string) (*Endpoints, error) {
	url := strings.TrimRight(base, "/") + "/metadata"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/fhir+json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	var cap capabilityStatement
	if err := json.Unmarshal(body, &cap); err != nil {
		return nil, fmt.Errorf("malformed capability statement: %w", err)
	}

	for _, rest := range cap.Rest {
		for _, ext := range rest.Security.Extension {
			if ext.URL != OAuthURIsExtension {
				continue
			}
			eps := &Endpoints{}
			for _, sub := range ext.Extension {
				switch sub.URL {
				case "authorize":
					eps.Authorize = sub.ValueURI
				case "token":
					eps.Token = sub.ValueURI
				}
			}
			if eps.Authorize != "" && eps.Token != "" {
				return eps, nil
			}
		}
	}

	return nil, fmt.Errorf("no oauth-uris security extension")
}
