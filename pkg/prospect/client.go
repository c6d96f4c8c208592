// Package prospect provides a client for the prospect-data HTTP API used to
// discover, verify, and enrich leads.
package prospect

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadpipe/internal/fetch"
	"github.com/sells-group/leadpipe/internal/gate"
	"github.com/sells-group/leadpipe/internal/model"
)

// Origin tags candidates surfaced by this provider.
const Origin = "prospect"

// searchResult is one row of the search API response.
type searchResult struct {
	Name       string `json:"name"`
	ProfileURL string `json:"profile_url"`
	Email      string `json:"email"`
	Company    string `json:"company"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

// profileResponse is the identity check response. Match is one of
// "exact", "partial", or "none".
type profileResponse struct {
	Exists bool   `json:"exists"`
	Match  string `json:"match"`
}

// contactResponse is the contact lookup response. Confidence is one of
// "verified", "pattern", or "unknown".
type contactResponse struct {
	Email      string `json:"email"`
	Confidence string `json:"confidence"`
}

// Option configures the prospect client.
type Option func(*Client)

// WithBaseURL sets a custom API base URL (for testing).
func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.baseURL = base
	}
}

// Client calls the prospect-data API through the rate-limited fetch client,
// so per-target pacing, retries, and circuit breaking apply to every call.
type Client struct {
	fetch   *fetch.Client
	apiKey  string
	baseURL string
}

// NewClient creates a prospect API client.
func NewClient(fc *fetch.Client, apiKey string, opts ...Option) *Client {
	c := &Client{
		fetch:   fc,
		apiKey:  apiKey,
		baseURL: "https://api.prospectdata.io",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Discover searches the prospect API and returns raw candidates.
func (c *Client) Discover(ctx context.Context, query string, limit int) ([]model.RawCandidate, error) {
	params := url.Values{}
	params.Set("q", query)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var resp searchResponse
	if err := c.getJSON(ctx, "/v1/search", params, &resp); err != nil {
		return nil, eris.Wrapf(err, "prospect: search %q", query)
	}

	candidates := make([]model.RawCandidate, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.ProfileURL == "" && r.Email == "" {
			continue
		}
		candidates = append(candidates, model.RawCandidate{
			FullName:    r.Name,
			LinkedInURL: r.ProfileURL,
			Email:       r.Email,
			Company:     r.Company,
			Origin:      Origin,
		})
	}
	return candidates, nil
}

// VerifyIdentity checks that the lead's profile answers and how strongly the
// profile matches the claimed name.
func (c *Client) VerifyIdentity(ctx context.Context, lead *model.Lead) (gate.VerifyEvidence, error) {
	if lead.LinkedInURL != "" {
		reachable, err := c.fetch.Reachable(ctx, lead.LinkedInURL)
		if err != nil {
			return gate.VerifyEvidence{}, eris.Wrapf(err, "prospect: reach %s", lead.LinkedInURL)
		}
		if !reachable {
			return gate.VerifyEvidence{Reachable: false, Signal: gate.SignalNone}, nil
		}
	}

	params := url.Values{}
	params.Set("url", lead.LinkedInURL)
	params.Set("email", lead.Email)
	params.Set("name", lead.FullName)

	var resp profileResponse
	if err := c.getJSON(ctx, "/v1/profile", params, &resp); err != nil {
		return gate.VerifyEvidence{}, eris.Wrapf(err, "prospect: verify %s", lead.ID)
	}

	ev := gate.VerifyEvidence{Reachable: resp.Exists}
	switch resp.Match {
	case "exact":
		ev.Signal = gate.SignalStrong
	case "partial":
		ev.Signal = gate.SignalWeak
	default:
		ev.Signal = gate.SignalNone
	}
	return ev, nil
}

// FindContact looks up a contact email for a verified lead.
func (c *Client) FindContact(ctx context.Context, lead *model.Lead) (gate.EnrichEvidence, error) {
	params := url.Values{}
	params.Set("profile_url", lead.LinkedInURL)
	params.Set("name", lead.FullName)
	params.Set("company", lead.Company)

	var resp contactResponse
	if err := c.getJSON(ctx, "/v1/contacts", params, &resp); err != nil {
		return gate.EnrichEvidence{}, eris.Wrapf(err, "prospect: find contact %s", lead.ID)
	}

	ev := gate.EnrichEvidence{Email: resp.Email}
	switch resp.Confidence {
	case "verified":
		ev.Confidence = model.ConfidenceVerified
	case "pattern":
		ev.Confidence = model.ConfidencePattern
	default:
		ev.Confidence = model.ConfidenceUnknown
	}
	return ev, nil
}

// getJSON performs an authenticated GET through the fetch client and decodes
// the JSON response.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	rawURL := c.baseURL + path
	if len(params) > 0 {
		rawURL += "?" + params.Encode()
	}

	resp, status, err := c.fetch.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if status < 200 || status >= 300 {
		return eris.Errorf("prospect: unexpected status %d from %s", status, path)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "prospect: read response")
	}
	return eris.Wrapf(json.Unmarshal(body, out), "prospect: decode %s", path)
}
