// Package maps is a thin client for the Google Places API (v1), used to geocode free-text event
// locations that the alias table does not know yet.
package maps

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/catermatch-backend/pkg/errors"
)

const (
	defaultBaseURL = "https://places.googleapis.com/v1"
	defaultTimeout = 10 * time.Second
	errorBodyLimit = 4 << 10

	searchFieldMask = "places.id,places.formattedAddress,places.location,places.addressComponents"
	placeFieldMask  = "id,formattedAddress,location,addressComponents"
)

var errAPIKeyRequired = errors.New("google maps api key is required")

type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithBaseURL(base string) Option {
	return func(c *Client) {
		if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
			c.baseURL = base
		}
	}
}

func NewClient(apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	c := &Client{
		http:    &http.Client{Timeout: defaultTimeout},
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// SearchTextRequest is the places:searchText payload.
type SearchTextRequest struct {
	TextQuery    string `json:"textQuery"`
	RegionCode   string `json:"regionCode,omitempty"`
	LanguageCode string `json:"languageCode,omitempty"`
	PageSize     int    `json:"pageSize,omitempty"`
}

// SearchText geocodes free text into candidate places, best match first.
func (c *Client) SearchText(ctx context.Context, req SearchTextRequest) ([]PlaceDetails, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "google maps client not configured")
	}
	req.TextQuery = strings.TrimSpace(req.TextQuery)
	if req.TextQuery == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "search text is required")
	}
	var out struct {
		Places []apiPlace `json:"places"`
	}
	if err := c.call(ctx, http.MethodPost, "places:searchText", searchFieldMask, req, &out); err != nil {
		return nil, err
	}
	places := make([]PlaceDetails, 0, len(out.Places))
	for _, p := range out.Places {
		places = append(places, p.details())
	}
	return places, nil
}

// ResolvePlace fetches one place by id. An unknown id is reported as CodeNotFound.
func (c *Client) ResolvePlace(ctx context.Context, placeID string) (*PlaceDetails, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "google maps client not configured")
	}
	placeID = strings.TrimSpace(placeID)
	if placeID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "place ID is required")
	}
	var out apiPlace
	if err := c.call(ctx, http.MethodGet, "places/"+url.PathEscape(placeID), placeFieldMask, nil, &out); err != nil {
		return nil, err
	}
	details := out.details()
	return &details, nil
}

// call performs one Places request and decodes a 200 body into out. Non-200 answers are
// translated into typed errors carrying Google's own status string.
func (c *Client) call(ctx context.Context, method, path, fieldMask string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode places request")
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build places request")
	}
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return pkgerrors.Wrap(pkgerrors.CodeTimeout, err, "places request timed out")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "places request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode places response")
	}
	return nil
}

// apiError is Google's standard error envelope.
type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	detail := strings.TrimSpace(string(raw))
	var envelope apiError
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
		detail = envelope.Error.Status + ": " + envelope.Error.Message
	}
	cause := fmt.Errorf("places status %d: %s", resp.StatusCode, detail)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, cause, "place not found")
	case resp.StatusCode == http.StatusTooManyRequests:
		return pkgerrors.Wrap(pkgerrors.CodeRateLimit, cause, "places quota exhausted")
	case resp.StatusCode == http.StatusBadRequest:
		return pkgerrors.Wrap(pkgerrors.CodeValidation, cause, "places rejected the request")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, cause, "places request failed")
	}
}
