package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 2 * time.Second

// HTTPResolver queries a JSON geolocation provider over HTTP. The provider is
// expected to answer GET <endpoint>/<ip> with an ip-api style document.
type HTTPResolver struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

// HTTPOption configures HTTPResolver.
type HTTPOption func(*HTTPResolver)

// WithTimeout bounds a single lookup. The audit path must never wait on a
// slow provider longer than this budget.
func WithTimeout(d time.Duration) HTTPOption {
	return func(r *HTTPResolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithClient overrides the HTTP client (useful for tests).
func WithClient(c *http.Client) HTTPOption {
	return func(r *HTTPResolver) {
		if c != nil {
			r.client = c
		}
	}
}

// NewHTTPResolver constructs a resolver for the given provider base URL.
func NewHTTPResolver(endpoint string, opts ...HTTPOption) (*HTTPResolver, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("geo: endpoint is required")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("geo: invalid endpoint: %w", err)
	}
	r := &HTTPResolver{
		endpoint: endpoint,
		client:   &http.Client{},
		timeout:  defaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

type providerResponse struct {
	Status      string  `json:"status"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	Region      string  `json:"regionName"`
	City        string  `json:"city"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Timezone    string  `json:"timezone"`
}

// Resolve looks up a public IP. Private and loopback addresses resolve to the
// Local placeholder without touching the network.
func (r *HTTPResolver) Resolve(ctx context.Context, ip string) (*Location, error) {
	if IsPrivate(ip) {
		local := Local
		return &local, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/"+url.PathEscape(ip), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: provider returned %d", ErrUnavailable, resp.StatusCode)
	}
	var body providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if body.Status != "" && body.Status != "success" {
		return nil, fmt.Errorf("%w: provider status %s", ErrUnavailable, body.Status)
	}
	return &Location{
		Country:     body.Country,
		CountryCode: body.CountryCode,
		Region:      body.Region,
		City:        body.City,
		Lat:         body.Lat,
		Lon:         body.Lon,
		Timezone:    body.Timezone,
	}, nil
}
