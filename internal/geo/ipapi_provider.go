package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultIPAPIURL      = "http://ip-api.com"
	DefaultLookupTimeout = 5 * time.Second
	maxResponseBytes     = 64 << 10
)

var ErrLookupFailed = errors.New("geo: lookup failed")

// IPAPIProvider queries the ip-api.com JSON endpoint.
type IPAPIProvider struct {
	baseURL string
	client  *http.Client
}

func NewIPAPIProvider(baseURL string, timeout time.Duration) *IPAPIProvider {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultIPAPIURL
	}
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &IPAPIProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type ipAPIResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
	Country *string  `json:"country"`
	City    *string  `json:"city"`
	ISP     *string  `json:"isp"`
}

func (p *IPAPIProvider) Lookup(ctx context.Context, ip string) (Location, error) {
	endpoint := p.baseURL + "/json/" + url.PathEscape(ip)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Location{}, fmt.Errorf("geo: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("geo: request %s: %w", ip, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("%w: %s returned HTTP %d", ErrLookupFailed, ip, resp.StatusCode)
	}

	var payload ipAPIResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return Location{}, fmt.Errorf("geo: decode response for %s: %w", ip, err)
	}

	if payload.Status != "success" {
		return Location{}, fmt.Errorf("%w: %s status %q %s", ErrLookupFailed, ip, payload.Status, payload.Message)
	}
	if payload.Lat == nil || payload.Lon == nil || payload.Country == nil || payload.City == nil || payload.ISP == nil {
		return Location{}, fmt.Errorf("%w: %s response missing fields", ErrLookupFailed, ip)
	}

	return Location{
		Lat:     *payload.Lat,
		Lon:     *payload.Lon,
		Country: *payload.Country,
		City:    *payload.City,
		ISP:     *payload.ISP,
	}, nil
}
