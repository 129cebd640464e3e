package openelevation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/twpayne/go-heightmap"
)

const DefaultBaseURL = "https://api.open-elevation.com"

// A Client is an Open-Elevation client. It implements
// heightmap.ElevationService.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
}

// A ClientOption sets an option on a Client.
type ClientOption func(*Client)

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// NewClient returns a new Client.
func NewClient(options ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    DefaultBaseURL,
		userAgent:  "go-heightmap",
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Elevations implements heightmap.ElevationService. Non-success responses
// are returned as *heightmap.ServiceErrors. Requests are not retried.
func (c *Client) Elevations(ctx context.Context, coords []heightmap.LatLon) ([]float64, error) {
	payload, err := json.Marshal(newLookupRequest(coords))
	if err != nil {
		return nil, fmt.Errorf("marshal lookup request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+lookupPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || 300 <= resp.StatusCode {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &heightmap.ServiceError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var lookupResponse LookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&lookupResponse); err != nil {
		return nil, fmt.Errorf("decode lookup response: %w", err)
	}
	if len(lookupResponse.Results) != len(coords) {
		return nil, fmt.Errorf("got %d results, expected %d", len(lookupResponse.Results), len(coords))
	}
	return lookupResponse.elevations(), nil
}
