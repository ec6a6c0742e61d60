package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// maxUpstreamBody caps how much of an upstream response is read.
const maxUpstreamBody = 4 << 20

// ProximitySource fetches one envelope body from the upstream. Errors wrap
// ErrUpstreamUnavailable or ErrMalformedPayload.
type ProximitySource interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// JSONProximitySource reads the sensor API's JSON envelope and passes it on
// byte for byte once it has checked the shape.
type JSONProximitySource struct {
	url        string
	httpClient *http.Client
}

func NewJSONProximitySource(url string, timeout time.Duration) *JSONProximitySource {
	return &JSONProximitySource{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *JSONProximitySource) Fetch(ctx context.Context) ([]byte, error) {
	body, err := httpGet(ctx, s.httpClient, s.url, "application/json")
	if err != nil {
		return nil, err
	}
	if err := checkEnvelope(body); err != nil {
		return nil, err
	}
	return body, nil
}

// httpGet performs the single upstream call shared by all sources.
func httpGet(ctx context.Context, client *http.Client, url, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Accept", accept)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: http status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrUpstreamUnavailable, err)
	}
	return body, nil
}

// checkEnvelope verifies body is a JSON object with a "proximidad" list.
// The readings themselves are not inspected here; the renderer tolerates
// partial rows.
func checkEnvelope(body []byte) error {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil {
		return fmt.Errorf("%w: not a JSON object: %v", ErrMalformedPayload, err)
	}
	raw, ok := root["proximidad"]
	if !ok {
		return fmt.Errorf("%w: missing \"proximidad\"", ErrMalformedPayload)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return fmt.Errorf("%w: \"proximidad\" is not a list", ErrMalformedPayload)
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("%w: \"proximidad\": %v", ErrMalformedPayload, err)
	}
	return nil
}
