// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package geolocate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/relabs-tech/family_locator/internal/location"
)

// DefaultEndpoint is a free IP geolocation service returning JSON with
// "latitude" and "longitude" fields.
const DefaultEndpoint = "https://ipapi.co/json/"

// response fields are pointers so absent and null both decode to nil.
type response struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	City      string   `json:"city"`
	Country   string   `json:"country_name"`
}

// Client performs one blocking IP geolocation lookup per call.
type Client struct {
	endpoint string
	session  *http.Client
	now      func() time.Time
}

// New returns a client with the given connect and read timeouts. The read
// timeout covers waiting for response headers and reading the body.
func New(endpoint string, connectTimeout, readTimeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
	}
	return &Client{
		endpoint: endpoint,
		session: &http.Client{
			Transport: transport,
			Timeout:   connectTimeout + readTimeout,
		},
		now: time.Now,
	}
}

// Locate returns an IP-derived fix. Transport failures and non-200 answers
// are NetworkUnavailable; anything wrong with the payload is DecodeFailure.
func (c *Client) Locate(ctx context.Context) (location.Fix, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return location.Fix{}, failure(location.NetworkUnavailable, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.session.Do(req)
	if err != nil {
		return location.Fix{}, failure(location.NetworkUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return location.Fix{}, failure(location.NetworkUnavailable, fmt.Errorf("unexpected status: %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return location.Fix{}, failure(location.NetworkUnavailable, fmt.Errorf("read body: %w", err))
	}

	var decoded response
	if err := json.Unmarshal(body, &decoded); err != nil {
		return location.Fix{}, failure(location.DecodeFailure, fmt.Errorf("decode response: %w", err))
	}
	if decoded.Latitude == nil || decoded.Longitude == nil {
		return location.Fix{}, failure(location.DecodeFailure, fmt.Errorf("response has no coordinates"))
	}

	fix := location.Fix{
		Latitude:  *decoded.Latitude,
		Longitude: *decoded.Longitude,
		Accuracy:  location.Float(location.IPAccuracyMeters),
		Source:    location.SourceIP,
		Timestamp: c.now(),
	}
	if math.IsNaN(fix.Latitude) || math.IsNaN(fix.Longitude) {
		return location.Fix{}, failure(location.DecodeFailure, fmt.Errorf("coordinates are NaN"))
	}
	if err := fix.Validate(); err != nil {
		return location.Fix{}, failure(location.DecodeFailure, err)
	}
	return fix, nil
}

func failure(kind location.ErrorKind, err error) error {
	return &location.Error{Kind: kind, Stage: location.StageIP, Err: err}
}
