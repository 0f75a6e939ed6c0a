// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package dashboard talks to the parent dashboard API: it uploads fixes and
// denials and asks whether a parent is waiting for a location.
package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/relabs-tech/family_locator/internal/location"
)

const (
	locationPath = "/api/knets-jr/location"
	declinedPath = "/api/knets-jr/location-declined"
	requestPath  = "/api/knets-jr/location-request-status"
)

// Result is the dashboard's answer to an upload.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type locationRequest struct {
	Latitude       float64  `json:"latitude"`
	Longitude      float64  `json:"longitude"`
	Accuracy       *float64 `json:"accuracy"`
	Altitude       *float64 `json:"altitude"`
	Heading        *float64 `json:"heading"`
	Speed          *float64 `json:"speed"`
	Timestamp      string   `json:"timestamp"`
	DeviceID       string   `json:"deviceId"`
	LocationMethod string   `json:"locationMethod"`
}

type declinedRequest struct {
	DeviceID  string `json:"deviceId"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
}

type statusRequest struct {
	DeviceID string `json:"deviceId"`
}

type statusResponse struct {
	RequestPending bool `json:"requestPending"`
}

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("Code %d: %s", e.Code, e.Body)
}

// RejectedError is returned when the dashboard answered success=false.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	return "dashboard rejected upload: " + e.Message
}

// Client is a dashboard API client. Safe for concurrent use.
type Client struct {
	baseURL  string
	session  *http.Client
	attempts int
	backoff  time.Duration
	now      func() time.Time
}

// New returns a client for baseURL. retries is the number of extra attempts
// made for transient failures.
func New(baseURL string, timeout time.Duration, retries int) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		session:  &http.Client{Timeout: timeout},
		attempts: retries + 1,
		backoff:  200 * time.Millisecond,
		now:      time.Now,
	}
}

// ReportFix uploads one fix for deviceID.
func (c *Client) ReportFix(ctx context.Context, fix location.Fix, deviceID string) error {
	ts := fix.Timestamp
	if ts.IsZero() {
		ts = c.now()
	}
	body := locationRequest{
		Latitude:       fix.Latitude,
		Longitude:      fix.Longitude,
		Accuracy:       fix.Accuracy,
		Altitude:       fix.Altitude,
		Heading:        fix.Bearing,
		Speed:          fix.Speed,
		Timestamp:      ts.UTC().Format(time.RFC3339),
		DeviceID:       deviceID,
		LocationMethod: string(fix.Source),
	}
	var res Result
	if err := c.post(ctx, locationPath, body, &res); err != nil {
		return fmt.Errorf("report location: %w", err)
	}
	if !res.Success {
		return &RejectedError{Message: res.Message}
	}
	return nil
}

// ReportDenied tells the dashboard the device could not share its location.
func (c *Client) ReportDenied(ctx context.Context, deviceID, reason string) error {
	body := declinedRequest{
		DeviceID:  deviceID,
		Reason:    reason,
		Timestamp: c.now().UTC().Format(time.RFC3339),
	}
	var res Result
	if err := c.post(ctx, declinedPath, body, &res); err != nil {
		return fmt.Errorf("report declined: %w", err)
	}
	if !res.Success {
		return &RejectedError{Message: res.Message}
	}
	return nil
}

// LocationRequested reports whether a parent asked for this device's location.
func (c *Client) LocationRequested(ctx context.Context, deviceID string) (bool, error) {
	var res statusResponse
	if err := c.post(ctx, requestPath, statusRequest{DeviceID: deviceID}, &res); err != nil {
		return false, fmt.Errorf("check location request: %w", err)
	}
	return res.RequestPending, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.session.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &httpStatusError{
			Code: resp.StatusCode,
			Body: strings.TrimSpace(string(b)),
		}
	}
	return resp, nil
}

// doWithRetry retries network errors and 429/5xx answers with exponential
// backoff, giving up early if ctx is done.
func (c *Client) doWithRetry(ctx context.Context, makeReq func() (*http.Request, error)) (*http.Response, error) {
	backoff := c.backoff
	var lastErr error

	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := makeReq()
		if err != nil {
			return nil, fmt.Errorf("make request: %w", err)
		}

		resp, err := c.do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !retryable(err) || attempt == c.attempts {
			return nil, lastErr
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return nil, lastErr
}

func retryable(err error) bool {
	var he *httpStatusError
	if errors.As(err, &he) {
		switch he.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
