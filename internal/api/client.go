// Package api is the REST client for the shore relay. The internet
// channel delivers through it, and it doubles as the fallback path for
// monitor consoles that cannot hold a websocket open.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coastalguard/beacon/pkg/sos"
)

// Client handles communication with the relay REST API.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL, secret string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     secret,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SubmitRequest is the POST /api/sos body.
type SubmitRequest struct {
	Type          string       `json:"type"`
	FishermanID   string       `json:"fishermanId"`
	FishermanName string       `json:"fishermanName"`
	BoatNumber    string       `json:"boatNumber"`
	Phone         string       `json:"phone,omitempty"`
	Location      sos.Position `json:"location"`
	ClientSOSID   string       `json:"clientSOSId,omitempty"`
}

// SubmitResponse is the relay's acknowledgement of a submitted SOS.
type SubmitResponse struct {
	Success    bool   `json:"success"`
	SOSID      string `json:"sosId"`
	ReceivedAt string `json:"receivedAt"`
	Duplicate  bool   `json:"duplicate,omitempty"`
}

// StatusRequest is the PATCH body for acknowledge/resolve.
type StatusRequest struct {
	By string `json:"by,omitempty"`
}

// SubmitFromRecord builds the submit body from a queued record.
func SubmitFromRecord(rec *sos.Record) SubmitRequest {
	return SubmitRequest{
		Type:          string(rec.Type),
		FishermanID:   rec.Origin.ID,
		FishermanName: rec.Origin.DisplayName,
		BoatNumber:    rec.Origin.VesselID,
		Phone:         rec.Origin.Phone,
		Location:      rec.Position,
		ClientSOSID:   rec.ID,
	}
}

// Healthcheck checks if the relay is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// SubmitSOS posts a distress record to the relay.
func (c *Client) SubmitSOS(ctx context.Context, body SubmitRequest) (*SubmitResponse, error) {
	var out SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/sos", body, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("relay rejected SOS %s", body.ClientSOSID)
	}
	return &out, nil
}

// ListAlerts fetches every active alert the relay holds.
func (c *Client) ListAlerts(ctx context.Context) ([]sos.Alert, error) {
	var out struct {
		Alerts []sos.Alert `json:"alerts"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/sos", nil, &out); err != nil {
		return nil, err
	}
	return out.Alerts, nil
}

// GetAlert fetches a single alert by id.
func (c *Client) GetAlert(ctx context.Context, id string) (*sos.Alert, error) {
	var out sos.Alert
	if err := c.do(ctx, http.MethodGet, "/api/sos/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Acknowledge marks an alert acknowledged on behalf of an authority.
func (c *Client) Acknowledge(ctx context.Context, id, by string) error {
	return c.do(ctx, http.MethodPatch, "/api/sos/"+id+"/acknowledge", StatusRequest{By: by}, nil)
}

// Resolve closes out an alert.
func (c *Client) Resolve(ctx context.Context, id, by string) error {
	return c.do(ctx, http.MethodPatch, "/api/sos/"+id+"/resolve", StatusRequest{By: by}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.secret != "" {
		req.Header.Set("X-Relay-Secret", c.secret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s returned status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
