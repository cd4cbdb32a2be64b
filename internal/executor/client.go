// Package executor is the HTTP boundary to the external service that
// durably creates, modifies, and cancels appointment records and sends
// patient notifications. The engine never writes appointments itself.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config describes how to reach the executor service.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client calls the executor's booking endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient validates the configuration and returns a ready-to-use client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("executor: base URL required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// BookRequest commits a new appointment.
type BookRequest struct {
	ClinicSlug   string `json:"clinicSlug"`
	Sig          string `json:"sig"`
	PatientName  string `json:"patient_name"`
	PatientEmail string `json:"patient_email,omitempty"`
	PatientPhone string `json:"patient_phone,omitempty"`
	Service      string `json:"service,omitempty"`
	StartTime    string `json:"start_time"` // ISO 8601 with offset
	EndTime      string `json:"end_time"`
}

// ManageRequest modifies or cancels an existing appointment identified by a
// contact method.
type ManageRequest struct {
	ClinicSlug      string `json:"clinicSlug"`
	Sig             string `json:"sig"`
	Action          string `json:"action"` // "modify" or "cancel"
	PatientEmail    string `json:"patient_email,omitempty"`
	PatientWhatsApp string `json:"patient_whatsapp,omitempty"`
	NewStartTime    string `json:"new_start_time,omitempty"`
	NewEndTime      string `json:"new_end_time,omitempty"`
}

// Result is the executor's uniform response shape.
type Result struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Book commits a new appointment. A Result with OK=false is not a transport
// error: the caller decides how to phrase it to the patient.
func (c *Client) Book(ctx context.Context, req BookRequest) (*Result, error) {
	if strings.TrimSpace(req.PatientName) == "" {
		return nil, errors.New("executor: patient name required")
	}
	if req.StartTime == "" || req.EndTime == "" {
		return nil, errors.New("executor: start and end time required")
	}
	if req.PatientEmail == "" && req.PatientPhone == "" {
		return nil, errors.New("executor: at least one contact method required")
	}
	return c.post(ctx, "/api/appointments/book", req)
}

// Manage modifies or cancels an appointment.
func (c *Client) Manage(ctx context.Context, req ManageRequest) (*Result, error) {
	if req.Action != "modify" && req.Action != "cancel" {
		return nil, fmt.Errorf("executor: unknown action %q", req.Action)
	}
	if req.PatientEmail == "" && req.PatientWhatsApp == "" {
		return nil, errors.New("executor: at least one contact identifier required")
	}
	if req.Action == "modify" && (req.NewStartTime == "" || req.NewEndTime == "") {
		return nil, errors.New("executor: modify requires new start and end time")
	}
	return c.post(ctx, "/api/appointments/manage", req)
}

func (c *Client) post(ctx context.Context, path string, payload any) (*Result, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("executor: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("executor: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executor: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("executor: read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("executor: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var out Result
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("executor: decode response: %w", err)
	}
	return &out, nil
}
