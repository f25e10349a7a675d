// Package visionclient drives the camera/vision service that watches classrooms and posts
// behavior signals back to the API.
package visionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// CameraRef is a camera the vision service is reading.
type CameraRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// StartResult is the reply to a start request.
type StartResult struct {
	Message string      `json:"message"`
	Tracked int         `json:"tracked"`
	Cameras []CameraRef `json:"cameras"`
}

// Status describes what the vision service is doing.
type Status struct {
	Active         bool            `json:"active"`
	Session        json.RawMessage `json:"session,omitempty"`
	ElapsedSeconds int             `json:"elapsedSeconds"`
	KnownFaces     int             `json:"knownFaces"`
	Skipped        bool            `json:"skipped,omitempty"`
}

// Client calls the vision microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. With skip set every call succeeds without a request.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Skip:    skip,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Start asks the service to monitor a classroom for a session.
func (c *Client) Start(ctx context.Context, classroomID, sessionID string) (*StartResult, error) {
	if c.Skip {
		return &StartResult{Message: "skipped"}, nil
	}
	if classroomID == "" || sessionID == "" {
		return nil, fmt.Errorf("classroom and session id required")
	}
	var out StartResult
	err := c.do(ctx, http.MethodPost, "/start-mocking", map[string]string{
		"classroomId":    classroomID,
		"classSessionId": sessionID,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// StartMonitoring satisfies attendance.Monitor.
func (c *Client) StartMonitoring(ctx context.Context, classroomID, sessionID string) error {
	_, err := c.Start(ctx, classroomID, sessionID)
	return err
}

// StopMonitoring asks the service to stop all cameras.
func (c *Client) StopMonitoring(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/stop-mocking", struct{}{}, nil)
}

// Status reports whether a session is being monitored.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	if c.Skip {
		return &Status{Skipped: true}, nil
	}
	var out Status
	if err := c.do(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Resync makes the service reload the roster and face gallery. It returns the known face count.
func (c *Client) Resync(ctx context.Context) (int, error) {
	if c.Skip {
		return 0, nil
	}
	var out struct {
		Faces int `json:"faces"`
	}
	if err := c.do(ctx, http.MethodPost, "/resync", struct{}{}, &out); err != nil {
		return 0, err
	}
	return out.Faces, nil
}

// Health checks if the vision service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	return c.do(ctx, http.MethodGet, "/status", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("vision service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("vision service error %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
