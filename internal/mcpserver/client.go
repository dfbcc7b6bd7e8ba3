package mcpserver

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

// Config holds the configuration for reaching a running Guardian.
type Config struct {
	APIURL    string // Base URL, e.g. "http://localhost:8080"
	ContextID string // reported as the source context of every message
	Timeout   time.Duration
}

// ErrRejected wraps a well-formed Guardian failure response.
var ErrRejected = errors.New("guardian rejected request")

// GuardianClient sends router messages to POST /v1/dispatch.
type GuardianClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewGuardianClient creates a new client. A zero Timeout waits 35s, which
// covers the server's own dispatch cap.
func NewGuardianClient(cfg Config) *GuardianClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 35 * time.Second
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &GuardianClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type dispatchMessage struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload,omitempty"`
	ContextID string `json:"contextId,omitempty"`
}

// Dispatch sends one message and returns the response fields. A response
// with success=false is returned as an error wrapping ErrRejected.
func (c *GuardianClient) Dispatch(ctx context.Context, msgType string, payload any) (map[string]any, error) {
	data, err := json.Marshal(dispatchMessage{Type: msgType, Payload: payload, ContextID: c.cfg.ContextID})
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+"/v1/dispatch", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var out map[string]any
	if err := json.Unmarshal(respBody, &out); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if ok, _ := out["success"].(bool); !ok {
		msg, _ := out["error"].(string)
		code, _ := out["code"].(string)
		return out, fmt.Errorf("%w (%s): %s", ErrRejected, code, msg)
	}
	return out, nil
}
