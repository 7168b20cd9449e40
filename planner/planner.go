// Package planner defines the wire types and a thin HTTP client for an
// optional external planning step. The planner process itself — whatever
// decides which tool to call next for a given prompt — lives outside this
// module; this package only knows how to ask it a question and how to treat
// silence as "no opinion".
package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Deadline bounds a single planning round trip. A planner that hasn't
// answered within this window is treated the same as one that errored.
const Deadline = 2500 * time.Millisecond

// Request is what a caller marshals to ask a planner for the next steps.
type Request struct {
	Prompt       string   `json:"prompt"`
	AllowedTools []string `json:"allowedTools"`
	SpecVersion  string   `json:"specVersion"`
}

// Step is one tool invocation the planner proposes.
type Step struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// Response is what a planner returns for a Request.
type Response struct {
	Steps      []Step  `json:"steps"`
	Confidence float64 `json:"confidence"`
}

// Client calls an external planner over HTTP. Any failure — transport
// error, non-2xx status, malformed body, or exceeding Deadline — is a soft
// miss: callers get (nil, nil) and fall back to their own default behavior
// rather than failing the run over an advisory call.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a Client that POSTs to baseURL + "/plan".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: Deadline},
	}
}

// Plan asks the configured planner for steps. A nil, nil result means the
// planner had no opinion within the deadline or failed; it is never an
// error the caller must propagate.
func (c *Client) Plan(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, Deadline)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/plan", bytes.NewReader(body))
	if err != nil {
		return nil, nil
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, nil
	}
	return &out, nil
}

// String renders a Response for logging without dumping raw args maps.
func (r Response) String() string {
	return fmt.Sprintf("planner.Response{steps=%d confidence=%.2f}", len(r.Steps), r.Confidence)
}
