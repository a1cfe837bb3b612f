// Package runner is the HTTP client for the code-execution collaborator: an
// external service that compiles and runs a file's content on demand. The
// engine treats it as untrusted and fully optional: when no endpoint is
// configured, execution is disabled and every call reports ErrDisabled.
//
// Error taxonomy, which callers surface differently in the UI:
//   - program outcomes (non-zero exit, stderr output) are NOT errors; they
//     come back inside Result,
//   - compile failures come back inside Result as diagnostics,
//   - transport and auth failures are Go errors (ErrUnauthorized or a
//     wrapped transport error).
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/collabpad/collab-backend/internal/config"
)

var (
	// ErrDisabled is returned when no runner endpoint is configured.
	ErrDisabled = errors.New("code execution is not configured")
	// ErrUnauthorized is returned when the runner rejects our credentials.
	ErrUnauthorized = errors.New("runner rejected credentials")
)

// Request is one execution submission.
type Request struct {
	Language string `json:"language"`
	Source   string `json:"source"`
	Stdin    string `json:"stdin,omitempty"`
}

// Result is the outcome of a completed execution round-trip. A non-zero
// ExitCode or non-empty CompileOutput is a program outcome, not a client
// error.
type Result struct {
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	ExitCode      int    `json:"exit_code"`
	CompileOutput string `json:"compile_output,omitempty"`
	DurationMS    int64  `json:"duration_ms"`
}

// Compiled reports whether the program made it past compilation.
func (r *Result) Compiled() bool { return r.CompileOutput == "" }

// Client talks to the execution service.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	log      zerolog.Logger
}

// New constructs a client from configuration. A client with an empty
// endpoint is valid and permanently disabled.
func New(cfg config.RunnerConfig, log zerolog.Logger) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		http:     &http.Client{Timeout: cfg.Timeout},
		log:      log.With().Str("component", "runner").Logger(),
	}
}

// Enabled reports whether an endpoint is configured.
func (c *Client) Enabled() bool { return c.endpoint != "" }

// Run submits source for execution and waits for the outcome.
func (c *Client) Run(ctx context.Context, req Request) (*Result, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("runner unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("runner returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if out.DurationMS == 0 {
		out.DurationMS = time.Since(started).Milliseconds()
	}

	c.log.Debug().
		Str("language", req.Language).
		Int("exit_code", out.ExitCode).
		Bool("compiled", out.Compiled()).
		Int64("duration_ms", out.DurationMS).
		Msg("execution completed")
	return &out, nil
}
