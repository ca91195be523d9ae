// Package backend is the HTTP client for the repository-healing service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hochfrequenz/heal-dash/internal/domain"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is used when neither config nor environment set one
const DefaultBaseURL = "http://localhost:8000/api"

const defaultTimeout = 30 * time.Second

// ErrNotFound is returned when the backend answers 404, which for a fresh
// run means "not available yet".
var ErrNotFound = errors.New("backend: not found")

// Client talks to the healing backend
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger used for request diagnostics
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for baseURL. An empty baseURL selects DefaultBaseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the normalized base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// RunHandle identifies a run the backend accepted
type RunHandle struct {
	RunID      string
	BranchName string
}

type startRequest struct {
	RepositoryURL string `json:"repository_url"`
	TeamName      string `json:"team_name"`
	LeaderName    string `json:"leader_name"`
	Mode          string `json:"mode"`
}

type startResponse struct {
	RunID string `json:"run_id"`
}

// StartRun asks the backend to begin healing in.RepoURL. The branch name is
// derived locally with the same convention the backend uses.
func (c *Client) StartRun(ctx context.Context, in domain.RunInputs) (RunHandle, error) {
	body := startRequest{
		RepositoryURL: in.RepoURL,
		TeamName:      in.TeamName,
		LeaderName:    in.LeaderName,
		Mode:          in.Mode.WireValue(),
	}

	var out startResponse
	if err := c.do(ctx, http.MethodPost, "/heal-repository", body, &out); err != nil {
		return RunHandle{}, fmt.Errorf("failed to start healing run: %w", err)
	}
	if out.RunID == "" {
		return RunHandle{}, errors.New("failed to start healing run: backend returned no run_id")
	}

	return RunHandle{RunID: out.RunID, BranchName: in.BranchName()}, nil
}

// AppliedFix is a fix entry inside a status response
type AppliedFix struct {
	File           string `json:"file"`
	Line           int    `json:"line"`
	BugType        string `json:"bug_type"`
	CommitMessage  string `json:"commit_message"`
	ChangesSummary string `json:"changes_summary"`
	Status         string `json:"status"`
}

// TimelineItem is a CI iteration inside a status response
type TimelineItem struct {
	Iteration int      `json:"iteration"`
	Status    string   `json:"status"`
	Timestamp string   `json:"timestamp"`
	Details   string   `json:"details,omitempty"`
	Duration  *float64 `json:"duration,omitempty"`
	RawLog    *string  `json:"raw_log,omitempty"`
}

// StatusResponse is the body of GET /status/{runId}
type StatusResponse struct {
	CurrentStep  string         `json:"current_step,omitempty"`
	SourceFiles  []string       `json:"source_files,omitempty"`
	AppliedFixes []AppliedFix   `json:"applied_fixes,omitempty"`
	CICDTimeline []TimelineItem `json:"cicd_timeline,omitempty"`
	Status       string         `json:"status,omitempty"`
}

// Terminal reports whether the status ends the run
func (s *StatusResponse) Terminal() bool {
	return domain.FinalStatus(s.Status).IsTerminal()
}

// ResultsResponse is the body of GET /results/{runId}
type ResultsResponse struct {
	FinalStatus      string  `json:"final_status"`
	TimeTakenSeconds float64 `json:"time_taken_seconds"`
	TotalFixes       int     `json:"total_fixes"`
	TotalFailures    *int    `json:"total_failures,omitempty"`
}

// Status fetches the live status of a run. A 404 yields ErrNotFound.
func (c *Client) Status(ctx context.Context, runID string) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(runID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Results fetches the final metrics of a finished run
func (c *Client) Results(ctx context.Context, runID string) (*ResultsResponse, error) {
	var out ResultsResponse
	if err := c.do(ctx, http.MethodGet, "/results/"+url.PathEscape(runID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PendingTask returns the next queued inference task, or nil when the
// backend has none (204 or 404).
func (c *Client) PendingTask(ctx context.Context, runID string) (*domain.InferenceTask, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/webllm/pending/"+url.PathEscape(runID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending task: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusNotFound:
		return nil, nil
	case http.StatusOK:
	default:
		return nil, responseError(resp)
	}

	var task domain.InferenceTask
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse pending task: %w", err)
	}
	if task.TaskID == "" {
		return nil, nil
	}
	return &task, nil
}

type submitRequest struct {
	TaskID string `json:"task_id"`
	Result any    `json:"result"`
}

// SubmitResult posts the outcome of an inference task back to the backend
func (c *Client) SubmitResult(ctx context.Context, runID, taskID string, result any) error {
	body := submitRequest{TaskID: taskID, Result: result}
	if err := c.do(ctx, http.MethodPost, "/webllm/submit/"+url.PathEscape(runID), body, nil); err != nil {
		return fmt.Errorf("failed to submit LLM result: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do sends a JSON request and decodes a JSON response into out (if non-nil)
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("backend request")

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return responseError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// StatusError is a non-2xx response. Detail carries the backend's
// {"detail": ...} message when present.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("backend returned status %d", e.Code)
}

func responseError(resp *http.Response) error {
	se := &StatusError{Code: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(data, &body) == nil && len(body.Detail) > 0 {
		var s string
		if json.Unmarshal(body.Detail, &s) == nil {
			se.Detail = s
		} else {
			se.Detail = string(body.Detail)
		}
	}
	return se
}
