package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rhuidobro/renderq/pkg/workflow"
)

// SubmissionError codes, machine-readable for callers that need to
// distinguish transport failures from bad responses
const (
	CodeConnectionError = "connection_error"
	CodeHTTPError       = "http_error"
	CodeInvalidResponse = "invalid_response"
)

// SubmissionError reports a failed job submission
type SubmissionError struct {
	Code    string
	Message string
	Err     error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("submission failed (%s): %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("submission failed (%s): %s", e.Code, e.Message)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Client manages communication with the remote render engine
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates an engine client. All remote calls share a conservative
// 30s timeout; the engine is polled, never streamed.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// BaseURL returns the configured engine endpoint
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

type submitRequest struct {
	Prompt   workflow.Graph `json:"prompt"`
	ClientID string         `json:"client_id"`
}

type submitResponse struct {
	PromptID string `json:"prompt_id"`
	Error    string `json:"error,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Submit sends a workflow graph to the engine's submission endpoint and
// returns the engine-assigned job id
func (c *Client) Submit(ctx context.Context, graph workflow.Graph, clientID string) (string, error) {
	payload, err := json.Marshal(submitRequest{Prompt: graph, ClientID: clientID})
	if err != nil {
		return "", &SubmissionError{Code: CodeInvalidResponse, Message: "failed to encode workflow", Err: err}
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/prompt", bytes.NewReader(payload))
	if err != nil {
		return "", &SubmissionError{Code: CodeConnectionError, Message: "failed to build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &SubmissionError{Code: CodeConnectionError, Message: "failed to reach render engine", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &SubmissionError{Code: CodeConnectionError, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &SubmissionError{
			Code:    CodeHTTPError,
			Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	var result submitResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", &SubmissionError{Code: CodeInvalidResponse, Message: "invalid JSON response", Err: err}
	}
	if result.PromptID == "" {
		msg := "no prompt_id in response"
		if result.Error != "" {
			msg = msg + ": " + result.Error
		} else if result.Detail != "" {
			msg = msg + ": " + result.Detail
		}
		return "", &SubmissionError{Code: CodeInvalidResponse, Message: msg}
	}

	return result.PromptID, nil
}

// QueueEntry is one job in the remote queue snapshot. The wire format is
// a heterogeneous array: [number, prompt_id, graph, extra, ...]; only the
// id and the embedded graph matter here.
type QueueEntry struct {
	ID    string
	Graph workflow.Graph
}

// QueueSnapshot is the engine's transient view of running and pending
// jobs. Pending entries are ordered by queue position.
type QueueSnapshot struct {
	Running []QueueEntry
	Pending []QueueEntry
}

type rawQueue struct {
	Running []json.RawMessage `json:"queue_running"`
	Pending []json.RawMessage `json:"queue_pending"`
}

// Queue fetches the current queue snapshot
func (c *Client) Queue(ctx context.Context) (*QueueSnapshot, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/queue", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch queue: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("queue endpoint returned HTTP %d", resp.StatusCode)
	}

	var raw rawQueue
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode queue snapshot: %w", err)
	}

	snapshot := &QueueSnapshot{}
	for _, entry := range raw.Running {
		if parsed, ok := parseQueueEntry(entry); ok {
			snapshot.Running = append(snapshot.Running, parsed)
		}
	}
	for _, entry := range raw.Pending {
		if parsed, ok := parseQueueEntry(entry); ok {
			snapshot.Pending = append(snapshot.Pending, parsed)
		}
	}
	return snapshot, nil
}

// parseQueueEntry unpacks the [number, id, graph, ...] array shape.
// Entries missing an id are dropped; a malformed graph still yields the id.
func parseQueueEntry(raw json.RawMessage) (QueueEntry, bool) {
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || len(fields) < 2 {
		return QueueEntry{}, false
	}

	var entry QueueEntry
	if err := json.Unmarshal(fields[1], &entry.ID); err != nil || entry.ID == "" {
		return QueueEntry{}, false
	}
	if len(fields) >= 3 {
		// Graph may be absent or malformed; the id alone is still useful
		_ = json.Unmarshal(fields[2], &entry.Graph)
	}
	return entry, true
}

// Download streams the named artifact from the engine's view endpoint
// into w
func (c *Client) Download(ctx context.Context, filename string, w io.Writer) error {
	path := "/view?filename=" + url.QueryEscape(filename)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("artifact download returned HTTP %d for %s", resp.StatusCode, filename)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to stream %s: %w", filename, err)
	}
	return nil
}

// Ping probes the engine's queue endpoint to verify connectivity
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/queue", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("render engine unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("render engine returned HTTP %d", resp.StatusCode)
	}
	return nil
}
