package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rhuidobro/renderq/pkg/workflow"
)

// ErrHistoryNotFound reports that the engine has no execution record for
// a job id
var ErrHistoryNotFound = fmt.Errorf("not found in history")

// HistoryRecord is one job's execution record from the engine's history
// endpoint
type HistoryRecord struct {
	Prompt  []json.RawMessage        `json:"prompt"`
	Outputs map[string]HistoryOutput `json:"outputs"`
	Status  HistoryStatus            `json:"status"`
}

// HistoryOutput holds the artifact descriptors one node produced
type HistoryOutput struct {
	Gifs     []ArtifactRef `json:"gifs,omitempty"`
	Images   []ArtifactRef `json:"images,omitempty"`
	Animated []bool        `json:"animated,omitempty"`
}

// ArtifactRef names a produced file on the engine's side
type ArtifactRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder,omitempty"`
	Type      string `json:"type,omitempty"`
}

// HistoryStatus carries completion state plus the execution message log
type HistoryStatus struct {
	StatusStr string           `json:"status_str"`
	Completed bool             `json:"completed"`
	Messages  []HistoryMessage `json:"messages"`
}

// HistoryMessage is a [name, payload] pair from the execution log
type HistoryMessage struct {
	Name    string
	Payload map[string]interface{}
}

// UnmarshalJSON decodes the wire shape ["execution_start", {...}]
func (m *HistoryMessage) UnmarshalJSON(data []byte) error {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) >= 1 {
		if err := json.Unmarshal(fields[0], &m.Name); err != nil {
			return err
		}
	}
	if len(fields) >= 2 {
		// Payload shape varies by message; ignore what doesn't decode
		_ = json.Unmarshal(fields[1], &m.Payload)
	}
	return nil
}

// Timestamp returns the payload timestamp in epoch milliseconds, 0 when absent
func (m *HistoryMessage) Timestamp() int64 {
	v, ok := m.Payload["timestamp"]
	if !ok {
		return 0
	}
	f, ok := v.(float64)
	if !ok {
		return 0
	}
	return int64(f)
}

// EmbeddedGraph recovers the workflow graph stored inside the history
// prompt tuple, when present. The tuple shape is [number, id, graph, extra].
func (h *HistoryRecord) EmbeddedGraph() (workflow.Graph, bool) {
	if len(h.Prompt) < 3 {
		return nil, false
	}
	var g workflow.Graph
	if err := json.Unmarshal(h.Prompt[2], &g); err != nil || len(g) == 0 {
		return nil, false
	}
	return g, true
}

// History fetches the execution record for one job id. Returns
// ErrHistoryNotFound when the engine does not know the id (HTTP 404 or an
// empty history object).
func (c *Client) History(ctx context.Context, jobID string) (*HistoryRecord, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/history/"+jobID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history for %s: %w", jobID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrHistoryNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history endpoint returned HTTP %d for %s", resp.StatusCode, jobID)
	}

	// The endpoint returns a map keyed by job id
	var envelope map[string]*HistoryRecord
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode history for %s: %w", jobID, err)
	}

	record, ok := envelope[jobID]
	if !ok || record == nil {
		return nil, ErrHistoryNotFound
	}
	return record, nil
}
