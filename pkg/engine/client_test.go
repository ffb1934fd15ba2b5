package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rhuidobro/renderq/pkg/workflow"
)

func testGraph() workflow.Graph {
	return workflow.Graph{
		"6": {ClassType: "CLIPTextEncode", Inputs: map[string]interface{}{"text": "a cat"}},
	}
}

func TestSubmitSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/prompt" {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}

		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode submit body: %v", err)
		}
		if _, ok := req["prompt"]; !ok {
			t.Error("Submit body missing prompt field")
		}
		if req["client_id"] != "client-1" {
			t.Errorf("Unexpected client_id: %v", req["client_id"])
		}

		json.NewEncoder(w).Encode(map[string]string{"prompt_id": "abc-123"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	id, err := client.Submit(context.Background(), testGraph(), "client-1")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if id != "abc-123" {
		t.Errorf("Expected prompt id abc-123, got %s", id)
	}
}

func TestSubmitAuthHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret-token" {
			t.Errorf("Missing or wrong auth header: %q", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode(map[string]string{"prompt_id": "x"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-token")
	if _, err := client.Submit(context.Background(), testGraph(), "c"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
}

func TestSubmitConnectionError(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "")
	_, err := client.Submit(context.Background(), testGraph(), "c")

	var subErr *SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("Expected SubmissionError, got %v", err)
	}
	if subErr.Code != CodeConnectionError {
		t.Errorf("Expected connection_error code, got %s", subErr.Code)
	}
}

func TestSubmitHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	_, err := client.Submit(context.Background(), testGraph(), "c")

	var subErr *SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("Expected SubmissionError, got %v", err)
	}
	if subErr.Code != CodeHTTPError {
		t.Errorf("Expected http_error code, got %s", subErr.Code)
	}
}

func TestSubmitMissingPromptID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid workflow"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	_, err := client.Submit(context.Background(), testGraph(), "c")

	var subErr *SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("Expected SubmissionError, got %v", err)
	}
	if subErr.Code != CodeInvalidResponse {
		t.Errorf("Expected invalid_response code, got %s", subErr.Code)
	}
}

func TestQueueParsing(t *testing.T) {
	// Entries are heterogeneous arrays: [number, prompt_id, graph, extra]
	queueBody := `{
		"queue_running": [
			[0, "run-1", {"6": {"class_type": "CLIPTextEncode", "inputs": {"text": "busy"}}}, {}]
		],
		"queue_pending": [
			[1, "pend-1", {"6": {"class_type": "CLIPTextEncode", "inputs": {"text": "first"}}}, {}],
			[2, "pend-2", {}, {}]
		]
	}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/queue" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(queueBody))
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	snapshot, err := client.Queue(context.Background())
	if err != nil {
		t.Fatalf("Queue failed: %v", err)
	}

	if len(snapshot.Running) != 1 || snapshot.Running[0].ID != "run-1" {
		t.Errorf("Unexpected running entries: %+v", snapshot.Running)
	}
	if len(snapshot.Pending) != 2 {
		t.Fatalf("Expected 2 pending entries, got %d", len(snapshot.Pending))
	}
	if snapshot.Pending[0].ID != "pend-1" || snapshot.Pending[1].ID != "pend-2" {
		t.Errorf("Pending order not preserved: %+v", snapshot.Pending)
	}

	// The embedded graph should survive parsing
	if snapshot.Running[0].Graph["6"].ClassType != "CLIPTextEncode" {
		t.Errorf("Running entry graph not parsed: %+v", snapshot.Running[0].Graph)
	}
}

func TestQueueDropsMalformedEntries(t *testing.T) {
	queueBody := `{
		"queue_running": [],
		"queue_pending": [
			"not an array",
			[3],
			[4, "good-1", {}, {}]
		]
	}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(queueBody))
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	snapshot, err := client.Queue(context.Background())
	if err != nil {
		t.Fatalf("Queue failed: %v", err)
	}
	if len(snapshot.Pending) != 1 || snapshot.Pending[0].ID != "good-1" {
		t.Errorf("Expected only the well-formed entry, got %+v", snapshot.Pending)
	}
}

func TestDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/view" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("filename") != "out 1.mp4" {
			t.Errorf("Unexpected filename param: %q", r.URL.Query().Get("filename"))
		}
		w.Write([]byte("video-bytes"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	var buf bytes.Buffer
	if err := client.Download(context.Background(), "out 1.mp4", &buf); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if buf.String() != "video-bytes" {
		t.Errorf("Unexpected download content: %q", buf.String())
	}
}

func TestDownloadHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	var buf bytes.Buffer
	if err := client.Download(context.Background(), "gone.png", &buf); err == nil {
		t.Error("Expected error for missing artifact")
	}
}

func TestPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"queue_running": [], "queue_pending": []}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	if err := client.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}

	client = NewClient("http://127.0.0.1:1", "")
	if err := client.Ping(context.Background()); err == nil {
		t.Error("Expected ping failure for unreachable engine")
	}
}
