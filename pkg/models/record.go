package models

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of a render job
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	StatusUnknown    Status = "unknown"
)

// IsTerminal reports whether a job in this status will never transition again
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// ArtifactType classifies the output of a completed job
type ArtifactType string

const (
	ArtifactImage ArtifactType = "image"
	ArtifactVideo ArtifactType = "video"
)

// JobRecord is the durable local view of one job submitted to the render
// engine. The engine assigns the job id at submission time; everything else
// is reconciled from the queue snapshot and the history endpoint.
type JobRecord struct {
	ID      string `json:"id"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`

	// Best-effort metadata recovered from the workflow graph
	Prompt string `json:"prompt,omitempty"`
	Model  string `json:"model,omitempty"`
	Seed   int64  `json:"seed,omitempty"`

	CreatedAt         time.Time  `json:"created_at"`
	ProcessingStarted *time.Time `json:"processing_started,omitempty"`
	WaitingStarted    *time.Time `json:"waiting_started,omitempty"`
	LastUpdated       time.Time  `json:"last_updated"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`

	// 1-based position in the remote queue, meaningful only while pending
	QueuePosition int `json:"queue_position,omitempty"`

	// Derived durations in seconds
	ProcessingTime float64 `json:"processing_time,omitempty"`
	WaitingTime    float64 `json:"waiting_time,omitempty"`

	// Set only when the job completed with an artifact
	OutputPath   string       `json:"output_path,omitempty"`
	PreviewURL   string       `json:"preview_url,omitempty"`
	ArtifactType ArtifactType `json:"artifact_type,omitempty"`

	// Batch grouping, present when the job was submitted as one segment
	// of a multi-prompt batch
	BatchID       string `json:"batch_id,omitempty"`
	SegmentIndex  int    `json:"segment_index,omitempty"`
	TotalSegments int    `json:"total_segments,omitempty"`
	Content       string `json:"content,omitempty"`
}

// Touch updates LastUpdated to now
func (r *JobRecord) Touch(now time.Time) {
	r.LastUpdated = now
}

// MarkProcessing transitions the record into the processing phase.
// ProcessingStarted is set only on the first observation so the derived
// processing time grows monotonically across ticks.
func (r *JobRecord) MarkProcessing(now time.Time) {
	r.Status = StatusProcessing
	r.Message = "job is processing"
	if r.ProcessingStarted == nil {
		started := now
		r.ProcessingStarted = &started
	}
	r.ProcessingTime = now.Sub(*r.ProcessingStarted).Seconds()
	r.QueuePosition = 0
	r.LastUpdated = now
}

// MarkPending transitions the record into the queued phase at the given
// 1-based queue position. WaitingStarted is set only once.
func (r *JobRecord) MarkPending(now time.Time, position int) {
	r.Status = StatusPending
	r.Message = waitingMessage(position)
	r.QueuePosition = position
	if r.WaitingStarted == nil {
		started := now
		r.WaitingStarted = &started
	}
	r.WaitingTime = now.Sub(*r.WaitingStarted).Seconds()
	r.LastUpdated = now
}

// SetMetadata fills prompt and model without ever clearing a previously
// extracted value with an empty one.
func (r *JobRecord) SetMetadata(prompt, model string) {
	if prompt != "" && r.Prompt == "" {
		r.Prompt = prompt
	}
	if model != "" && r.Model == "" {
		r.Model = model
	}
}

func waitingMessage(position int) string {
	return fmt.Sprintf("waiting in queue, position %d", position)
}
