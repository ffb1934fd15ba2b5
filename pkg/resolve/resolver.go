package resolve

import (
	"context"
	"errors"
	"fmt"

	"github.com/rhuidobro/renderq/pkg/artifacts"
	"github.com/rhuidobro/renderq/pkg/engine"
	"github.com/rhuidobro/renderq/pkg/logging"
	"github.com/rhuidobro/renderq/pkg/models"
	"github.com/rhuidobro/renderq/pkg/workflow"
)

// Outcome is the resolver's verdict for one job that fell out of the
// queue snapshot. A terminal Status (completed/error) moves the record to
// terminal storage; processing/unknown keeps it active.
type Outcome struct {
	Status  models.Status
	Message string

	Prompt string
	Model  string

	// Set only on completed with an artifact
	OutputPath   string
	PreviewURL   string
	ArtifactType models.ArtifactType

	// Processing duration in seconds from the execution log, 0 when the
	// engine did not report timing
	ProcessingTime float64
}

// HistorySource fetches per-job execution records. The engine client
// satisfies this.
type HistorySource interface {
	History(ctx context.Context, jobID string) (*engine.HistoryRecord, error)
}

// Resolver determines terminal outcomes by querying the engine's history
// endpoint and materializing any produced artifacts locally
type Resolver struct {
	history HistorySource
	cache   *artifacts.Cache
	log     *logging.Logger
}

// New creates a history resolver
func New(history HistorySource, cache *artifacts.Cache, log *logging.Logger) *Resolver {
	return &Resolver{history: history, cache: cache, log: log}
}

// Resolve classifies one job's fate. It never returns an error: every
// failure mode maps onto an Outcome so the caller treats resolution
// problems as per-job results, not loop-aborting faults.
func (r *Resolver) Resolve(ctx context.Context, jobID string) Outcome {
	record, err := r.history.History(ctx, jobID)
	if errors.Is(err, engine.ErrHistoryNotFound) {
		return Outcome{Status: models.StatusError, Message: "not found in history"}
	}
	if err != nil {
		r.log.Warn("history fetch failed", map[string]interface{}{"job_id": jobID, "error": err.Error()})
		return Outcome{Status: models.StatusError, Message: fmt.Sprintf("failed to check history: %v", err)}
	}

	outcome := r.classify(ctx, jobID, record)

	// The history prompt tuple carries the original graph; recover
	// metadata the queue snapshot may have missed
	if graph, ok := record.EmbeddedGraph(); ok {
		meta := workflow.Extract(graph)
		if outcome.Prompt == "" {
			outcome.Prompt = meta.Prompt
		}
		if outcome.Model == "" {
			outcome.Model = meta.Model
		}
	}

	return outcome
}

func (r *Resolver) classify(ctx context.Context, jobID string, record *engine.HistoryRecord) Outcome {
	if out, ok := r.findArtifact(ctx, jobID, record); ok {
		return out
	}

	status := record.Status
	if status.Completed {
		if status.StatusStr == "error" {
			return Outcome{Status: models.StatusError, Message: "job failed on the render engine"}
		}
		return Outcome{Status: models.StatusCompleted, Message: "job completed without output"}
	}
	if status.StatusStr != "" {
		return Outcome{Status: models.StatusProcessing, Message: "job is still processing"}
	}

	return Outcome{Status: models.StatusUnknown, Message: "unable to determine job status"}
}

// findArtifact scans the history outputs for a produced file, downloads it
// through the cache, and builds a completed outcome. A failed download
// yields (Outcome{}, false) handled by the caller as non-terminal: the job
// is retried on a later tick rather than marked done without its artifact.
func (r *Resolver) findArtifact(ctx context.Context, jobID string, record *engine.HistoryRecord) (Outcome, bool) {
	for _, output := range record.Outputs {
		var ref engine.ArtifactRef
		var kind models.ArtifactType

		switch {
		case len(output.Gifs) > 0:
			ref = output.Gifs[0]
			kind = models.ArtifactVideo
		case len(output.Images) > 0:
			ref = output.Images[0]
			kind = models.ArtifactImage
			if len(output.Animated) > 0 && output.Animated[0] {
				kind = models.ArtifactVideo
			}
		default:
			continue
		}

		if ref.Filename == "" {
			continue
		}

		localPath, err := r.cache.EnsureLocal(ctx, ref.Filename)
		if err != nil {
			r.log.Warn("artifact download failed, keeping job active", map[string]interface{}{
				"job_id": jobID, "filename": ref.Filename, "error": err.Error(),
			})
			return Outcome{
				Status:  models.StatusProcessing,
				Message: fmt.Sprintf("waiting to retry artifact download: %s", ref.Filename),
			}, true
		}

		message := "image generation complete"
		if kind == models.ArtifactVideo {
			message = "video generation complete"
		}

		return Outcome{
			Status:         models.StatusCompleted,
			Message:        message,
			OutputPath:     localPath,
			PreviewURL:     "/static/output/" + ref.Filename,
			ArtifactType:   kind,
			ProcessingTime: executionSeconds(record),
		}, true
	}

	return Outcome{}, false
}

// executionSeconds derives the processing duration from the
// execution_start / execution_success message timestamps (epoch millis)
func executionSeconds(record *engine.HistoryRecord) float64 {
	var start, end int64
	for _, msg := range record.Status.Messages {
		switch msg.Name {
		case "execution_start":
			start = msg.Timestamp()
		case "execution_success":
			end = msg.Timestamp()
		}
	}
	if start == 0 || end == 0 || end < start {
		return 0
	}
	return float64(end-start) / 1000.0
}
