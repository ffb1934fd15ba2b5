package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rhuidobro/renderq/pkg/logging"
	"github.com/rhuidobro/renderq/pkg/models"
	"github.com/rhuidobro/renderq/pkg/store"
	"github.com/rhuidobro/renderq/pkg/workflow"
)

// Submitter sends a workflow graph to the remote engine. The engine
// client satisfies this.
type Submitter interface {
	Submit(ctx context.Context, graph workflow.Graph, clientID string) (string, error)
}

// SubmitRequest describes one job submission
type SubmitRequest struct {
	// Template names a workflow in the library; Graph is used directly
	// when set and Template is empty
	Template string
	Graph    workflow.Graph

	Prompt   string
	ClientID string

	// Batch grouping, optional
	BatchID       string
	SegmentIndex  int
	TotalSegments int
	Content       string
}

// Service is the submission gateway plus the read surface exposed to the
// request layer. It only ever creates fresh store keys; existing records
// belong to the reconciler.
type Service struct {
	store     store.Store
	submitter Submitter
	library   *workflow.Library
	log       *logging.Logger
}

// New creates the gateway service
func New(s store.Store, submitter Submitter, library *workflow.Library, log *logging.Logger) *Service {
	return &Service{
		store:     s,
		submitter: submitter,
		library:   library,
		log:       log.WithField("component", "gateway"),
	}
}

// SubmitJob patches and submits one workflow, then creates the initial
// job record. No record is created when submission fails.
func (s *Service) SubmitJob(ctx context.Context, req SubmitRequest) (*models.JobRecord, error) {
	graph := req.Graph
	if req.Template != "" {
		loaded, err := s.library.Load(req.Template)
		if err != nil {
			return nil, err
		}
		graph = loaded
	}
	if err := graph.Validate(); err != nil {
		return nil, err
	}

	seed := workflow.RandomSeed()
	if req.Prompt != "" && !graph.ApplyPrompt(req.Prompt) {
		s.log.Warn("no text-encoding node accepted the prompt, submitting workflow unchanged")
	}
	if !graph.ApplySeed(seed) {
		seed = 0
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = uuid.New().String()
	}

	jobID, err := s.submitter.Submit(ctx, graph, clientID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	meta := workflow.Extract(graph)
	record := &models.JobRecord{
		ID:            jobID,
		Status:        models.StatusPending,
		Message:       "job submitted",
		Prompt:        req.Prompt,
		Model:         req.Template,
		Seed:          seed,
		CreatedAt:     now,
		LastUpdated:   now,
		BatchID:       req.BatchID,
		SegmentIndex:  req.SegmentIndex,
		TotalSegments: req.TotalSegments,
		Content:       req.Content,
	}
	record.SetMetadata(meta.Prompt, meta.Model)

	if err := s.store.Put(store.PartitionActive, jobID, record); err != nil {
		// The engine owns the job now; losing the record only means the
		// reconciler adopts it on a later tick
		s.log.Error("failed to store new job record", map[string]interface{}{
			"job_id": jobID, "error": err.Error(),
		})
		return record, nil
	}

	s.log.Info("job submitted", map[string]interface{}{
		"job_id": jobID, "template": req.Template, "seed": seed,
	})
	return record, nil
}

// SubmitBatch submits one job per prompt under a shared batch id. A
// failure partway returns the records created so far along with the error.
func (s *Service) SubmitBatch(ctx context.Context, template string, prompts []string, content string) ([]*models.JobRecord, error) {
	if len(prompts) == 0 {
		return nil, fmt.Errorf("prompt list is empty")
	}

	batchID := uuid.New().String()
	clientID := uuid.New().String()

	records := make([]*models.JobRecord, 0, len(prompts))
	for i, prompt := range prompts {
		record, err := s.SubmitJob(ctx, SubmitRequest{
			Template:      template,
			Prompt:        prompt,
			ClientID:      clientID,
			BatchID:       batchID,
			SegmentIndex:  i,
			TotalSegments: len(prompts),
			Content:       content,
		})
		if err != nil {
			return records, fmt.Errorf("segment %d of %d failed: %w", i+1, len(prompts), err)
		}
		records = append(records, record)
	}

	return records, nil
}

// GetJob retrieves a record from either partition
func (s *Service) GetJob(id string) (*models.JobRecord, error) {
	record, _, err := s.store.Lookup(id)
	return record, err
}

// ListJobs returns the merged active and terminal record sets
func (s *Service) ListJobs() (map[string]*models.JobRecord, error) {
	active, err := s.store.Scan(store.PartitionActive)
	if err != nil {
		return nil, err
	}
	terminal, err := s.store.Scan(store.PartitionTerminal)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]*models.JobRecord, len(active)+len(terminal))
	for id, record := range active {
		merged[id] = record
	}
	for id, record := range terminal {
		merged[id] = record
	}
	return merged, nil
}

// DeleteJob removes a record from both partitions
func (s *Service) DeleteJob(id string) error {
	return s.store.Purge(id)
}
