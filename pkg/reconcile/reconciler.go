package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rhuidobro/renderq/pkg/engine"
	"github.com/rhuidobro/renderq/pkg/logging"
	"github.com/rhuidobro/renderq/pkg/models"
	"github.com/rhuidobro/renderq/pkg/resolve"
	"github.com/rhuidobro/renderq/pkg/store"
	"github.com/rhuidobro/renderq/pkg/workflow"
)

// Config defines the reconciliation cadence and garbage collection policy
type Config struct {
	TickInterval     time.Duration // queue snapshot poll interval
	GCInterval       time.Duration // garbage collector sweep interval
	ErrorDemotionAge time.Duration // active error records older than this move to terminal
	Retention        time.Duration // terminal records older than this are deleted
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		TickInterval:     20 * time.Second,
		GCInterval:       5 * time.Minute,
		ErrorDemotionAge: 1 * time.Hour,
		Retention:        7 * 24 * time.Hour,
	}
}

// QueueSource provides the remote queue snapshot. The engine client
// satisfies this.
type QueueSource interface {
	Queue(ctx context.Context) (*engine.QueueSnapshot, error)
}

// Resolver determines the fate of jobs that fell out of the snapshot
type Resolver interface {
	Resolve(ctx context.Context, jobID string) resolve.Outcome
}

// Metrics receives reconciliation observations; a nil recorder is allowed
type Metrics interface {
	ObserveTick(duration time.Duration, err error)
	JobFinished(status models.Status)
	RecordsExpired(n int)
}

// Reconciler merges the engine's transient queue snapshot and history
// endpoint into durable job records. It is the single writer for existing
// records: the submission gateway only ever creates fresh keys.
type Reconciler struct {
	config   Config
	store    store.Store
	queue    QueueSource
	resolver Resolver
	metrics  Metrics
	log      *logging.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a reconciler. metrics may be nil.
func New(config Config, s store.Store, queue QueueSource, resolver Resolver, metrics Metrics, log *logging.Logger) *Reconciler {
	return &Reconciler{
		config:   config,
		store:    s,
		queue:    queue,
		resolver: resolver,
		metrics:  metrics,
		log:      log.WithField("component", "reconciler"),
	}
}

// Start launches the reconciliation loop and the garbage collector on
// independent timers. Both stop when Stop is called.
func (r *Reconciler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(2)
	go r.tickLoop(ctx)
	go r.gcLoop(ctx)

	r.log.Info("reconciler started", map[string]interface{}{
		"tick_interval": r.config.TickInterval.String(),
		"gc_interval":   r.config.GCInterval.String(),
	})
}

// Stop cancels both loops and waits for them to drain
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.log.Info("reconciler stopped")
}

// tickLoop runs Tick on a fixed interval. Ticks are single-flight by
// construction: the next timer fire is not serviced until the previous
// Tick returns.
func (r *Reconciler) tickLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			err := r.Tick(ctx)
			if r.metrics != nil {
				r.metrics.ObserveTick(time.Since(start), err)
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				r.log.Error("reconciliation tick failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

func (r *Reconciler) gcLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Tick runs one reconciliation pass: refresh active records from the
// queue snapshot, then route records that disappeared from the snapshot
// through the history resolver. A snapshot fetch failure aborts the tick;
// updates already applied stay, and the next tick retries.
func (r *Reconciler) Tick(ctx context.Context) error {
	snapshot, err := r.queue.Queue(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	activeIDs := make(map[string]bool)

	// Running jobs first so a job listed in both phases lands on processing
	for _, entry := range snapshot.Running {
		activeIDs[entry.ID] = true
		if err := r.applyRunning(entry, now); err != nil {
			return err
		}
	}

	for i, entry := range snapshot.Pending {
		activeIDs[entry.ID] = true
		if err := r.applyPending(entry, i+1, now); err != nil {
			return err
		}
	}

	return r.resolveVanished(ctx, activeIDs, now)
}

func (r *Reconciler) applyRunning(entry engine.QueueEntry, now time.Time) error {
	record, err := r.store.Get(store.PartitionActive, entry.ID)
	if errors.Is(err, store.ErrJobNotFound) {
		record = r.newRecord(entry, now)
	} else if err != nil {
		return err
	}

	record.MarkProcessing(now)
	r.fillMetadata(record, entry.Graph)
	return r.store.Put(store.PartitionActive, entry.ID, record)
}

func (r *Reconciler) applyPending(entry engine.QueueEntry, position int, now time.Time) error {
	record, err := r.store.Get(store.PartitionActive, entry.ID)
	if errors.Is(err, store.ErrJobNotFound) {
		record = r.newRecord(entry, now)
	} else if err != nil {
		return err
	}

	record.MarkPending(now, position)
	r.fillMetadata(record, entry.Graph)
	return r.store.Put(store.PartitionActive, entry.ID, record)
}

// newRecord adopts a job the engine knows about but this service never
// saw submitted, e.g. after a restart or a submission from another client
func (r *Reconciler) newRecord(entry engine.QueueEntry, now time.Time) *models.JobRecord {
	r.log.Info("adopting unknown job from queue snapshot", map[string]interface{}{"job_id": entry.ID})
	return &models.JobRecord{
		ID:        entry.ID,
		CreatedAt: now,
	}
}

func (r *Reconciler) fillMetadata(record *models.JobRecord, graph workflow.Graph) {
	if record.Prompt != "" && record.Model != "" {
		return
	}
	if len(graph) == 0 {
		return
	}
	meta := workflow.Extract(graph)
	record.SetMetadata(meta.Prompt, meta.Model)
}

// resolveVanished handles active records absent from the current
// snapshot: the engine finished them, failed them, or lost them. The
// resolver decides which; resolver failures surface as per-job error
// outcomes and never abort the pass.
func (r *Reconciler) resolveVanished(ctx context.Context, activeIDs map[string]bool, now time.Time) error {
	records, err := r.store.Scan(store.PartitionActive)
	if err != nil {
		return err
	}

	for id, record := range records {
		if activeIDs[id] {
			continue
		}

		// A terminal status in the active partition means an earlier
		// relocation failed mid-way; finish the move instead of
		// re-resolving.
		if record.Status.IsTerminal() {
			if err := r.store.Move(id, store.PartitionActive, store.PartitionTerminal); err != nil {
				r.log.Warn("failed to relocate terminal record", map[string]interface{}{
					"job_id": id, "error": err.Error(),
				})
			}
			continue
		}

		outcome := r.resolver.Resolve(ctx, id)
		if err := r.applyOutcome(id, record, outcome, now); err != nil {
			r.log.Error("failed to apply resolver outcome", map[string]interface{}{
				"job_id": id, "error": err.Error(),
			})
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	return nil
}

// applyOutcome writes a resolver verdict back to the store. Terminal
// outcomes relocate the record to terminal storage in one atomic move.
func (r *Reconciler) applyOutcome(id string, record *models.JobRecord, outcome resolve.Outcome, now time.Time) error {
	record.Status = outcome.Status
	record.Message = outcome.Message
	record.SetMetadata(outcome.Prompt, outcome.Model)
	if outcome.ProcessingTime > 0 {
		record.ProcessingTime = outcome.ProcessingTime
	}
	record.Touch(now)

	if !outcome.Status.IsTerminal() {
		return r.store.Put(store.PartitionActive, id, record)
	}

	if outcome.Status == models.StatusCompleted && outcome.OutputPath != "" {
		record.OutputPath = outcome.OutputPath
		record.PreviewURL = outcome.PreviewURL
		record.ArtifactType = outcome.ArtifactType
	}
	completed := now
	record.CompletedAt = &completed

	if err := r.store.Put(store.PartitionActive, id, record); err != nil {
		return err
	}
	if err := r.store.Move(id, store.PartitionActive, store.PartitionTerminal); err != nil {
		return err
	}

	if r.metrics != nil {
		r.metrics.JobFinished(outcome.Status)
	}
	r.log.Info("job reached terminal state", map[string]interface{}{
		"job_id": id, "status": string(outcome.Status), "message": outcome.Message,
	})
	return nil
}

// Sweep runs one garbage collection pass over both partitions. A single
// record's failure is logged and skipped; the sweep always visits every
// record.
func (r *Reconciler) Sweep(ctx context.Context) {
	now := time.Now()

	active, err := r.store.Scan(store.PartitionActive)
	if err != nil {
		r.log.Error("gc: active scan failed", map[string]interface{}{"error": err.Error()})
	} else {
		for id, record := range active {
			r.sweepActive(ctx, id, record, now)
		}
	}

	terminal, err := r.store.Scan(store.PartitionTerminal)
	if err != nil {
		r.log.Error("gc: terminal scan failed", map[string]interface{}{"error": err.Error()})
		return
	}

	expired := 0
	for id, record := range terminal {
		reference := record.LastUpdated
		if record.CompletedAt != nil {
			reference = *record.CompletedAt
		}
		if now.Sub(reference) <= r.config.Retention {
			continue
		}
		if err := r.store.Delete(store.PartitionTerminal, id); err != nil {
			r.log.Warn("gc: failed to delete expired record", map[string]interface{}{
				"job_id": id, "error": err.Error(),
			})
			continue
		}
		expired++
	}

	if expired > 0 {
		if r.metrics != nil {
			r.metrics.RecordsExpired(expired)
		}
		r.log.Info("gc: expired terminal records deleted", map[string]interface{}{"count": expired})
	}
}

func (r *Reconciler) sweepActive(ctx context.Context, id string, record *models.JobRecord, now time.Time) {
	switch record.Status {
	case models.StatusError:
		// Erroring records that stopped updating are demoted so they
		// stop being re-resolved every tick
		if now.Sub(record.LastUpdated) <= r.config.ErrorDemotionAge {
			return
		}
		completed := now
		record.CompletedAt = &completed
		record.Touch(now)
		if err := r.store.Put(store.PartitionActive, id, record); err != nil {
			r.log.Warn("gc: failed to update stale error record", map[string]interface{}{"job_id": id, "error": err.Error()})
			return
		}
		if err := r.store.Move(id, store.PartitionActive, store.PartitionTerminal); err != nil {
			r.log.Warn("gc: failed to demote stale error record", map[string]interface{}{"job_id": id, "error": err.Error()})
			return
		}
		r.log.Info("gc: stale error record moved to terminal storage", map[string]interface{}{"job_id": id})

	case models.StatusUnknown:
		outcome := r.resolver.Resolve(ctx, id)
		if !outcome.Status.IsTerminal() {
			return
		}
		if err := r.applyOutcome(id, record, outcome, now); err != nil {
			r.log.Warn("gc: failed to settle unknown record", map[string]interface{}{"job_id": id, "error": err.Error()})
		}
	}
}
