package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// HandlerResult is the uniform outcome every job-kind handler returns.
type HandlerResult struct {
	Success        bool           `json:"success"`
	Message        string         `json:"message"`
	Details        map[string]any `json:"details,omitempty"`
	ProcessedCount int            `json:"processed_count"`
	Errors         []string       `json:"errors,omitempty"`
}

// Handler executes one job kind. Handlers receive the job (with its typed,
// pre-validated configuration document) and return a uniform result; they
// must not retry upstream calls themselves.
type Handler interface {
	Kind() Kind
	Run(ctx context.Context, job *Job) (HandlerResult, error)
}

// ErrJobRunning rejects a dispatch while the job already has an open
// execution.
var ErrJobRunning = errors.New("job already running")

// CycleStats tracks one orchestrator pass over due jobs.
type CycleStats struct {
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	JobsRun    int
	JobsFailed int
	Processed  map[string]int // job name -> processed count
	Errors     []string
}

// ExecutionStats aggregates a job's execution history.
type ExecutionStats struct {
	Total       int            `json:"total"`
	ByStatus    map[Status]int `json:"by_status"`
	MeanElapsed time.Duration  `json:"mean_elapsed"`
	MostRecent  *Execution     `json:"most_recent,omitempty"`
}

// Orchestrator owns job definitions and dispatches due jobs to the matching
// handler. Jobs in one pass run sequentially; one job's failure is isolated
// and recorded, never crashing the pass.
type Orchestrator struct {
	store    Store
	logger   *slog.Logger
	now      func() time.Time
	handlers map[Kind]Handler

	mu        sync.Mutex
	lastStats *CycleStats
}

// NewOrchestrator creates an orchestrator around the given store.
func NewOrchestrator(store Store, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		store:    store,
		logger:   logger.With("component", "orchestrator"),
		now:      time.Now,
		handlers: make(map[Kind]Handler),
	}
}

// Register adds a handler for its job kind.
func (o *Orchestrator) Register(h Handler) {
	o.handlers[h.Kind()] = h
	o.logger.Info("registered handler", "kind", string(h.Kind()))
}

// CreateJob validates the job, assigns an id, computes the first next_run_at
// and persists it.
func (o *Orchestrator) CreateJob(ctx context.Context, job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	now := o.now()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.NextRunAt = job.Schedule.Next(now)
	job.CreatedAt = now
	job.UpdatedAt = now

	if err := o.store.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("creating job: %w", err)
	}

	o.logger.Info("created job",
		"job", job.Name,
		"kind", string(job.Kind),
		"schedule", string(job.Schedule),
		"next_run_at", job.NextRunAt,
	)
	return nil
}

// UpdateJob validates and persists changes to a job. A changed schedule
// expression recomputes next_run_at from now.
func (o *Orchestrator) UpdateJob(ctx context.Context, job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	existing, err := o.store.GetJob(ctx, job.OwnerID, job.ID)
	if err != nil {
		return err
	}

	now := o.now()
	if existing.Schedule != job.Schedule {
		job.NextRunAt = job.Schedule.Next(now)
	} else {
		job.NextRunAt = existing.NextRunAt
	}
	job.UpdatedAt = now

	if err := o.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	return nil
}

// DeleteJob removes the job definition. Execution history is orphaned, not
// cascade-deleted, for audit purposes.
func (o *Orchestrator) DeleteJob(ctx context.Context, ownerID, id string) error {
	return o.store.DeleteJob(ctx, ownerID, id)
}

// DueJobs returns the owner's jobs that are due now: active, next_run_at in
// the past, not currently running.
func (o *Orchestrator) DueJobs(ctx context.Context, ownerID string) ([]Job, error) {
	return o.store.DueJobs(ctx, ownerID, o.now())
}

// RunDue processes all due jobs for the owner sequentially. A failing or
// panicking handler is recorded against its own job and the pass continues.
func (o *Orchestrator) RunDue(ctx context.Context, ownerID string) (*CycleStats, error) {
	due, err := o.DueJobs(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing due jobs: %w", err)
	}

	stats := &CycleStats{
		StartTime: o.now(),
		Processed: make(map[string]int),
	}

	for i := range due {
		job := &due[i]

		exec, err := o.dispatch(ctx, job)
		if err != nil {
			// Bookkeeping failure, not a handler failure: the job could not
			// be dispatched at all and was not run.
			o.logger.Error("failed to dispatch job", "job", job.Name, "error", err)
			stats.JobsFailed++
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", job.Name, err))
			continue
		}
		stats.JobsRun++

		var result HandlerResult
		if exec.Result != "" {
			_ = json.Unmarshal([]byte(exec.Result), &result)
		}
		stats.Processed[job.Name] = result.ProcessedCount

		if exec.Status == StatusFailed {
			stats.JobsFailed++
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %s", job.Name, exec.Error))
		}
	}

	stats.EndTime = o.now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)

	o.mu.Lock()
	o.lastStats = stats
	o.mu.Unlock()

	o.logCycleSummary(stats)
	return stats, nil
}

// RunJob executes a specific job immediately regardless of due time. It goes
// through the identical due -> running -> idle path as scheduled runs.
func (o *Orchestrator) RunJob(ctx context.Context, ownerID, id string) (*Execution, error) {
	job, err := o.store.GetJob(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	return o.dispatch(ctx, job)
}

// dispatch runs one job through its full lifecycle: open an execution and
// mark the job running before invoking the handler, so a crash mid-execution
// leaves visible evidence; close the execution and reschedule regardless of
// outcome.
func (o *Orchestrator) dispatch(ctx context.Context, job *Job) (*Execution, error) {
	if job.LastRunStatus == StatusRunning {
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, job.Name)
	}

	start := o.now()
	exec := &Execution{
		ID:        uuid.New().String(),
		JobID:     job.ID,
		OwnerID:   job.OwnerID,
		StartedAt: start,
		Status:    StatusRunning,
	}
	if err := o.store.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("opening execution: %w", err)
	}

	job.LastRunStatus = StatusRunning
	job.UpdatedAt = start
	if err := o.store.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("marking job running: %w", err)
	}

	o.logger.Info("running job", "job", job.Name, "kind", string(job.Kind))

	result, runErr := o.runHandler(ctx, job)

	completed := o.now()
	exec.CompletedAt = &completed
	exec.Elapsed = completed.Sub(start)

	if runErr != nil {
		exec.Status = StatusFailed
		exec.Error = runErr.Error()
		job.LastRunStatus = StatusFailed
		job.LastRunMessage = runErr.Error()
		o.logger.Error("job failed, continuing", "job", job.Name, "error", runErr)
	} else {
		if resultJSON, err := json.Marshal(result); err == nil {
			exec.Result = string(resultJSON)
		}
		if result.Success {
			exec.Status = StatusSuccess
			job.LastRunStatus = StatusSuccess
		} else {
			exec.Status = StatusFailed
			exec.Error = result.Message
			job.LastRunStatus = StatusFailed
		}
		job.LastRunMessage = result.Message
		o.logger.Info("job completed",
			"job", job.Name,
			"success", result.Success,
			"processed", result.ProcessedCount,
			"elapsed", exec.Elapsed.Round(time.Millisecond),
		)
	}

	if err := o.store.UpdateExecution(ctx, exec); err != nil {
		o.logger.Error("failed to close execution", "job", job.Name, "error", err)
	}

	// A failed run still reschedules; retries at the individual-call level
	// are the resilience layer's job, not the scheduler's.
	job.LastRunAt = &start
	job.NextRunAt = job.Schedule.Next(start)
	job.UpdatedAt = completed
	if err := o.store.UpdateJob(ctx, job); err != nil {
		o.logger.Error("failed to reschedule job", "job", job.Name, "error", err)
	}

	return exec, nil
}

// runHandler invokes the job's handler with panic isolation. A missing
// handler or a panic is a handler-level failure, not an orchestrator crash.
func (o *Orchestrator) runHandler(ctx context.Context, job *Job) (result HandlerResult, err error) {
	handler, ok := o.handlers[job.Kind]
	if !ok {
		return HandlerResult{}, fmt.Errorf("%w: %q", ErrUnknownKind, job.Kind)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	return handler.Run(ctx, job)
}

// History returns the job's executions newest-first.
func (o *Orchestrator) History(ctx context.Context, ownerID, jobID string, limit int) ([]Execution, error) {
	return o.store.ListExecutions(ctx, ownerID, jobID, limit)
}

// Stats aggregates a job's execution history: counts by status, mean elapsed
// time and the most recent execution.
func (o *Orchestrator) Stats(ctx context.Context, ownerID, jobID string) (*ExecutionStats, error) {
	execs, err := o.store.ListExecutions(ctx, ownerID, jobID, 0)
	if err != nil {
		return nil, err
	}

	stats := &ExecutionStats{
		Total:    len(execs),
		ByStatus: make(map[Status]int),
	}
	if len(execs) == 0 {
		return stats, nil
	}

	var totalElapsed time.Duration
	for i := range execs {
		stats.ByStatus[execs[i].Status]++
		totalElapsed += execs[i].Elapsed
	}
	stats.MeanElapsed = totalElapsed / time.Duration(len(execs))
	stats.MostRecent = &execs[0]

	return stats, nil
}

// LastStats returns the statistics from the most recent RunDue pass.
func (o *Orchestrator) LastStats() *CycleStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastStats
}

// logCycleSummary outputs a single structured summary of a pass.
func (o *Orchestrator) logCycleSummary(stats *CycleStats) {
	totalProcessed := 0
	for _, v := range stats.Processed {
		totalProcessed += v
	}

	o.logger.Info("cycle complete",
		slog.Group("cycle",
			slog.Duration("duration", stats.Duration.Round(time.Millisecond)),
			slog.Int("jobs_run", stats.JobsRun),
			slog.Int("jobs_failed", stats.JobsFailed),
		),
		slog.Int("processed", totalProcessed),
	)

	if len(stats.Errors) > 0 {
		o.logger.Warn("cycle errors",
			slog.Int("count", len(stats.Errors)),
			slog.Any("errors", stats.Errors),
		)
	}
}
