package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/boxkeep/boxkeep/internal/rules"
)

// ErrNotFound is returned by a Store when a record does not exist for the
// given owner.
var ErrNotFound = errors.New("record not found")

// Store is the durable-store collaborator as the orchestrator consumes it.
// All queries are owner-scoped.
type Store interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, ownerID, id string) (*Job, error)
	UpdateJob(ctx context.Context, job *Job) error
	DeleteJob(ctx context.Context, ownerID, id string) error
	ListJobs(ctx context.Context, ownerID string) ([]Job, error)

	// DueJobs returns active jobs with next_run_at <= now that are not
	// currently running.
	DueJobs(ctx context.Context, ownerID string, now time.Time) ([]Job, error)

	CreateExecution(ctx context.Context, exec *Execution) error
	UpdateExecution(ctx context.Context, exec *Execution) error

	// ListExecutions returns a job's executions newest-first, bounded by
	// limit (0 means no bound).
	ListExecutions(ctx context.Context, ownerID, jobID string, limit int) ([]Execution, error)

	GetRule(ctx context.Context, ownerID, id string) (*rules.Rule, error)
	ActiveRules(ctx context.Context, ownerID string) ([]rules.Rule, error)
	AppendRuleRecord(ctx context.Context, record *rules.ExecutionRecord) error
}
