// Package jobs implements the scheduler / job orchestrator: persisted job
// definitions, due-time computation, dispatch to job-kind handlers, and
// execution bookkeeping.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind identifies which handler a job dispatches to. The set is closed.
type Kind string

const (
	KindCleanup             Kind = "cleanup"
	KindRuleExecution       Kind = "rule_execution"
	KindAnalyticsCollection Kind = "analytics_collection"
	KindUnsubscribeScan     Kind = "unsubscribe_scan"
)

var knownKinds = map[Kind]bool{
	KindCleanup:             true,
	KindRuleExecution:       true,
	KindAnalyticsCollection: true,
	KindUnsubscribeScan:     true,
}

// Status is a job's or execution's run status.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Schedule is one of the fixed named schedules. There is no general cron
// parser; anything outside this vocabulary is rejected at creation.
type Schedule string

const (
	ScheduleHourly  Schedule = "@hourly"
	ScheduleDaily   Schedule = "@daily"
	ScheduleWeekly  Schedule = "@weekly"
	ScheduleMonthly Schedule = "@monthly"
)

// ErrInvalidSchedule rejects expressions outside the named vocabulary.
var ErrInvalidSchedule = errors.New("invalid schedule expression")

// ParseSchedule validates a schedule expression.
func ParseSchedule(s string) (Schedule, error) {
	switch Schedule(s) {
	case ScheduleHourly, ScheduleDaily, ScheduleWeekly, ScheduleMonthly:
		return Schedule(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSchedule, s)
}

// Next computes the next run time from the given instant. Intervals are
// relative to the invocation time, so irregular invocations drift; that is
// the defined semantics, not a bug.
func (s Schedule) Next(now time.Time) time.Time {
	switch s {
	case ScheduleHourly:
		return now.Add(time.Hour)
	case ScheduleDaily:
		return now.Add(24 * time.Hour)
	case ScheduleWeekly:
		return now.Add(7 * 24 * time.Hour)
	case ScheduleMonthly:
		return now.AddDate(0, 1, 0)
	}
	return now.Add(24 * time.Hour)
}

// Job is a recurring or on-demand unit of automation work.
type Job struct {
	ID             string          `db:"id" json:"id"`
	OwnerID        string          `db:"owner_id" json:"owner_id"`
	Kind           Kind            `db:"kind" json:"kind"`
	Name           string          `db:"name" json:"name"`
	Schedule       Schedule        `db:"schedule" json:"schedule"`
	Config         json.RawMessage `db:"config" json:"config"`
	Active         bool            `db:"is_active" json:"is_active"`
	NextRunAt      time.Time       `db:"next_run_at" json:"next_run_at"`
	LastRunAt      *time.Time      `db:"last_run_at" json:"last_run_at,omitempty"`
	LastRunStatus  Status          `db:"last_run_status" json:"last_run_status,omitempty"`
	LastRunMessage string          `db:"last_run_message" json:"last_run_message,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// Execution is one attempt to run a job. Exactly one execution is open
// (CompletedAt nil) per job at a time.
type Execution struct {
	ID          string        `db:"id" json:"id"`
	JobID       string        `db:"job_id" json:"job_id"`
	OwnerID     string        `db:"owner_id" json:"owner_id"`
	StartedAt   time.Time     `db:"started_at" json:"started_at"`
	CompletedAt *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
	Status      Status        `db:"status" json:"status"`
	Result      string        `db:"result" json:"result,omitempty"`
	Error       string        `db:"error_message" json:"error_message,omitempty"`
	Elapsed     time.Duration `db:"elapsed" json:"elapsed"`
}

// CleanupConfig configures cleanup jobs.
type CleanupConfig struct {
	AutoArchive        bool `json:"auto_archive"`
	AutoDelete         bool `json:"auto_delete"`
	RetentionDays      int  `json:"retention_days"`
	TrashRetentionDays int  `json:"trash_retention_days"`
	SkipStarred        bool `json:"skip_starred"`
	MaxEmails          int  `json:"max_emails"`
}

// RuleExecutionConfig configures rule-execution jobs.
type RuleExecutionConfig struct {
	RuleIDs    []string `json:"rule_ids"`
	EmailQuery string   `json:"email_query"`
	MaxEmails  int      `json:"max_emails"`
}

// AnalyticsConfig configures analytics-collection jobs.
type AnalyticsConfig struct {
	IncludeLabels bool `json:"include_labels"`
}

// UnsubscribeScanConfig configures unsubscribe-scan jobs.
type UnsubscribeScanConfig struct {
	MaxEmails int `json:"max_emails"`
}

// ErrUnknownKind rejects job kinds outside the closed handler set.
var ErrUnknownKind = errors.New("unknown job kind")

// DecodeConfig decodes a job's free-form configuration document into the
// typed shape matching its kind. Decoding happens at the orchestrator
// boundary; handlers never see untyped documents.
func DecodeConfig(kind Kind, raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	var cfg any
	switch kind {
	case KindCleanup:
		cfg = &CleanupConfig{}
	case KindRuleExecution:
		cfg = &RuleExecutionConfig{}
	case KindAnalyticsCollection:
		cfg = &AnalyticsConfig{}
	case KindUnsubscribeScan:
		cfg = &UnsubscribeScanConfig{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("decoding %s config: %w", kind, err)
	}
	return cfg, nil
}

// Validate rejects jobs that must never be persisted: unknown kinds, invalid
// schedule expressions, undecodable configuration documents.
func (j *Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("job name must not be empty")
	}
	if j.OwnerID == "" {
		return fmt.Errorf("job owner must not be empty")
	}
	if !knownKinds[j.Kind] {
		return fmt.Errorf("%w: %q", ErrUnknownKind, j.Kind)
	}
	if _, err := ParseSchedule(string(j.Schedule)); err != nil {
		return err
	}
	if _, err := DecodeConfig(j.Kind, j.Config); err != nil {
		return err
	}
	return nil
}
