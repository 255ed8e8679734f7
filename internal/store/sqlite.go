package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/boxkeep/boxkeep/internal/jobs"
	"github.com/boxkeep/boxkeep/internal/rules"
)

// SQLiteStore persists jobs, rules and their execution history in a local
// SQLite database. It satisfies jobs.Store and adds the rule CRUD surface.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, enables WAL
// mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// WAL keeps reads concurrent with scheduler writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// CreateJob inserts a new job. Missing ids are generated.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *jobs.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id, owner_id, kind, name, schedule, config, is_active,
			next_run_at, last_run_at, last_run_status, last_run_message,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.OwnerID, string(job.Kind), job.Name, string(job.Schedule),
		rawConfig(job.Config), boolToInt(job.Active),
		job.NextRunAt.UTC(), nullTime(job.LastRunAt),
		string(job.LastRunStatus), job.LastRunMessage,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob retrieves one job scoped to its owner.
func (s *SQLiteStore) GetJob(ctx context.Context, ownerID, id string) (*jobs.Job, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT * FROM jobs WHERE owner_id = ? AND id = ?", ownerID, id)

	job, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting job %s: %w", id, err)
	}
	return &job, nil
}

// UpdateJob rewrites a job's mutable fields.
func (s *SQLiteStore) UpdateJob(ctx context.Context, job *jobs.Job) error {
	job.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			kind = ?, name = ?, schedule = ?, config = ?, is_active = ?,
			next_run_at = ?, last_run_at = ?, last_run_status = ?,
			last_run_message = ?, updated_at = ?
		WHERE owner_id = ? AND id = ?`,
		string(job.Kind), job.Name, string(job.Schedule), rawConfig(job.Config),
		boolToInt(job.Active), job.NextRunAt.UTC(), nullTime(job.LastRunAt),
		string(job.LastRunStatus), job.LastRunMessage, job.UpdatedAt,
		job.OwnerID, job.ID,
	)
	if err != nil {
		return fmt.Errorf("updating job %s: %w", job.ID, err)
	}
	return requireRow(res, jobs.ErrNotFound)
}

// DeleteJob removes a job. Execution history is kept.
func (s *SQLiteStore) DeleteJob(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM jobs WHERE owner_id = ? AND id = ?", ownerID, id)
	if err != nil {
		return fmt.Errorf("deleting job %s: %w", id, err)
	}
	return requireRow(res, jobs.ErrNotFound)
}

// ListJobs returns all of an owner's jobs ordered by name.
func (s *SQLiteStore) ListJobs(ctx context.Context, ownerID string) ([]jobs.Job, error) {
	return s.queryJobs(ctx,
		"SELECT * FROM jobs WHERE owner_id = ? ORDER BY name", ownerID)
}

// DueJobs returns active jobs whose next_run_at has passed and that are not
// already running, ordered oldest due first.
func (s *SQLiteStore) DueJobs(ctx context.Context, ownerID string, now time.Time) ([]jobs.Job, error) {
	return s.queryJobs(ctx, `
		SELECT * FROM jobs
		WHERE owner_id = ? AND is_active = 1 AND next_run_at <= ?
			AND last_run_status != ?
		ORDER BY next_run_at`,
		ownerID, now.UTC(), string(jobs.StatusRunning))
}

func (s *SQLiteStore) queryJobs(ctx context.Context, query string, args ...any) ([]jobs.Job, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	var result []jobs.Job
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

// CreateExecution inserts a new execution record.
func (s *SQLiteStore) CreateExecution(ctx context.Context, exec *jobs.Execution) error {
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_executions (
			id, job_id, owner_id, started_at, completed_at,
			status, result, error_message, elapsed_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.JobID, exec.OwnerID, exec.StartedAt.UTC(),
		nullTime(exec.CompletedAt), string(exec.Status),
		exec.Result, exec.Error, exec.Elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("creating execution %s: %w", exec.ID, err)
	}
	return nil
}

// UpdateExecution rewrites an execution's completion fields.
func (s *SQLiteStore) UpdateExecution(ctx context.Context, exec *jobs.Execution) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE job_executions SET
			completed_at = ?, status = ?, result = ?, error_message = ?, elapsed_ms = ?
		WHERE id = ?`,
		nullTime(exec.CompletedAt), string(exec.Status),
		exec.Result, exec.Error, exec.Elapsed.Milliseconds(), exec.ID,
	)
	if err != nil {
		return fmt.Errorf("updating execution %s: %w", exec.ID, err)
	}
	return requireRow(res, jobs.ErrNotFound)
}

// ListExecutions returns a job's executions newest-first. A limit of 0 means
// unbounded.
func (s *SQLiteStore) ListExecutions(ctx context.Context, ownerID, jobID string, limit int) ([]jobs.Execution, error) {
	query := `
		SELECT * FROM job_executions
		WHERE owner_id = ? AND job_id = ?
		ORDER BY started_at DESC`
	args := []any{ownerID, jobID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var result []jobs.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, exec)
	}
	return result, rows.Err()
}

// CreateRule validates and inserts a new rule.
func (s *SQLiteStore) CreateRule(ctx context.Context, rule *rules.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	conditions, actions, schedule, err := marshalRuleParts(rule)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (
			id, owner_id, name, conditions, actions, schedule,
			is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.OwnerID, rule.Name, conditions, actions, schedule,
		boolToInt(rule.Active), rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating rule %s: %w", rule.ID, err)
	}
	return nil
}

// GetRule retrieves one rule scoped to its owner.
func (s *SQLiteStore) GetRule(ctx context.Context, ownerID, id string) (*rules.Rule, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT * FROM rules WHERE owner_id = ? AND id = ?", ownerID, id)

	rule, err := scanRule(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting rule %s: %w", id, err)
	}
	return &rule, nil
}

// UpdateRule validates and rewrites a rule.
func (s *SQLiteStore) UpdateRule(ctx context.Context, rule *rules.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	rule.UpdatedAt = time.Now().UTC()

	conditions, actions, schedule, err := marshalRuleParts(rule)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE rules SET
			name = ?, conditions = ?, actions = ?, schedule = ?,
			is_active = ?, updated_at = ?
		WHERE owner_id = ? AND id = ?`,
		rule.Name, conditions, actions, schedule,
		boolToInt(rule.Active), rule.UpdatedAt,
		rule.OwnerID, rule.ID,
	)
	if err != nil {
		return fmt.Errorf("updating rule %s: %w", rule.ID, err)
	}
	return requireRow(res, jobs.ErrNotFound)
}

// DeleteRule removes a rule. Its execution records are kept.
func (s *SQLiteStore) DeleteRule(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM rules WHERE owner_id = ? AND id = ?", ownerID, id)
	if err != nil {
		return fmt.Errorf("deleting rule %s: %w", id, err)
	}
	return requireRow(res, jobs.ErrNotFound)
}

// ListRules returns all of an owner's rules ordered by name.
func (s *SQLiteStore) ListRules(ctx context.Context, ownerID string) ([]rules.Rule, error) {
	return s.queryRules(ctx,
		"SELECT * FROM rules WHERE owner_id = ? ORDER BY name", ownerID)
}

// ActiveRules returns the owner's active rules ordered by name.
func (s *SQLiteStore) ActiveRules(ctx context.Context, ownerID string) ([]rules.Rule, error) {
	return s.queryRules(ctx,
		"SELECT * FROM rules WHERE owner_id = ? AND is_active = 1 ORDER BY name", ownerID)
}

func (s *SQLiteStore) queryRules(ctx context.Context, query string, args ...any) ([]rules.Rule, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	var result []rules.Rule
	for rows.Next() {
		rule, err := scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, rule)
	}
	return result, rows.Err()
}

// AppendRuleRecord inserts a rule execution record.
func (s *SQLiteStore) AppendRuleRecord(ctx context.Context, record *rules.ExecutionRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_executions (
			id, rule_id, owner_id, emails_processed, emails_matched,
			actions_performed, success, error_message, elapsed_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.RuleID, record.OwnerID,
		record.EmailsProcessed, record.EmailsMatched, record.ActionsPerformed,
		boolToInt(record.Success), record.Error,
		record.Elapsed.Milliseconds(), record.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending rule record: %w", err)
	}
	return nil
}

// ListRuleRecords returns a rule's execution records newest-first. A limit of
// 0 means unbounded.
func (s *SQLiteStore) ListRuleRecords(ctx context.Context, ownerID, ruleID string, limit int) ([]rules.ExecutionRecord, error) {
	query := `
		SELECT * FROM rule_executions
		WHERE owner_id = ? AND rule_id = ?
		ORDER BY created_at DESC`
	args := []any{ownerID, ruleID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rule records: %w", err)
	}
	defer rows.Close()

	var result []rules.ExecutionRecord
	for rows.Next() {
		var (
			record    rules.ExecutionRecord
			success   int
			elapsedMS int64
			createdAt time.Time
		)
		err := rows.Scan(
			&record.ID, &record.RuleID, &record.OwnerID,
			&record.EmailsProcessed, &record.EmailsMatched, &record.ActionsPerformed,
			&success, &record.Error, &elapsedMS, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning rule record row: %w", err)
		}
		record.Success = success != 0
		record.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		record.Timestamp = createdAt
		result = append(result, record)
	}
	return result, rows.Err()
}

// scanJob scans a job row through the given Scan function so it serves both
// sqlx.Row and sqlx.Rows.
func scanJob(scan func(...any) error) (jobs.Job, error) {
	var (
		job       jobs.Job
		kind      string
		schedule  string
		config    string
		active    int
		status    string
		lastRunAt sql.NullTime
	)

	err := scan(
		&job.ID, &job.OwnerID, &kind, &job.Name, &schedule, &config, &active,
		&job.NextRunAt, &lastRunAt, &status, &job.LastRunMessage,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return jobs.Job{}, err
		}
		return jobs.Job{}, fmt.Errorf("scanning job row: %w", err)
	}

	job.Kind = jobs.Kind(kind)
	job.Schedule = jobs.Schedule(schedule)
	job.Config = json.RawMessage(config)
	job.Active = active != 0
	job.LastRunStatus = jobs.Status(status)
	if lastRunAt.Valid {
		t := lastRunAt.Time
		job.LastRunAt = &t
	}

	return job, nil
}

func scanExecution(rows *sqlx.Rows) (jobs.Execution, error) {
	var (
		exec        jobs.Execution
		completedAt sql.NullTime
		status      string
		elapsedMS   int64
	)

	err := rows.Scan(
		&exec.ID, &exec.JobID, &exec.OwnerID, &exec.StartedAt,
		&completedAt, &status, &exec.Result, &exec.Error, &elapsedMS,
	)
	if err != nil {
		return jobs.Execution{}, fmt.Errorf("scanning execution row: %w", err)
	}

	exec.Status = jobs.Status(status)
	exec.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	if completedAt.Valid {
		t := completedAt.Time
		exec.CompletedAt = &t
	}

	return exec, nil
}

func scanRule(scan func(...any) error) (rules.Rule, error) {
	var (
		rule       rules.Rule
		conditions string
		actions    string
		schedule   sql.NullString
		active     int
	)

	err := scan(
		&rule.ID, &rule.OwnerID, &rule.Name, &conditions, &actions,
		&schedule, &active, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rules.Rule{}, err
		}
		return rules.Rule{}, fmt.Errorf("scanning rule row: %w", err)
	}

	rule.Active = active != 0
	if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
		return rules.Rule{}, fmt.Errorf("unmarshaling rule conditions: %w", err)
	}
	if err := json.Unmarshal([]byte(actions), &rule.Actions); err != nil {
		return rules.Rule{}, fmt.Errorf("unmarshaling rule actions: %w", err)
	}
	if schedule.Valid && schedule.String != "" {
		var sched rules.Schedule
		if err := json.Unmarshal([]byte(schedule.String), &sched); err != nil {
			return rules.Rule{}, fmt.Errorf("unmarshaling rule schedule: %w", err)
		}
		rule.Schedule = &sched
	}

	return rule, nil
}

// marshalRuleParts serializes the nested rule fields for their JSON columns.
func marshalRuleParts(rule *rules.Rule) (conditions, actions string, schedule sql.NullString, err error) {
	condBytes, err := json.Marshal(rule.Conditions)
	if err != nil {
		return "", "", schedule, fmt.Errorf("marshaling rule conditions: %w", err)
	}
	actionBytes, err := json.Marshal(rule.Actions)
	if err != nil {
		return "", "", schedule, fmt.Errorf("marshaling rule actions: %w", err)
	}
	if rule.Schedule != nil {
		schedBytes, err := json.Marshal(rule.Schedule)
		if err != nil {
			return "", "", schedule, fmt.Errorf("marshaling rule schedule: %w", err)
		}
		schedule = sql.NullString{String: string(schedBytes), Valid: true}
	}
	return string(condBytes), string(actionBytes), schedule, nil
}

// requireRow converts a zero-row result into notFound.
func requireRow(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

// nullTime binds an optional timestamp as NULL when unset.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// rawConfig normalizes a possibly-nil config payload for storage.
func rawConfig(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
