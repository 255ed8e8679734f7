package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boxkeep/boxkeep/internal/jobs"
	"github.com/boxkeep/boxkeep/internal/rules"
)

// Memory is a map-backed implementation of the same surface as SQLiteStore.
// It backs tests and the throwaway dev mode where no database file is wanted.
type Memory struct {
	mu          sync.RWMutex
	jobs        map[string]jobs.Job
	executions  map[string]jobs.Execution
	rules       map[string]rules.Rule
	ruleRecords []rules.ExecutionRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:       make(map[string]jobs.Job),
		executions: make(map[string]jobs.Execution),
		rules:      make(map[string]rules.Rule),
	}
}

func (m *Memory) CreateJob(_ context.Context, job *jobs.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	m.jobs[job.ID] = *job
	return nil
}

func (m *Memory) GetJob(_ context.Context, ownerID, id string) (*jobs.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok || job.OwnerID != ownerID {
		return nil, jobs.ErrNotFound
	}
	return &job, nil
}

func (m *Memory) UpdateJob(_ context.Context, job *jobs.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.jobs[job.ID]
	if !ok || existing.OwnerID != job.OwnerID {
		return jobs.ErrNotFound
	}
	job.UpdatedAt = time.Now().UTC()
	m.jobs[job.ID] = *job
	return nil
}

func (m *Memory) DeleteJob(_ context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.OwnerID != ownerID {
		return jobs.ErrNotFound
	}
	delete(m.jobs, id)
	return nil
}

func (m *Memory) ListJobs(_ context.Context, ownerID string) ([]jobs.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []jobs.Job
	for _, job := range m.jobs {
		if job.OwnerID == ownerID {
			result = append(result, job)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *Memory) DueJobs(_ context.Context, ownerID string, now time.Time) ([]jobs.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []jobs.Job
	for _, job := range m.jobs {
		if job.OwnerID != ownerID || !job.Active {
			continue
		}
		if job.LastRunStatus == jobs.StatusRunning {
			continue
		}
		if job.NextRunAt.After(now) {
			continue
		}
		result = append(result, job)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].NextRunAt.Before(result[j].NextRunAt)
	})
	return result, nil
}

func (m *Memory) CreateExecution(_ context.Context, exec *jobs.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	m.executions[exec.ID] = *exec
	return nil
}

func (m *Memory) UpdateExecution(_ context.Context, exec *jobs.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.executions[exec.ID]; !ok {
		return jobs.ErrNotFound
	}
	m.executions[exec.ID] = *exec
	return nil
}

func (m *Memory) ListExecutions(_ context.Context, ownerID, jobID string, limit int) ([]jobs.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []jobs.Execution
	for _, exec := range m.executions {
		if exec.OwnerID == ownerID && exec.JobID == jobID {
			result = append(result, exec)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *Memory) CreateRule(_ context.Context, rule *rules.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	m.rules[rule.ID] = *rule
	return nil
}

func (m *Memory) GetRule(_ context.Context, ownerID, id string) (*rules.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rule, ok := m.rules[id]
	if !ok || rule.OwnerID != ownerID {
		return nil, jobs.ErrNotFound
	}
	return &rule, nil
}

func (m *Memory) UpdateRule(_ context.Context, rule *rules.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.rules[rule.ID]
	if !ok || existing.OwnerID != rule.OwnerID {
		return jobs.ErrNotFound
	}
	rule.UpdatedAt = time.Now().UTC()
	m.rules[rule.ID] = *rule
	return nil
}

func (m *Memory) DeleteRule(_ context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rule, ok := m.rules[id]
	if !ok || rule.OwnerID != ownerID {
		return jobs.ErrNotFound
	}
	delete(m.rules, id)
	return nil
}

func (m *Memory) ListRules(_ context.Context, ownerID string) ([]rules.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []rules.Rule
	for _, rule := range m.rules {
		if rule.OwnerID == ownerID {
			result = append(result, rule)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *Memory) ActiveRules(_ context.Context, ownerID string) ([]rules.Rule, error) {
	all, _ := m.ListRules(context.Background(), ownerID)
	active := all[:0]
	for _, rule := range all {
		if rule.Active {
			active = append(active, rule)
		}
	}
	return active, nil
}

func (m *Memory) AppendRuleRecord(_ context.Context, record *rules.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	m.ruleRecords = append(m.ruleRecords, *record)
	return nil
}

func (m *Memory) ListRuleRecords(_ context.Context, ownerID, ruleID string, limit int) ([]rules.ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []rules.ExecutionRecord
	for _, record := range m.ruleRecords {
		if record.OwnerID == ownerID && record.RuleID == ruleID {
			result = append(result, record)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
