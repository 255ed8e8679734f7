package handler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxkeep/boxkeep/internal/analytics"
	"github.com/boxkeep/boxkeep/internal/jobs"
	"github.com/boxkeep/boxkeep/internal/mailclient"
	"github.com/boxkeep/boxkeep/internal/rules"
	"github.com/boxkeep/boxkeep/internal/store"
	"github.com/boxkeep/boxkeep/internal/unsubscribe"
)

// scriptedMail serves canned message lists per query and records mutations.
type scriptedMail struct {
	byQuery  map[string][]mailclient.Message
	listErr  map[string]error
	archived [][]string
	deleted  [][]string
	counts   mailclient.Counts
	labels   []mailclient.Label
}

func newScriptedMail() *scriptedMail {
	return &scriptedMail{
		byQuery: make(map[string][]mailclient.Message),
		listErr: make(map[string]error),
	}
}

func (m *scriptedMail) ListMessages(_ context.Context, query string, _ int) ([]mailclient.Message, error) {
	if err := m.listErr[query]; err != nil {
		return nil, err
	}
	return m.byQuery[query], nil
}

func (m *scriptedMail) Archive(_ context.Context, ids []string) (mailclient.ActionResult, error) {
	m.archived = append(m.archived, ids)
	return mailclient.ActionResult{Success: true, ProcessedCount: len(ids)}, nil
}

func (m *scriptedMail) Delete(_ context.Context, ids []string) (mailclient.ActionResult, error) {
	m.deleted = append(m.deleted, ids)
	return mailclient.ActionResult{Success: true, ProcessedCount: len(ids)}, nil
}

func (m *scriptedMail) AddLabels(_ context.Context, ids []string, _ []string) (mailclient.ActionResult, error) {
	return mailclient.ActionResult{Success: true, ProcessedCount: len(ids)}, nil
}

func (m *scriptedMail) MarkRead(_ context.Context, ids []string) (mailclient.ActionResult, error) {
	return mailclient.ActionResult{Success: true, ProcessedCount: len(ids)}, nil
}

func (m *scriptedMail) MarkUnread(_ context.Context, ids []string) (mailclient.ActionResult, error) {
	return mailclient.ActionResult{Success: true, ProcessedCount: len(ids)}, nil
}

func (m *scriptedMail) Star(_ context.Context, ids []string) (mailclient.ActionResult, error) {
	return mailclient.ActionResult{Success: true, ProcessedCount: len(ids)}, nil
}

func (m *scriptedMail) Unstar(_ context.Context, ids []string) (mailclient.ActionResult, error) {
	return mailclient.ActionResult{Success: true, ProcessedCount: len(ids)}, nil
}

func (m *scriptedMail) Counts(context.Context) (mailclient.Counts, error) {
	return m.counts, nil
}

func (m *scriptedMail) Labels(context.Context) ([]mailclient.Label, error) {
	return m.labels, nil
}

func (m *scriptedMail) Close() {}

func cleanupJob(t *testing.T, cfg jobs.CleanupConfig) *jobs.Job {
	t.Helper()
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	return &jobs.Job{
		ID:       "j1",
		OwnerID:  "alice",
		Kind:     jobs.KindCleanup,
		Name:     "cleanup",
		Schedule: jobs.ScheduleDaily,
		Config:   raw,
	}
}

func TestCleanupArchivesOldSkippingStarred(t *testing.T) {
	mail := newScriptedMail()
	mail.byQuery["in:inbox older_than:30d"] = []mailclient.Message{
		{ID: "m1"},
		{ID: "m2", Starred: true},
		{ID: "m3"},
	}

	h := NewCleanup(mail, nil, false)
	result, err := h.Run(context.Background(), cleanupJob(t, jobs.CleanupConfig{
		AutoArchive:   true,
		RetentionDays: 30,
		SkipStarred:   true,
	}))
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.ProcessedCount)
	require.Len(t, mail.archived, 1)
	assert.Equal(t, []string{"m1", "m3"}, mail.archived[0])
	assert.Empty(t, mail.deleted)
}

func TestCleanupEmptiesOldTrash(t *testing.T) {
	mail := newScriptedMail()
	mail.byQuery["in:trash older_than:90d"] = []mailclient.Message{{ID: "t1"}, {ID: "t2"}}

	h := NewCleanup(mail, nil, false)
	result, err := h.Run(context.Background(), cleanupJob(t, jobs.CleanupConfig{
		AutoDelete: true,
	}))
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.ProcessedCount)
	require.Len(t, mail.deleted, 1)
	assert.Equal(t, []string{"t1", "t2"}, mail.deleted[0])
}

func TestCleanupTestRunTouchesNothing(t *testing.T) {
	mail := newScriptedMail()
	mail.byQuery["in:inbox older_than:30d"] = []mailclient.Message{{ID: "m1"}}
	mail.byQuery["in:trash older_than:90d"] = []mailclient.Message{{ID: "t1"}}

	h := NewCleanup(mail, nil, true)
	result, err := h.Run(context.Background(), cleanupJob(t, jobs.CleanupConfig{
		AutoArchive: true,
		AutoDelete:  true,
	}))
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 0, result.ProcessedCount)
	assert.Empty(t, mail.archived)
	assert.Empty(t, mail.deleted)
}

func TestCleanupPartialPhaseFailure(t *testing.T) {
	mail := newScriptedMail()
	mail.listErr["in:inbox older_than:30d"] = errors.New("gateway down")
	mail.byQuery["in:trash older_than:90d"] = []mailclient.Message{{ID: "t1"}}

	h := NewCleanup(mail, nil, false)
	result, err := h.Run(context.Background(), cleanupJob(t, jobs.CleanupConfig{
		AutoArchive: true,
		AutoDelete:  true,
	}))
	require.NoError(t, err)

	// The archive phase failed but the trash phase still ran.
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.ProcessedCount)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "gateway down")
	require.Len(t, mail.deleted, 1)
}

func TestRuleExecutionAppliesAndRecords(t *testing.T) {
	ctx := context.Background()
	mail := newScriptedMail()
	mail.byQuery["in:inbox"] = []mailclient.Message{
		{ID: "m1", From: "news@daily.example.com"},
		{ID: "m2", From: "boss@work.example.com"},
		{ID: "m3", From: "digest@daily.example.com"},
	}

	db := store.NewMemory()
	rule := &rules.Rule{
		OwnerID: "alice",
		Name:    "archive dailies",
		Conditions: []rules.Condition{
			{Field: rules.FieldFrom, Operator: rules.OpContains, Value: "daily"},
		},
		Actions: []rules.Action{{Type: rules.ActionArchive}},
		Active:  true,
	}
	require.NoError(t, db.CreateRule(ctx, rule))

	h := NewRuleExecution(mail, rules.NewEngine(mail, nil), db, nil)
	raw, err := json.Marshal(jobs.RuleExecutionConfig{RuleIDs: []string{rule.ID}})
	require.NoError(t, err)

	result, err := h.Run(ctx, &jobs.Job{
		ID:      "j1",
		OwnerID: "alice",
		Kind:    jobs.KindRuleExecution,
		Config:  raw,
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.ProcessedCount)
	assert.Equal(t, 2, result.Details["matched"])
	require.Len(t, mail.archived, 1)
	assert.Equal(t, []string{"m1", "m3"}, mail.archived[0])

	records, err := db.ListRuleRecords(ctx, "alice", rule.ID, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 3, records[0].EmailsProcessed)
	assert.Equal(t, 2, records[0].EmailsMatched)
	assert.True(t, records[0].Success)
}

func TestRuleExecutionMissingAndInactiveRules(t *testing.T) {
	ctx := context.Background()
	mail := newScriptedMail()
	mail.byQuery["in:inbox"] = []mailclient.Message{{ID: "m1", From: "a@b.c"}}

	db := store.NewMemory()
	inactive := &rules.Rule{
		OwnerID:    "alice",
		Name:       "paused",
		Conditions: []rules.Condition{{Field: rules.FieldFrom, Operator: rules.OpContains, Value: "a"}},
		Actions:    []rules.Action{{Type: rules.ActionArchive}},
		Active:     false,
	}
	require.NoError(t, db.CreateRule(ctx, inactive))

	h := NewRuleExecution(mail, rules.NewEngine(mail, nil), db, nil)
	raw, err := json.Marshal(jobs.RuleExecutionConfig{
		RuleIDs: []string{"ghost", inactive.ID},
	})
	require.NoError(t, err)

	result, err := h.Run(ctx, &jobs.Job{OwnerID: "alice", Kind: jobs.KindRuleExecution, Config: raw})
	require.NoError(t, err)

	// Missing rule is reported; the inactive one is silently skipped.
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "ghost")
	assert.Empty(t, mail.archived)
	assert.Equal(t, 0, result.Details["matched"])
}

func TestRuleExecutionNoRulesConfigured(t *testing.T) {
	h := NewRuleExecution(newScriptedMail(), rules.NewEngine(newScriptedMail(), nil), store.NewMemory(), nil)

	result, err := h.Run(context.Background(), &jobs.Job{
		OwnerID: "alice",
		Kind:    jobs.KindRuleExecution,
		Config:  json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.ProcessedCount)
}

// recordingCollector captures snapshots.
type recordingCollector struct {
	snaps []analytics.Snapshot
}

func (c *recordingCollector) Record(_ context.Context, snap analytics.Snapshot) error {
	c.snaps = append(c.snaps, snap)
	return nil
}

func TestAnalyticsCollectsSnapshot(t *testing.T) {
	mail := newScriptedMail()
	mail.counts = mailclient.Counts{Total: 120, Unread: 14, Starred: 3, TotalSize: 1 << 20}
	mail.labels = []mailclient.Label{{ID: "l1"}, {ID: "l2"}}

	collector := &recordingCollector{}
	h := NewAnalytics(mail, collector, nil)

	raw, err := json.Marshal(jobs.AnalyticsConfig{IncludeLabels: true})
	require.NoError(t, err)

	result, err := h.Run(context.Background(), &jobs.Job{
		OwnerID: "alice",
		Kind:    jobs.KindAnalyticsCollection,
		Config:  raw,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)

	require.Len(t, collector.snaps, 1)
	snap := collector.snaps[0]
	assert.Equal(t, "alice", snap.OwnerID)
	assert.Equal(t, 120, snap.Total)
	assert.Equal(t, 14, snap.Unread)
	assert.Equal(t, 2, snap.LabelCount)
	assert.False(t, snap.TakenAt.IsZero())
}

func TestUnsubscribeScanDeduplicatesAcrossQueries(t *testing.T) {
	mail := newScriptedMail()
	shared := mailclient.Message{
		ID: "m1", From: "news@list.example.com",
		Unsubscribe: "<mailto:leave@list.example.com>",
	}
	mail.byQuery["unsubscribe"] = []mailclient.Message{shared}
	mail.byQuery["newsletter"] = []mailclient.Message{
		shared,
		{ID: "m2", From: "plain@example.com"},
	}

	h := NewUnsubscribeScan(mail, unsubscribe.NewHeaderDetector(nil), nil)
	result, err := h.Run(context.Background(), &jobs.Job{
		OwnerID: "alice",
		Kind:    jobs.KindUnsubscribeScan,
		Config:  json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.ProcessedCount, "m1 counted once despite matching two queries")
	assert.Equal(t, 1, result.Details["candidates"], "only m1 advertises List-Unsubscribe")
}

func TestUnsubscribeScanQueryErrorDoesNotAbort(t *testing.T) {
	mail := newScriptedMail()
	mail.listErr["unsubscribe"] = errors.New("temporarily unavailable")
	mail.byQuery["newsletter"] = []mailclient.Message{
		{ID: "m1", From: "news@list.example.com", Unsubscribe: "<https://list.example.com/leave>"},
	}

	h := NewUnsubscribeScan(mail, unsubscribe.NewHeaderDetector(nil), nil)
	result, err := h.Run(context.Background(), &jobs.Job{
		OwnerID: "alice",
		Kind:    jobs.KindUnsubscribeScan,
		Config:  json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.ProcessedCount)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 1, result.Details["candidates"])
}

func TestHeaderDetectorFirstSightingWins(t *testing.T) {
	detector := unsubscribe.NewHeaderDetector(nil)

	candidates, err := detector.Inspect(context.Background(), []mailclient.Message{
		{ID: "m1", From: "news@list.example.com", Subject: "first", Unsubscribe: "<a>"},
		{ID: "m2", From: "news@list.example.com", Subject: "second", Unsubscribe: "<b>"},
	})
	require.NoError(t, err)

	require.Len(t, candidates, 1)
	assert.Equal(t, "m1", candidates[0].MessageID)
	assert.Equal(t, "<a>", candidates[0].Target)
	assert.WithinDuration(t, time.Now(), candidates[0].DiscoveredAt, time.Minute)
}
