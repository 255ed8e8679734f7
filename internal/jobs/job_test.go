package jobs

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		input   string
		want    Schedule
		wantErr bool
	}{
		{input: "@hourly", want: ScheduleHourly},
		{input: "@daily", want: ScheduleDaily},
		{input: "@weekly", want: ScheduleWeekly},
		{input: "@monthly", want: ScheduleMonthly},
		{input: "@yearly", wantErr: true},
		{input: "0 * * * *", wantErr: true},
		{input: "daily", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSchedule(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSchedule)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScheduleNext(t *testing.T) {
	now := time.Date(2026, time.January, 31, 10, 30, 0, 0, time.UTC)

	assert.Equal(t, now.Add(time.Hour), ScheduleHourly.Next(now))
	assert.Equal(t, now.Add(24*time.Hour), ScheduleDaily.Next(now))
	assert.Equal(t, now.Add(7*24*time.Hour), ScheduleWeekly.Next(now))

	// Calendar arithmetic: Jan 31 + 1 month normalizes to Mar 3 in a
	// non-leap year, Mar 2 in a leap year. 2026 is not a leap year.
	assert.Equal(t, time.Date(2026, time.March, 3, 10, 30, 0, 0, time.UTC),
		ScheduleMonthly.Next(now))
}

func TestDecodeConfig(t *testing.T) {
	t.Run("cleanup", func(t *testing.T) {
		cfg, err := DecodeConfig(KindCleanup,
			json.RawMessage(`{"retention_days":14,"skip_starred":true}`))
		require.NoError(t, err)

		cleanup, ok := cfg.(*CleanupConfig)
		require.True(t, ok)
		assert.Equal(t, 14, cleanup.RetentionDays)
		assert.True(t, cleanup.SkipStarred)
	})

	t.Run("rule execution", func(t *testing.T) {
		cfg, err := DecodeConfig(KindRuleExecution,
			json.RawMessage(`{"rule_ids":["r1","r2"],"max_emails":100}`))
		require.NoError(t, err)

		re, ok := cfg.(*RuleExecutionConfig)
		require.True(t, ok)
		assert.Equal(t, []string{"r1", "r2"}, re.RuleIDs)
		assert.Equal(t, 100, re.MaxEmails)
	})

	t.Run("empty document gets defaults", func(t *testing.T) {
		cfg, err := DecodeConfig(KindAnalyticsCollection, nil)
		require.NoError(t, err)

		analytics, ok := cfg.(*AnalyticsConfig)
		require.True(t, ok)
		assert.False(t, analytics.IncludeLabels)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := DecodeConfig(Kind("bogus"), json.RawMessage(`{}`))
		assert.ErrorIs(t, err, ErrUnknownKind)
	})

	t.Run("malformed document", func(t *testing.T) {
		_, err := DecodeConfig(KindCleanup, json.RawMessage(`{"retention_days":`))
		assert.Error(t, err)
	})
}

func TestJobValidate(t *testing.T) {
	valid := Job{
		OwnerID:  "alice",
		Kind:     KindCleanup,
		Name:     "nightly cleanup",
		Schedule: ScheduleDaily,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Job)
	}{
		{name: "missing name", mutate: func(j *Job) { j.Name = "" }},
		{name: "missing owner", mutate: func(j *Job) { j.OwnerID = "" }},
		{name: "unknown kind", mutate: func(j *Job) { j.Kind = "vacuum" }},
		{name: "bad schedule", mutate: func(j *Job) { j.Schedule = "@fortnightly" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := valid
			tt.mutate(&job)
			assert.Error(t, job.Validate())
		})
	}
}
