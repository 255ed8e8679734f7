package handler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/boxkeep/boxkeep/internal/analytics"
	"github.com/boxkeep/boxkeep/internal/jobs"
	"github.com/boxkeep/boxkeep/internal/mailclient"
)

// Analytics fetches aggregate mailbox counts and sizes and hands them to the
// analytics collaborator.
type Analytics struct {
	mail      mailclient.Provider
	collector analytics.Collector
	logger    *slog.Logger
	now       func() time.Time
}

// NewAnalytics creates the analytics-collection handler.
func NewAnalytics(mail mailclient.Provider, collector analytics.Collector, logger *slog.Logger) *Analytics {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analytics{
		mail:      mail,
		collector: collector,
		logger:    logger.With("job", "analytics_collection"),
		now:       time.Now,
	}
}

func (h *Analytics) Kind() jobs.Kind {
	return jobs.KindAnalyticsCollection
}

func (h *Analytics) Run(ctx context.Context, job *jobs.Job) (jobs.HandlerResult, error) {
	decoded, err := jobs.DecodeConfig(job.Kind, job.Config)
	if err != nil {
		return jobs.HandlerResult{}, err
	}
	cfg := decoded.(*jobs.AnalyticsConfig)

	counts, err := h.mail.Counts(ctx)
	if err != nil {
		return jobs.HandlerResult{}, fmt.Errorf("fetching mailbox counts: %w", err)
	}

	snap := analytics.Snapshot{
		OwnerID:   job.OwnerID,
		Total:     counts.Total,
		Unread:    counts.Unread,
		Starred:   counts.Starred,
		TotalSize: counts.TotalSize,
		TakenAt:   h.now(),
	}

	if cfg.IncludeLabels {
		labels, err := h.mail.Labels(ctx)
		if err != nil {
			return jobs.HandlerResult{}, fmt.Errorf("fetching labels: %w", err)
		}
		snap.LabelCount = len(labels)
	}

	if err := h.collector.Record(ctx, snap); err != nil {
		return jobs.HandlerResult{}, fmt.Errorf("recording snapshot: %w", err)
	}

	return jobs.HandlerResult{
		Success:        true,
		Message:        fmt.Sprintf("collected snapshot: %d messages, %d unread", snap.Total, snap.Unread),
		ProcessedCount: snap.Total,
		Details: map[string]any{
			"unread":     snap.Unread,
			"starred":    snap.Starred,
			"total_size": snap.TotalSize,
		},
	}, nil
}
