// Package handler implements the closed set of job-kind handlers the
// orchestrator dispatches to.
package handler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/boxkeep/boxkeep/internal/jobs"
	"github.com/boxkeep/boxkeep/internal/mailclient"
)

const defaultMaxEmails = 500

// Cleanup archives messages older than the configured retention window and
// deletes messages from trash past a second, longer window.
type Cleanup struct {
	mail    mailclient.Provider
	logger  *slog.Logger
	testRun bool
}

// NewCleanup creates the cleanup handler. With testRun set, affected
// messages are only reported, never touched.
func NewCleanup(mail mailclient.Provider, logger *slog.Logger, testRun bool) *Cleanup {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleanup{
		mail:    mail,
		logger:  logger.With("job", "cleanup"),
		testRun: testRun,
	}
}

func (h *Cleanup) Kind() jobs.Kind {
	return jobs.KindCleanup
}

func (h *Cleanup) Run(ctx context.Context, job *jobs.Job) (jobs.HandlerResult, error) {
	decoded, err := jobs.DecodeConfig(job.Kind, job.Config)
	if err != nil {
		return jobs.HandlerResult{}, err
	}
	cfg := decoded.(*jobs.CleanupConfig)

	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.TrashRetentionDays <= 0 {
		cfg.TrashRetentionDays = 90
	}
	maxEmails := cfg.MaxEmails
	if maxEmails <= 0 {
		maxEmails = defaultMaxEmails
	}

	result := jobs.HandlerResult{Success: true, Details: map[string]any{}}

	if cfg.AutoArchive {
		archived, err := h.archiveOld(ctx, cfg, maxEmails)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("archive: %v", err))
			result.Success = false
		}
		result.ProcessedCount += archived
		result.Details["archived"] = archived
	}

	if cfg.AutoDelete {
		deleted, err := h.emptyOldTrash(ctx, cfg, maxEmails)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("delete: %v", err))
			result.Success = false
		}
		result.ProcessedCount += deleted
		result.Details["deleted"] = deleted
	}

	if result.Success {
		result.Message = fmt.Sprintf("cleanup processed %d messages", result.ProcessedCount)
	} else {
		result.Message = fmt.Sprintf("cleanup processed %d messages with %d errors", result.ProcessedCount, len(result.Errors))
	}
	return result, nil
}

func (h *Cleanup) archiveOld(ctx context.Context, cfg *jobs.CleanupConfig, maxEmails int) (int, error) {
	query := fmt.Sprintf("in:inbox older_than:%dd", cfg.RetentionDays)
	messages, err := h.mail.ListMessages(ctx, query, maxEmails)
	if err != nil {
		return 0, fmt.Errorf("listing old inbox messages: %w", err)
	}

	var ids []string
	for _, m := range messages {
		if cfg.SkipStarred && m.Starred {
			continue
		}
		ids = append(ids, m.ID)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if h.testRun {
		h.logger.Info("[TEST RUN] would archive messages", "count", len(ids), "older_than_days", cfg.RetentionDays)
		return 0, nil
	}

	res, err := h.mail.Archive(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("archiving: %w", err)
	}

	h.logger.Info("archived old messages",
		"count", res.ProcessedCount,
		"failed", len(res.Errors),
		"older_than_days", cfg.RetentionDays,
	)
	return res.ProcessedCount, nil
}

func (h *Cleanup) emptyOldTrash(ctx context.Context, cfg *jobs.CleanupConfig, maxEmails int) (int, error) {
	query := fmt.Sprintf("in:trash older_than:%dd", cfg.TrashRetentionDays)
	messages, err := h.mail.ListMessages(ctx, query, maxEmails)
	if err != nil {
		return 0, fmt.Errorf("listing old trash: %w", err)
	}
	if len(messages) == 0 {
		return 0, nil
	}

	ids := make([]string, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
	}

	if h.testRun {
		h.logger.Info("[TEST RUN] would delete trashed messages", "count", len(ids), "older_than_days", cfg.TrashRetentionDays)
		return 0, nil
	}

	res, err := h.mail.Delete(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("deleting: %w", err)
	}

	h.logger.Info("deleted old trash",
		"count", res.ProcessedCount,
		"failed", len(res.Errors),
		"older_than_days", cfg.TrashRetentionDays,
	)
	return res.ProcessedCount, nil
}
