package handler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/boxkeep/boxkeep/internal/jobs"
	"github.com/boxkeep/boxkeep/internal/mailclient"
	"github.com/boxkeep/boxkeep/internal/unsubscribe"
)

// discoveryQueries is the fixed set of searches used to surface messages
// likely to belong to mailing lists.
var discoveryQueries = []string{
	"unsubscribe",
	"list-unsubscribe",
	"newsletter",
	"mailing list",
}

// UnsubscribeScan runs the discovery queries and hands candidates to the
// unsubscribe-detection collaborator.
type UnsubscribeScan struct {
	mail     mailclient.Provider
	detector unsubscribe.Detector
	logger   *slog.Logger
}

// NewUnsubscribeScan creates the unsubscribe-scan handler.
func NewUnsubscribeScan(mail mailclient.Provider, detector unsubscribe.Detector, logger *slog.Logger) *UnsubscribeScan {
	if logger == nil {
		logger = slog.Default()
	}
	return &UnsubscribeScan{
		mail:     mail,
		detector: detector,
		logger:   logger.With("job", "unsubscribe_scan"),
	}
}

func (h *UnsubscribeScan) Kind() jobs.Kind {
	return jobs.KindUnsubscribeScan
}

func (h *UnsubscribeScan) Run(ctx context.Context, job *jobs.Job) (jobs.HandlerResult, error) {
	decoded, err := jobs.DecodeConfig(job.Kind, job.Config)
	if err != nil {
		return jobs.HandlerResult{}, err
	}
	cfg := decoded.(*jobs.UnsubscribeScanConfig)

	maxEmails := cfg.MaxEmails
	if maxEmails <= 0 {
		maxEmails = defaultMaxEmails
	}
	perQuery := maxEmails / len(discoveryQueries)
	if perQuery < 1 {
		perQuery = 1
	}

	result := jobs.HandlerResult{Success: true, Details: map[string]any{}}

	seen := make(map[string]bool)
	var discovered []mailclient.Message
	for _, query := range discoveryQueries {
		messages, err := h.mail.ListMessages(ctx, query, perQuery)
		if err != nil {
			// One query failing should not abort the scan.
			result.Errors = append(result.Errors, fmt.Sprintf("query %q: %v", query, err))
			continue
		}
		for _, m := range messages {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			discovered = append(discovered, m)
		}
	}
	result.ProcessedCount = len(discovered)

	candidates, err := h.detector.Inspect(ctx, discovered)
	if err != nil {
		return result, fmt.Errorf("inspecting candidates: %w", err)
	}

	if len(result.Errors) > 0 && len(discovered) == 0 {
		result.Success = false
	}
	result.Details["candidates"] = len(candidates)
	result.Message = fmt.Sprintf("scanned %d messages, %d unsubscribe candidates", len(discovered), len(candidates))

	h.logger.Info("unsubscribe scan complete",
		"scanned", len(discovered),
		"candidates", len(candidates),
		"query_errors", len(result.Errors),
	)
	return result, nil
}
