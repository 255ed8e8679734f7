package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/boxkeep/boxkeep/internal/jobs"
	"github.com/boxkeep/boxkeep/internal/mailclient"
	"github.com/boxkeep/boxkeep/internal/rules"
)

// RuleExecution loads the configured rules, fetches a message batch and
// delegates matching and actions to the rule evaluation engine. Every rule
// application is recorded, append-only, through the store.
type RuleExecution struct {
	mail   mailclient.Provider
	engine *rules.Engine
	store  jobs.Store
	logger *slog.Logger
}

// NewRuleExecution creates the rule-execution handler.
func NewRuleExecution(mail mailclient.Provider, engine *rules.Engine, store jobs.Store, logger *slog.Logger) *RuleExecution {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleExecution{
		mail:   mail,
		engine: engine,
		store:  store,
		logger: logger.With("job", "rule_execution"),
	}
}

func (h *RuleExecution) Kind() jobs.Kind {
	return jobs.KindRuleExecution
}

func (h *RuleExecution) Run(ctx context.Context, job *jobs.Job) (jobs.HandlerResult, error) {
	decoded, err := jobs.DecodeConfig(job.Kind, job.Config)
	if err != nil {
		return jobs.HandlerResult{}, err
	}
	cfg := decoded.(*jobs.RuleExecutionConfig)

	if len(cfg.RuleIDs) == 0 {
		return jobs.HandlerResult{Success: true, Message: "no rules configured"}, nil
	}

	query := cfg.EmailQuery
	if query == "" {
		query = "in:inbox"
	}
	maxEmails := cfg.MaxEmails
	if maxEmails <= 0 {
		maxEmails = defaultMaxEmails
	}

	messages, err := h.mail.ListMessages(ctx, query, maxEmails)
	if err != nil {
		return jobs.HandlerResult{}, fmt.Errorf("fetching message batch: %w", err)
	}

	result := jobs.HandlerResult{
		Success:        true,
		ProcessedCount: len(messages),
		Details:        map[string]any{},
	}

	totalMatched := 0
	for _, ruleID := range cfg.RuleIDs {
		rule, err := h.store.GetRule(ctx, job.OwnerID, ruleID)
		if err != nil {
			if errors.Is(err, jobs.ErrNotFound) {
				result.Errors = append(result.Errors, fmt.Sprintf("rule %s not found", ruleID))
				continue
			}
			return result, fmt.Errorf("loading rule %s: %w", ruleID, err)
		}
		if !rule.Active {
			h.logger.Debug("skipping inactive rule", "rule", rule.Name)
			continue
		}

		record := h.engine.Apply(ctx, rule, messages)
		totalMatched += record.EmailsMatched

		if err := h.store.AppendRuleRecord(ctx, &record); err != nil {
			h.logger.Error("failed to record rule execution", "rule", rule.Name, "error", err)
		}
		if !record.Success {
			result.Success = false
			result.Errors = append(result.Errors, fmt.Sprintf("rule %s: %s", rule.Name, record.Error))
		}
	}

	result.Details["rules"] = len(cfg.RuleIDs)
	result.Details["matched"] = totalMatched
	result.Message = fmt.Sprintf("applied %d rules to %d messages, %d matched", len(cfg.RuleIDs), len(messages), totalMatched)
	return result, nil
}
