package rules

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/boxkeep/boxkeep/internal/mailclient"
)

// Engine matches message batches against rules and executes rule actions
// through the mail provider. Evaluate performs no side effects; only Execute
// touches the provider.
type Engine struct {
	mail   mailclient.Provider
	logger *slog.Logger
	now    func() time.Time
	eval   func(Condition, *mailclient.Message, time.Time) bool
}

// NewEngine creates an engine. The provider is expected to already be
// wrapped by the resilience layer.
func NewEngine(mail mailclient.Provider, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		mail:   mail,
		logger: logger.With("component", "rule_engine"),
		now:    time.Now,
		eval:   evalCondition,
	}
}

// Evaluate returns the subset of messages where every condition holds.
// A panic while testing a single message counts as a non-match for that
// message only; a malformed message never aborts the batch.
func (e *Engine) Evaluate(rule *Rule, messages []mailclient.Message) []mailclient.Message {
	now := e.now()

	var matched []mailclient.Message
	for i := range messages {
		if e.matches(rule, &messages[i], now) {
			matched = append(matched, messages[i])
		}
	}
	return matched
}

func (e *Engine) matches(rule *Rule, msg *mailclient.Message, now time.Time) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("condition evaluation panicked, treating as non-match",
				"rule", rule.Name, "message_id", msg.ID, "panic", fmt.Sprint(r))
			ok = false
		}
	}()

	for _, cond := range rule.Conditions {
		if !e.eval(cond, msg, now) {
			return false
		}
	}
	return true
}

// evalCondition evaluates one condition against one message. Undefined
// field/operator pairings return false.
func evalCondition(cond Condition, msg *mailclient.Message, now time.Time) bool {
	switch cond.Field {
	case FieldFrom:
		return evalString(cond, msg.From)
	case FieldTo:
		return evalString(cond, msg.To)
	case FieldSubject:
		return evalString(cond, msg.Subject)
	case FieldBody:
		return evalString(cond, msg.Snippet)
	case FieldSize:
		return evalNumeric(cond, float64(msg.SizeEstimate))
	case FieldAgeDays:
		// Derived at evaluation time, not stored: results vary run to run.
		age := int(now.Sub(msg.Date).Hours() / 24)
		return evalNumeric(cond, float64(age))
	case FieldHasAttachment:
		return evalPresence(cond, msg.HasAttachment)
	case FieldIsUnread:
		return evalPresence(cond, msg.Unread)
	case FieldLabel:
		return evalLabel(cond, msg)
	}
	return false
}

func evalString(cond Condition, value string) bool {
	target := cond.Value
	if !cond.CaseSensitive {
		value = strings.ToLower(value)
		target = strings.ToLower(target)
	}

	switch cond.Operator {
	case OpContains:
		return strings.Contains(value, target)
	case OpEquals:
		return value == target
	case OpStartsWith:
		return strings.HasPrefix(value, target)
	case OpEndsWith:
		return strings.HasSuffix(value, target)
	}
	return false
}

// evalNumeric fails closed: a condition value that does not parse as a
// number never matches.
func evalNumeric(cond Condition, value float64) bool {
	target, err := strconv.ParseFloat(strings.TrimSpace(cond.Value), 64)
	if err != nil {
		return false
	}

	switch cond.Operator {
	case OpGreaterThan:
		return value > target
	case OpLessThan:
		return value < target
	case OpEquals:
		return value == target
	}
	return false
}

func evalPresence(cond Condition, present bool) bool {
	switch cond.Operator {
	case OpHas:
		return present
	case OpNotHas:
		return !present
	case OpEquals:
		want, err := strconv.ParseBool(strings.TrimSpace(cond.Value))
		if err != nil {
			return false
		}
		return present == want
	}
	return false
}

func evalLabel(cond Condition, msg *mailclient.Message) bool {
	switch cond.Operator {
	case OpHas:
		return hasLabelFold(msg, cond)
	case OpNotHas:
		return !hasLabelFold(msg, cond)
	case OpContains:
		joined := strings.Join(msg.Labels, " ")
		return evalString(Condition{Operator: OpContains, Value: cond.Value, CaseSensitive: cond.CaseSensitive}, joined)
	}
	return false
}

func hasLabelFold(msg *mailclient.Message, cond Condition) bool {
	for _, l := range msg.Labels {
		if cond.CaseSensitive {
			if l == cond.Value {
				return true
			}
		} else if strings.EqualFold(l, cond.Value) {
			return true
		}
	}
	return false
}

// Execute runs the rule's actions strictly in declared order against the
// entire matched set. A partial failure (some ids failed) is surfaced in the
// returned detail but does not stop the action list; an action-phase error
// aborts remaining actions and is returned with the performed count so far.
func (e *Engine) Execute(ctx context.Context, rule *Rule, matched []mailclient.Message) (performed int, detail []string, err error) {
	if len(matched) == 0 {
		return 0, nil, nil
	}

	ids := make([]string, len(matched))
	for i, m := range matched {
		ids[i] = m.ID
	}

	for _, action := range rule.Actions {
		res, aerr := e.perform(ctx, action, ids)
		if aerr != nil {
			return performed, detail, fmt.Errorf("action %s: %w", action.Type, aerr)
		}

		performed++
		if len(res.Errors) > 0 {
			detail = append(detail, fmt.Sprintf("%s: %d of %d messages failed", action.Type, len(res.Errors), len(ids)))
			e.logger.Warn("action partially failed",
				"rule", rule.Name,
				"action", string(action.Type),
				"failed", len(res.Errors),
				"processed", res.ProcessedCount,
			)
		}
	}

	return performed, detail, nil
}

func (e *Engine) perform(ctx context.Context, action Action, ids []string) (mailclient.ActionResult, error) {
	switch action.Type {
	case ActionArchive:
		return e.mail.Archive(ctx, ids)
	case ActionDelete:
		return e.mail.Delete(ctx, ids)
	case ActionLabel:
		return e.mail.AddLabels(ctx, ids, []string{action.Value})
	case ActionMarkRead:
		return e.mail.MarkRead(ctx, ids)
	case ActionMarkUnread:
		return e.mail.MarkUnread(ctx, ids)
	case ActionStar:
		return e.mail.Star(ctx, ids)
	case ActionUnstar:
		return e.mail.Unstar(ctx, ids)
	case ActionForward:
		// The provider surface has no forward call; the action is accepted
		// for compatibility but performs nothing here.
		e.logger.Warn("forward action not supported by provider, skipping", "target", action.Value)
		return mailclient.ActionResult{Success: true}, nil
	}
	return mailclient.ActionResult{}, &UnknownActionError{Type: action.Type}
}

// Apply evaluates the rule against the batch, executes its actions on the
// matched set, and produces the execution record. The record is failed when
// the action phase errors; the partial performed count is preserved.
func (e *Engine) Apply(ctx context.Context, rule *Rule, messages []mailclient.Message) ExecutionRecord {
	start := e.now()

	record := ExecutionRecord{
		RuleID:          rule.ID,
		OwnerID:         rule.OwnerID,
		EmailsProcessed: len(messages),
		Timestamp:       start,
	}

	matched := e.Evaluate(rule, messages)
	record.EmailsMatched = len(matched)

	performed, detail, err := e.Execute(ctx, rule, matched)
	record.ActionsPerformed = performed
	record.Elapsed = e.now().Sub(start)

	if err != nil {
		record.Success = false
		record.Error = err.Error()
		return record
	}

	record.Success = true
	if len(detail) > 0 {
		record.Error = "partial failures: " + strings.Join(detail, "; ")
	}

	e.logger.Info("rule applied",
		"rule", rule.Name,
		"processed", record.EmailsProcessed,
		"matched", record.EmailsMatched,
		"actions", record.ActionsPerformed,
		"elapsed", record.Elapsed.Round(time.Millisecond),
	)

	return record
}

// PreviewResult reports a dry evaluation of a rule's conditions.
type PreviewResult struct {
	Sampled int                  `json:"sampled"`
	Matched []mailclient.Message `json:"matched"`
}

// Preview tests the rule's conditions against the most recent messages
// without firing any action. It is the safe way to try a rule out before
// activating it.
func (e *Engine) Preview(ctx context.Context, rule *Rule, limit int) (PreviewResult, error) {
	if limit <= 0 {
		limit = 50
	}

	messages, err := e.mail.ListMessages(ctx, "in:inbox", limit)
	if err != nil {
		return PreviewResult{}, fmt.Errorf("fetching recent messages: %w", err)
	}

	return PreviewResult{
		Sampled: len(messages),
		Matched: e.Evaluate(rule, messages),
	}, nil
}
