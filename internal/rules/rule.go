// Package rules implements the rule evaluation engine: matching message
// batches against boolean condition sets and firing ordered actions through
// the mail provider.
package rules

import (
	"errors"
	"fmt"
	"time"
)

// Field names a message attribute a condition can test.
type Field string

const (
	FieldFrom          Field = "from"
	FieldTo            Field = "to"
	FieldSubject       Field = "subject"
	FieldBody          Field = "body"
	FieldHasAttachment Field = "has_attachment"
	FieldSize          Field = "size"
	FieldAgeDays       Field = "age_days"
	FieldLabel         Field = "label"
	FieldIsUnread      Field = "is_unread"
)

// Operator names a comparison a condition applies to a field value.
type Operator string

const (
	OpContains    Operator = "contains"
	OpEquals      Operator = "equals"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpHas         Operator = "has"
	OpNotHas      Operator = "not_has"
)

// ActionType names a bulk mutation a rule can fire.
type ActionType string

const (
	ActionArchive    ActionType = "archive"
	ActionDelete     ActionType = "delete"
	ActionLabel      ActionType = "label"
	ActionMarkRead   ActionType = "mark_read"
	ActionMarkUnread ActionType = "mark_unread"
	ActionForward    ActionType = "forward"
	ActionStar       ActionType = "star"
	ActionUnstar     ActionType = "unstar"
)

var knownActions = map[ActionType]bool{
	ActionArchive:    true,
	ActionDelete:     true,
	ActionLabel:      true,
	ActionMarkRead:   true,
	ActionMarkUnread: true,
	ActionForward:    true,
	ActionStar:       true,
	ActionUnstar:     true,
}

// Condition tests one field of a message. String comparisons are
// case-insensitive unless CaseSensitive is set. A field/operator pairing
// that is semantically undefined (e.g. has_attachment + contains) evaluates
// to non-matching rather than erroring.
type Condition struct {
	Field         Field    `json:"field"`
	Operator      Operator `json:"operator"`
	Value         string   `json:"value"`
	CaseSensitive bool     `json:"case_sensitive,omitempty"`
}

// Action is one bulk mutation fired against the full matched set. Value
// carries the label name for label actions and the target address for
// forward actions.
type Action struct {
	Type  ActionType `json:"type"`
	Value string     `json:"value,omitempty"`
}

// Schedule is a rule's optional embedded schedule, interpreted by the
// surrounding product when it materializes rule-execution jobs.
type Schedule struct {
	Frequency  string `json:"frequency"`
	TimeOfDay  string `json:"time_of_day,omitempty"`
	DaysOfWeek []int  `json:"days_of_week,omitempty"`
}

// Rule is an owner-scoped automation unit, independent of scheduling.
// Conditions combine with AND semantics; actions execute in declared order.
type Rule struct {
	ID         string      `db:"id" json:"id"`
	OwnerID    string      `db:"owner_id" json:"owner_id"`
	Name       string      `db:"name" json:"name"`
	Conditions []Condition `db:"-" json:"conditions"`
	Actions    []Action    `db:"-" json:"actions"`
	Active     bool        `db:"is_active" json:"is_active"`
	Schedule   *Schedule   `db:"-" json:"schedule,omitempty"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time   `db:"updated_at" json:"updated_at"`
}

// Validation errors callers branch on.
var (
	ErrEmptyConditions = errors.New("rule has no conditions")
	ErrEmptyActions    = errors.New("rule has no actions")
)

// UnknownActionError reports an action type outside the closed set.
type UnknownActionError struct {
	Type ActionType
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action type %q", e.Type)
}

// Validate rejects rules that must never reach evaluation: zero conditions,
// zero actions, unknown action types, and value-carrying actions without a
// value.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name must not be empty")
	}
	if len(r.Conditions) == 0 {
		return ErrEmptyConditions
	}
	if len(r.Actions) == 0 {
		return ErrEmptyActions
	}

	for _, a := range r.Actions {
		if !knownActions[a.Type] {
			return &UnknownActionError{Type: a.Type}
		}
		if (a.Type == ActionLabel || a.Type == ActionForward) && a.Value == "" {
			return fmt.Errorf("%s action requires a value", a.Type)
		}
	}

	return nil
}

// ExecutionRecord is the append-only outcome of applying one rule to one
// message batch.
type ExecutionRecord struct {
	ID               string        `db:"id" json:"id"`
	RuleID           string        `db:"rule_id" json:"rule_id"`
	OwnerID          string        `db:"owner_id" json:"owner_id"`
	EmailsProcessed  int           `db:"emails_processed" json:"emails_processed"`
	EmailsMatched    int           `db:"emails_matched" json:"emails_matched"`
	ActionsPerformed int           `db:"actions_performed" json:"actions_performed"`
	Success          bool          `db:"success" json:"success"`
	Error            string        `db:"error_message" json:"error_message,omitempty"`
	Elapsed          time.Duration `db:"elapsed" json:"elapsed"`
	Timestamp        time.Time     `db:"created_at" json:"timestamp"`
}
