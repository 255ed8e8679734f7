package mailclient

import (
	"context"
	"fmt"
	"time"
)

// Message is the normalized message record the engine operates on. Backends
// map their native representation (IMAP envelope, gateway JSON) onto it.
type Message struct {
	ID            string    `json:"id"`
	ThreadID      string    `json:"thread_id,omitempty"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Subject       string    `json:"subject"`
	Snippet       string    `json:"snippet"`
	Labels        []string  `json:"labels"`
	Date          time.Time `json:"date"`
	SizeEstimate  int64     `json:"size_estimate"`
	HasAttachment bool      `json:"has_attachment"`
	Unread        bool      `json:"unread"`
	Starred       bool      `json:"starred"`
	Unsubscribe   string    `json:"unsubscribe,omitempty"` // List-Unsubscribe target, if advertised
}

// HasLabel reports whether the message carries the given label.
func (m *Message) HasLabel(label string) bool {
	for _, l := range m.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// ItemError records a single failed message id within a batch call.
type ItemError struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

func (e ItemError) Error() string {
	return fmt.Sprintf("message %s: %s", e.ID, e.Reason)
}

// ActionResult reports the outcome of a batch mutation. Some ids may fail
// while others succeed in the same call; Errors lists the failures.
type ActionResult struct {
	Success        bool        `json:"success"`
	ProcessedCount int         `json:"processed_count"`
	Errors         []ItemError `json:"errors,omitempty"`
}

// Partial reports whether the call succeeded for some ids but not all.
func (r ActionResult) Partial() bool {
	return r.ProcessedCount > 0 && len(r.Errors) > 0
}

// Label describes a mailbox label/folder as reported by the provider.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Counts holds aggregate mailbox counts used by analytics collection.
type Counts struct {
	Total     int   `json:"total"`
	Unread    int   `json:"unread"`
	Starred   int   `json:"starred"`
	TotalSize int64 `json:"total_size"`
}

// Provider is the mail-provider collaborator. Implementations perform the
// actual upstream calls; callers are expected to wrap them with the
// resilience executor rather than retrying internally.
type Provider interface {
	// ListMessages returns up to maxResults messages matching the provider's
	// native query syntax.
	ListMessages(ctx context.Context, query string, maxResults int) ([]Message, error)

	Archive(ctx context.Context, ids []string) (ActionResult, error)
	Delete(ctx context.Context, ids []string) (ActionResult, error)
	AddLabels(ctx context.Context, ids []string, labelIDs []string) (ActionResult, error)
	MarkRead(ctx context.Context, ids []string) (ActionResult, error)
	MarkUnread(ctx context.Context, ids []string) (ActionResult, error)
	Star(ctx context.Context, ids []string) (ActionResult, error)
	Unstar(ctx context.Context, ids []string) (ActionResult, error)

	// Counts returns aggregate mailbox counts.
	Counts(ctx context.Context) (Counts, error)

	// Labels returns the mailbox's labels/folders.
	Labels(ctx context.Context) ([]Label, error)

	// Close releases any held connections.
	Close()
}
