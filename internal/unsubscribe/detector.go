// Package unsubscribe defines the unsubscribe-detection collaborator
// consumed by unsubscribe-scan jobs. The scan discovers candidate senders;
// link extraction and one-click unsubscribing live outside this core.
package unsubscribe

import (
	"context"
	"log/slog"
	"time"

	"github.com/boxkeep/boxkeep/internal/mailclient"
)

// Candidate is a sender the scan flagged as likely-subscribable.
type Candidate struct {
	Sender       string    `json:"sender"`
	Target       string    `json:"target,omitempty"` // List-Unsubscribe value when advertised
	MessageID    string    `json:"message_id"`
	Subject      string    `json:"subject"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Detector receives discovered messages and decides which senders are
// unsubscribe candidates.
type Detector interface {
	Inspect(ctx context.Context, messages []mailclient.Message) ([]Candidate, error)
}

// HeaderDetector is the default detector: a message is a candidate when it
// advertises a List-Unsubscribe target. Senders are deduplicated, first
// sighting wins.
type HeaderDetector struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewHeaderDetector creates the default detector.
func NewHeaderDetector(logger *slog.Logger) *HeaderDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &HeaderDetector{
		logger: logger.With("component", "unsubscribe"),
		now:    time.Now,
	}
}

func (d *HeaderDetector) Inspect(_ context.Context, messages []mailclient.Message) ([]Candidate, error) {
	seen := make(map[string]bool)

	var candidates []Candidate
	for _, m := range messages {
		if m.Unsubscribe == "" || seen[m.From] {
			continue
		}
		seen[m.From] = true
		candidates = append(candidates, Candidate{
			Sender:       m.From,
			Target:       m.Unsubscribe,
			MessageID:    m.ID,
			Subject:      m.Subject,
			DiscoveredAt: d.now(),
		})
	}

	if len(candidates) > 0 {
		d.logger.Info("unsubscribe candidates discovered", "count", len(candidates))
	}
	return candidates, nil
}
