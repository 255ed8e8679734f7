// Package analytics defines the analytics-collector collaborator consumed by
// analytics-collection jobs. The engine hands it aggregate snapshots; what
// happens to them (charts, dashboards) is the surrounding product's business.
package analytics

import (
	"context"
	"log/slog"
	"time"
)

// Snapshot holds aggregate mailbox counts and sizes at a point in time.
type Snapshot struct {
	OwnerID    string    `json:"owner_id"`
	Total      int       `json:"total"`
	Unread     int       `json:"unread"`
	Starred    int       `json:"starred"`
	TotalSize  int64     `json:"total_size"`
	LabelCount int       `json:"label_count"`
	TakenAt    time.Time `json:"taken_at"`
}

// Collector receives aggregate snapshots.
type Collector interface {
	Record(ctx context.Context, snap Snapshot) error
}

// LogCollector is the default collector: it emits each snapshot as a
// structured log entry.
type LogCollector struct {
	logger *slog.Logger
}

// NewLogCollector creates a collector that logs snapshots.
func NewLogCollector(logger *slog.Logger) *LogCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogCollector{logger: logger.With("component", "analytics")}
}

func (c *LogCollector) Record(_ context.Context, snap Snapshot) error {
	c.logger.Info("mailbox snapshot",
		"owner", snap.OwnerID,
		"total", snap.Total,
		"unread", snap.Unread,
		"starred", snap.Starred,
		"total_size", snap.TotalSize,
		"labels", snap.LabelCount,
	)
	return nil
}
