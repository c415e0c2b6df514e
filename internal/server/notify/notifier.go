// Package notify defines the boundary to the external notification
// collaborator. The sweeper emits pre-expiry events here; delivery channels
// (email, SSE) and per-user deduplication live outside this repository.
package notify

import (
	"context"
	"time"

	"github.com/cipherdrop/cipherdrop/internal/logging"
)

// Notifier receives pre-expiry events from the retention sweeper.
type Notifier interface {
	// NotifyExpiring signals that the file will expire at expiresAt.
	// The sweeper only calls this once per file.
	NotifyExpiring(ctx context.Context, fileID string, expiresAt time.Time) error
}

// LogNotifier writes notification events to the log. It is the default
// implementation when no delivery backend is attached.
type LogNotifier struct {
	logger logging.Logger
}

func NewLogNotifier(logger logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("module", "notify")}
}

func (n *LogNotifier) NotifyExpiring(ctx context.Context, fileID string, expiresAt time.Time) error {
	n.logger.Info(ctx, "file expiring soon", "file_id", fileID, "expires_at", expiresAt)
	return nil
}
