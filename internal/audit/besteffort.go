package audit

import (
	"context"
	"log/slog"
	"time"
)

// BestEffort wraps a Sink so that Log never fails and never panics.
// Failures are logged locally and dropped.
//
// The zero value and a nil *BestEffort are both usable and discard everything.
type BestEffort struct {
	sink   Sink
	logger *slog.Logger
}

// NewBestEffort wraps sink. A nil logger discards sink failures silently.
func NewBestEffort(sink Sink, logger *slog.Logger) *BestEffort {
	return &BestEffort{sink: sink, logger: logger}
}

// Log writes entry to the underlying sink, swallowing any error or panic.
func (b *BestEffort) Log(ctx context.Context, entry Entry) {
	if b == nil || b.sink == nil {
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Error("audit sink panic recovered", "action", entry.Action, "panic", r)
		}
	}()

	if err := b.sink.Log(ctx, &entry); err != nil && b.logger != nil {
		b.logger.Warn("audit log failed", "action", entry.Action, "actor", entry.ActorID, "error", err)
	}
}
