package core

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// MetricsRecorder receives queue and update-group measurements.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	QueueDepth(depth int)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}
func (noopMetrics) QueueDepth(int)                                       {}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
