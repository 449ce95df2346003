package tracestore

import (
	"log/slog"
	"time"
)

// CleanupInterval is how often stores delete spans past their retention.
const CleanupInterval = time.Hour

// retentionCutoff is the oldest start time a span may have to be kept.
func retentionCutoff(retentionDays int, now time.Time) time.Time {
	return now.UTC().AddDate(0, 0, -retentionDays)
}

// RunCleanupLoop deletes expired spans at start-up and then every
// CleanupInterval until stop is closed. deleteBefore returns how many spans
// it removed.
func RunCleanupLoop(stop <-chan struct{}, backend string, retentionDays int, deleteBefore func(cutoff time.Time) (int64, error)) {
	sweep := func() {
		cutoff := retentionCutoff(retentionDays, time.Now())
		n, err := deleteBefore(cutoff)
		if err != nil {
			slog.Error("failed to delete expired spans", "backend", backend, "cutoff", cutoff, "error", err)
			return
		}
		if n > 0 {
			slog.Info("deleted expired spans", "backend", backend, "count", n, "cutoff", cutoff)
		}
	}

	sweep()
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sweep()
		case <-stop:
			return
		}
	}
}
