package workers

import (
	"context"
	"log"
	"time"

	"github.com/replyloop/backend/internal/store"
)

// ActivityRetentionWorker removes activity log rows older than the configured
// retention period so the feed table stays bounded.
type ActivityRetentionWorker struct {
	Store         *store.Store
	RetentionDays int           // how long to keep activity rows (default: 90)
	CheckInterval time.Duration // how often to run the sweep (default: 1 hour)
}

func (w *ActivityRetentionWorker) Start(ctx context.Context) {
	if w.RetentionDays <= 0 {
		w.RetentionDays = 90
	}
	if w.CheckInterval <= 0 {
		w.CheckInterval = time.Hour
	}

	ticker := time.NewTicker(w.CheckInterval)
	defer ticker.Stop()

	log.Printf("[ActivityRetention] started (retention=%dd, interval=%s)", w.RetentionDays, w.CheckInterval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[ActivityRetention] stopped")
			return
		case <-ticker.C:
			w.cleanup(ctx)
		}
	}
}

func (w *ActivityRetentionWorker) cleanup(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -w.RetentionDays)

	deleted, err := w.Store.DeleteActivityBefore(ctx, cutoff)
	if err != nil {
		log.Printf("[ActivityRetention] error: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("[ActivityRetention] deleted %d old activity rows", deleted)
	}
}
