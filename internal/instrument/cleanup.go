package instrument

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"widgetflow-backend/internal/store"
)

// CleanupOldEvents deletes events older than retentionDays before now.
func CleanupOldEvents(ctx context.Context, db *sql.DB, dialect store.Dialect, retentionDays int, now time.Time) (int64, error) {
	cutoff := now.UTC().AddDate(0, 0, -retentionDays)
	n, err := store.Exec(ctx, db, store.Rebind(dialect, "DELETE FROM _events WHERE created_at < $1"), cutoff)
	if err != nil {
		return 0, fmt.Errorf("event cleanup: %w", err)
	}
	return n, nil
}

// StartCleanup runs CleanupOldEvents on a cron schedule such as "@daily".
// Stop the returned cron to end it.
func StartCleanup(db *sql.DB, dialect store.Dialect, schedule string, retentionDays int) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		n, err := CleanupOldEvents(context.Background(), db, dialect, retentionDays, time.Now())
		if err != nil {
			log.Printf("ERROR: %v", err)
			return
		}
		if n > 0 {
			log.Printf("Event cleanup: deleted %d old events", n)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule event cleanup %q: %w", schedule, err)
	}
	c.Start()
	log.Printf("Event cleanup scheduled: %s (retention %d days)", schedule, retentionDays)
	return c, nil
}
