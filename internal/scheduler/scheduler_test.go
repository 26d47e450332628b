package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pixelmuse/pixelmuse/internal/clock"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestRunOncePrunesProcessedEvents(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	sched, db := setupScheduler(t, now, Config{})

	old := now.Add(-120 * 24 * time.Hour)
	recent := now.Add(-10 * 24 * time.Hour)

	insertEvent(t, db, 1, "evt_old_done", old, &old)
	insertEvent(t, db, 2, "evt_old_pending", old, nil)
	insertEvent(t, db, 3, "evt_recent_done", recent, &recent)

	sched.RunOnce(context.Background())

	remaining := eventIDs(t, db)
	if len(remaining) != 2 {
		t.Fatalf("expected 2 rows, got %v", remaining)
	}
	for _, id := range remaining {
		if id == "evt_old_done" {
			t.Fatalf("processed row past retention must be pruned")
		}
	}
}

func TestRunOncePrunesInBatches(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	sched, db := setupScheduler(t, now, Config{DeleteBatchSize: 2})

	old := now.Add(-120 * 24 * time.Hour)
	for i := 0; i < 5; i++ {
		insertEvent(t, db, int64(i+1), fmt.Sprintf("evt_%d", i), old, &old)
	}

	sched.RunOnce(context.Background())

	if ids := eventIDs(t, db); len(ids) != 0 {
		t.Fatalf("expected all rows pruned, got %v", ids)
	}
}

func setupScheduler(t *testing.T, now time.Time, cfg Config) (*Scheduler, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	err = db.Exec(`CREATE TABLE IF NOT EXISTS webhook_events (
		id INTEGER PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		class TEXT NOT NULL,
		payload TEXT NOT NULL,
		received_at DATETIME NOT NULL,
		processed_at DATETIME,
		UNIQUE (provider, provider_event_id)
	)`).Error
	if err != nil {
		t.Fatalf("create schema: %v", err)
	}

	sched, err := New(Params{
		DB:     db,
		Log:    zap.NewNop(),
		Clock:  clock.NewFakeClock(now),
		Config: cfg,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return sched, db
}

func insertEvent(t *testing.T, db *gorm.DB, id int64, eventID string, receivedAt time.Time, processedAt *time.Time) {
	t.Helper()
	err := db.Exec(
		`INSERT INTO webhook_events (id, provider, provider_event_id, event_type, class, payload, received_at, processed_at)
		 VALUES (?, 'creem', ?, 'payment.paid', 'success', '{}', ?, ?)`,
		id, eventID, receivedAt, processedAt,
	).Error
	if err != nil {
		t.Fatalf("insert event: %v", err)
	}
}

func eventIDs(t *testing.T, db *gorm.DB) []string {
	t.Helper()
	var ids []string
	if err := db.Raw(`SELECT provider_event_id FROM webhook_events ORDER BY id`).Scan(&ids).Error; err != nil {
		t.Fatalf("query events: %v", err)
	}
	return ids
}
