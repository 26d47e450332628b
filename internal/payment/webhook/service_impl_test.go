package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pixelmuse/pixelmuse/internal/clock"
	"github.com/pixelmuse/pixelmuse/internal/config"
	entitlementdomain "github.com/pixelmuse/pixelmuse/internal/entitlement/domain"
	grantdomain "github.com/pixelmuse/pixelmuse/internal/grant/domain"
	"github.com/pixelmuse/pixelmuse/internal/payment/adapters"
	"github.com/pixelmuse/pixelmuse/internal/payment/adapters/creem"
	paymentdomain "github.com/pixelmuse/pixelmuse/internal/payment/domain"
	"github.com/pixelmuse/pixelmuse/internal/payment/repository"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type reconcilerStub struct {
	mu     sync.Mutex
	calls  int
	err    error
	events []*paymentdomain.ProviderEvent
}

func (r *reconcilerStub) Reconcile(ctx context.Context, event *paymentdomain.ProviderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.events = append(r.events, event)
	return r.err
}

func (r *reconcilerStub) Membership(ctx context.Context, userID snowflake.ID) (entitlementdomain.MembershipSnapshot, error) {
	return entitlementdomain.MembershipSnapshot{}, nil
}

func (r *reconcilerStub) Grants(ctx context.Context, userID snowflake.ID) ([]grantdomain.CreditGrant, error) {
	return nil, nil
}

func (r *reconcilerStub) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

const testSecret = "whsec_test"

func TestIngestWebhookProcessesOnce(t *testing.T) {
	service, db, reconciler := setupWebhookService(t, nil)

	payload, headers := signedEvent(t, "evt_once", "checkout.completed")
	if err := service.IngestWebhook(context.Background(), "creem", payload, headers); err != nil {
		t.Fatalf("ingest first: %v", err)
	}
	if err := service.IngestWebhook(context.Background(), "creem", payload, headers); err != nil {
		t.Fatalf("ingest replay: %v", err)
	}

	if reconciler.Calls() != 1 {
		t.Fatalf("expected 1 reconcile call, got %d", reconciler.Calls())
	}
	if count := countEvents(t, db); count != 1 {
		t.Fatalf("expected 1 event record, got %d", count)
	}
	if processed := processedAt(t, db, "evt_once"); processed == nil {
		t.Fatalf("expected event marked processed")
	}
}

func TestIngestWebhookRejectsBadSignature(t *testing.T) {
	service, db, reconciler := setupWebhookService(t, nil)

	payload, _ := signedEvent(t, "evt_bad", "checkout.completed")
	headers := http.Header{}
	headers.Set("X-Signature", "deadbeef")

	err := service.IngestWebhook(context.Background(), "creem", payload, headers)
	if !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
	if reconciler.Calls() != 0 {
		t.Fatalf("expected no reconcile on bad signature")
	}
	if count := countEvents(t, db); count != 0 {
		t.Fatalf("expected no event record, got %d", count)
	}
}

func TestIngestWebhookRetriesUnprocessedEvent(t *testing.T) {
	failure := errors.New("downstream unavailable")
	service, db, reconciler := setupWebhookService(t, failure)

	payload, headers := signedEvent(t, "evt_retry", "payment.paid")
	if err := service.IngestWebhook(context.Background(), "creem", payload, headers); !errors.Is(err, failure) {
		t.Fatalf("expected reconcile failure surfaced, got %v", err)
	}
	if processed := processedAt(t, db, "evt_retry"); processed != nil {
		t.Fatalf("failed event must not be marked processed")
	}

	// Provider retries. The stored record is unprocessed, so the event is
	// reconciled again.
	reconciler.err = nil
	if err := service.IngestWebhook(context.Background(), "creem", payload, headers); err != nil {
		t.Fatalf("ingest retry: %v", err)
	}
	if reconciler.Calls() != 2 {
		t.Fatalf("expected 2 reconcile calls, got %d", reconciler.Calls())
	}
	if processed := processedAt(t, db, "evt_retry"); processed == nil {
		t.Fatalf("expected retried event marked processed")
	}
	if count := countEvents(t, db); count != 1 {
		t.Fatalf("expected 1 event record, got %d", count)
	}
}

func TestIngestWebhookUnknownProvider(t *testing.T) {
	service, _, _ := setupWebhookService(t, nil)

	err := service.IngestWebhook(context.Background(), "stripe", []byte(`{}`), http.Header{})
	if !errors.Is(err, paymentdomain.ErrProviderNotFound) {
		t.Fatalf("expected provider not found, got %v", err)
	}
}

func setupWebhookService(t *testing.T, reconcileErr error) (paymentdomain.Service, *gorm.DB, *reconcilerStub) {
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
	prepareEventSchema(t, db)

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	reconciler := &reconcilerStub{err: reconcileErr}
	service := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)),
		GenID: node,
		Cfg: config.Config{
			Payment: config.PaymentConfig{WebhookSecret: testSecret},
		},
		Repo:       repository.Provide(),
		Adapters:   adapters.NewRegistry(creem.NewFactory()),
		Reconciler: reconciler,
	})
	return service, db, reconciler
}

func signedEvent(t *testing.T, eventID, eventType string) ([]byte, http.Header) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":        eventID,
		"eventType": eventType,
		"object": map[string]any{
			"status":   "paid",
			"metadata": map[string]any{"userId": "42"},
		},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	mac := hmac.New(sha256.New, []byte(testSecret))
	_, _ = mac.Write(payload)
	headers := http.Header{}
	headers.Set("X-Signature", hex.EncodeToString(mac.Sum(nil)))
	return payload, headers
}

func prepareEventSchema(t *testing.T, db *gorm.DB) {
	t.Helper()
	err := db.Exec(`CREATE TABLE IF NOT EXISTS webhook_events (
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
}

func countEvents(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	if err := db.Raw(`SELECT COUNT(*) FROM webhook_events`).Scan(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	return count
}

func processedAt(t *testing.T, db *gorm.DB, eventID string) *time.Time {
	t.Helper()
	var processed sql.NullTime
	err := db.Raw(`SELECT processed_at FROM webhook_events WHERE provider_event_id = ?`, eventID).Scan(&processed).Error
	if err != nil {
		t.Fatalf("read processed_at: %v", err)
	}
	if !processed.Valid {
		return nil
	}
	return &processed.Time
}
