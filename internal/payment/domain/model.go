package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrInvalidConfig    = errors.New("invalid_adapter_config")
)

// EventClass is the adapter-derived classification of a provider event.
// Adapters match the provider's raw event type wording exactly once, so the
// reconciler's decision table never inspects provider strings.
type EventClass string

const (
	ClassSuccess      EventClass = "success"
	ClassCancellation EventClass = "cancellation"
	ClassOther        EventClass = "other"
)

// EventMetadata carries the checkout metadata the provider echoes back on
// webhook delivery. UserID is mandatory; the rest depend on what was bought.
type EventMetadata struct {
	UserID string
	Plan   string
	Cycle  string
	Pack   string
	Email  string
}

// ProviderEvent is the canonical event parsed by adapters and consumed by the
// entitlement reconciler.
type ProviderEvent struct {
	Provider   string
	EventID    string
	RawType    string
	Class      EventClass
	Status     string
	Metadata   EventMetadata
	OccurredAt time.Time
	RawPayload []byte
}

// EventRecord is the persisted webhook delivery. ProcessedAt is set only
// after reconciliation succeeds, so a replay of an unprocessed event gets
// reconciled again while a processed one is acknowledged without effect.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	Class           string         `json:"class" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "webhook_events" }

type AdapterConfig struct {
	Provider string
	Config   map[string]any
}

type PaymentAdapter interface {
	// Verify checks the delivery signature against the raw body. A nil error
	// means the payload is authentic or verification is disabled.
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	// Parse extracts the canonical event, classifying it in the process.
	// Returns ErrEventIgnored for event types the subsystem does not consume.
	Parse(ctx context.Context, payload []byte) (*ProviderEvent, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

type Repository interface {
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	// InsertEvent records the delivery unless a row with the same
	// (provider, provider_event_id) already exists. Returns whether a row
	// was created.
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}

type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
}
