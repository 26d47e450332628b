package creem

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/pixelmuse/pixelmuse/internal/payment/domain"
)

const signatureHeader = "X-Signature"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "creem"
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret, _ := readString(cfg.Config, "webhook_secret")
	return &Adapter{webhookSecret: strings.TrimSpace(secret)}, nil
}

type Adapter struct {
	webhookSecret string
}

// Verify checks the HMAC-SHA256 signature over the raw body. An empty
// configured secret disables verification for local development.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return nil
	}

	signature := strings.TrimSpace(headers.Get(signatureHeader))
	signature = strings.TrimPrefix(signature, "sha256=")
	if signature == "" {
		return paymentdomain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.ProviderEvent, error) {
	var event creemEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	rawType := strings.TrimSpace(event.EventType)
	metadata := event.Object.Metadata
	if len(metadata) == 0 {
		metadata = event.Metadata
	}

	return &paymentdomain.ProviderEvent{
		Provider:   "creem",
		EventID:    event.ID,
		RawType:    rawType,
		Class:      classify(rawType),
		Status:     strings.ToLower(strings.TrimSpace(event.Object.Status)),
		Metadata:   parseMetadata(metadata),
		OccurredAt: timestamp(event.CreatedAt),
		RawPayload: payload,
	}, nil
}

// classify maps the provider's event type wording to the canonical class.
// This is the only place the wording is inspected.
func classify(rawType string) paymentdomain.EventClass {
	lowered := strings.ToLower(rawType)
	switch {
	case strings.Contains(lowered, "cancel"), strings.Contains(lowered, "expire"):
		return paymentdomain.ClassCancellation
	case strings.Contains(lowered, "paid"),
		strings.Contains(lowered, "payment"),
		strings.Contains(lowered, "checkout"):
		return paymentdomain.ClassSuccess
	default:
		return paymentdomain.ClassOther
	}
}

type creemEvent struct {
	ID        string         `json:"id"`
	EventType string         `json:"eventType"`
	CreatedAt int64          `json:"created_at"`
	Object    creemObject    `json:"object"`
	Metadata  map[string]any `json:"metadata"`
}

type creemObject struct {
	Status   string         `json:"status"`
	Metadata map[string]any `json:"metadata"`
}

func parseMetadata(metadata map[string]any) paymentdomain.EventMetadata {
	return paymentdomain.EventMetadata{
		UserID: readMetadataValue(metadata, "userId"),
		Plan:   readMetadataValue(metadata, "plan"),
		Cycle:  readMetadataValue(metadata, "cycle"),
		Pack:   readMetadataValue(metadata, "pack"),
		Email:  readMetadataValue(metadata, "email"),
	}
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case json.Number:
		return cast.String()
	}
	return ""
}

func timestamp(value int64) time.Time {
	if value == 0 {
		return time.Now().UTC()
	}
	// Creem sends millisecond epochs; tolerate seconds too.
	if value > 1e12 {
		return time.UnixMilli(value).UTC()
	}
	return time.Unix(value, 0).UTC()
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	cast, ok := value.(string)
	return cast, ok
}
