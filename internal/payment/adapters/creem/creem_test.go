package creem

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"testing"

	paymentdomain "github.com/pixelmuse/pixelmuse/internal/payment/domain"
)

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","eventType":"checkout.completed","object":{}}`)

	reqHeader := http.Header{}
	reqHeader.Set("X-Signature", signPayload(secret, payload))

	adapter := &Adapter{webhookSecret: secret}
	if err := adapter.Verify(context.Background(), payload, reqHeader); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}

	reqHeader.Set("X-Signature", "sha256="+signPayload(secret, payload))
	if err := adapter.Verify(context.Background(), payload, reqHeader); err != nil {
		t.Fatalf("expected prefixed signature accepted, got error: %v", err)
	}

	reqHeader.Set("X-Signature", signPayload("wrong", payload))
	if err := adapter.Verify(context.Background(), payload, reqHeader); err == nil {
		t.Fatalf("expected invalid signature error")
	}

	reqHeader.Del("X-Signature")
	if err := adapter.Verify(context.Background(), payload, reqHeader); err == nil {
		t.Fatalf("expected missing signature rejected")
	}
}

func TestVerifySkippedWithoutSecret(t *testing.T) {
	adapter := &Adapter{}
	if err := adapter.Verify(context.Background(), []byte(`{}`), http.Header{}); err != nil {
		t.Fatalf("expected verification skipped without secret, got %v", err)
	}
}

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		want      paymentdomain.EventClass
	}{
		{"checkout completed", "checkout.completed", paymentdomain.ClassSuccess},
		{"payment paid", "payment.paid", paymentdomain.ClassSuccess},
		{"subscription cancelled", "subscription.cancelled", paymentdomain.ClassCancellation},
		{"subscription expired", "subscription.expired", paymentdomain.ClassCancellation},
		{"subscription update", "subscription.update", paymentdomain.ClassOther},
	}

	adapter := &Adapter{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := json.Marshal(map[string]any{
				"id":        "evt_1",
				"eventType": tt.eventType,
				"object":    map[string]any{"status": "active"},
			})
			if err != nil {
				t.Fatalf("marshal payload: %v", err)
			}
			event, err := adapter.Parse(context.Background(), payload)
			if err != nil {
				t.Fatalf("parse event: %v", err)
			}
			if event.Class != tt.want {
				t.Fatalf("expected class %s, got %s", tt.want, event.Class)
			}
		})
	}
}

func TestParseMetadata(t *testing.T) {
	payload, err := json.Marshal(map[string]any{
		"id":         "evt_meta",
		"eventType":  "checkout.completed",
		"created_at": int64(1714000000000),
		"object": map[string]any{
			"status": "Paid",
			"metadata": map[string]any{
				"userId": " 12345 ",
				"plan":   "pro",
				"cycle":  "yearly",
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	adapter := &Adapter{}
	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	if event.EventID != "evt_meta" {
		t.Fatalf("expected event id evt_meta, got %s", event.EventID)
	}
	if event.Status != "paid" {
		t.Fatalf("expected normalized status, got %s", event.Status)
	}
	if event.Metadata.UserID != "12345" {
		t.Fatalf("expected trimmed user id, got %q", event.Metadata.UserID)
	}
	if event.Metadata.Plan != "pro" || event.Metadata.Cycle != "yearly" {
		t.Fatalf("unexpected metadata: %+v", event.Metadata)
	}
	if event.OccurredAt.Year() != 2024 {
		t.Fatalf("expected millisecond epoch parsed, got %v", event.OccurredAt)
	}
}

func TestParseTopLevelMetadataFallback(t *testing.T) {
	payload := []byte(`{"id":"evt_flat","eventType":"payment.paid","metadata":{"userId":"9","pack":"starter-pack"}}`)

	adapter := &Adapter{}
	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	if event.Metadata.UserID != "9" || event.Metadata.Pack != "starter-pack" {
		t.Fatalf("unexpected metadata: %+v", event.Metadata)
	}
}

func TestParseRejectsMissingID(t *testing.T) {
	adapter := &Adapter{}
	if _, err := adapter.Parse(context.Background(), []byte(`{"eventType":"checkout.completed"}`)); err != paymentdomain.ErrInvalidEvent {
		t.Fatalf("expected invalid event, got %v", err)
	}
	if _, err := adapter.Parse(context.Background(), []byte(`not-json`)); err != paymentdomain.ErrInvalidPayload {
		t.Fatalf("expected invalid payload, got %v", err)
	}
}

func signPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
