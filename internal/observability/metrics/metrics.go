package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	webhookEvents     metric.Int64Counter
	grantsCreated     metric.Int64Counter
	creditsSpent      metric.Int64Counter
	spendShortfall    metric.Int64Counter
	generations       metric.Int64Counter
	generationLatency metric.Float64Histogram
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "pixelmuse"
	}
	meter := provider.Meter(name)

	webhookEvents, err := meter.Int64Counter("pixelmuse_webhook_events_total")
	if err != nil {
		return nil, err
	}
	grantsCreated, err := meter.Int64Counter("pixelmuse_credit_grants_created_total")
	if err != nil {
		return nil, err
	}
	creditsSpent, err := meter.Int64Counter("pixelmuse_credits_spent_total")
	if err != nil {
		return nil, err
	}
	spendShortfall, err := meter.Int64Counter("pixelmuse_spend_shortfall_total")
	if err != nil {
		return nil, err
	}
	generations, err := meter.Int64Counter("pixelmuse_generations_total")
	if err != nil {
		return nil, err
	}
	generationLatency, err := meter.Float64Histogram("pixelmuse_generation_latency_seconds")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		webhookEvents:     webhookEvents,
		grantsCreated:     grantsCreated,
		creditsSpent:      creditsSpent,
		spendShortfall:    spendShortfall,
		generations:       generations,
		generationLatency: generationLatency,
	}, nil
}

// RecordWebhookEvent increments webhook event counts per provider and outcome.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordGrantCreated increments grant creation counts per source.
func (m *Metrics) RecordGrantCreated(ctx context.Context, source string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("source", strings.TrimSpace(source)))
	m.grantsCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCreditsSpent adds the deducted amount per spend path.
func (m *Metrics) RecordCreditsSpent(ctx context.Context, path string, credits int64) {
	if m == nil || credits <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("path", strings.TrimSpace(path)))
	m.creditsSpent.Add(ctx, credits, metric.WithAttributes(attrs...))
}

// RecordSpendShortfall counts spends that exceeded the live balance.
func (m *Metrics) RecordSpendShortfall(ctx context.Context, policy string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("policy", strings.TrimSpace(policy)))
	m.spendShortfall.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordGeneration counts generation requests per model and outcome, with latency.
func (m *Metrics) RecordGeneration(ctx context.Context, model, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("model", strings.TrimSpace(model)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.generations.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.generationLatency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"provider":    {},
	"outcome":     {},
	"source":      {},
	"path":        {},
	"policy":      {},
	"model":       {},
	"endpoint":    {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
