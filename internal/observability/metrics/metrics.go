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
	admissionAllowed   metric.Int64Counter
	admissionDenied    metric.Int64Counter
	ledgerAppends      metric.Int64Counter
	lockContention     metric.Int64Counter
	summarizerFailures metric.Int64Counter
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
		name = "clipbrief"
	}
	meter := provider.Meter(name)

	admissionAllowed, err := meter.Int64Counter("clipbrief_admission_allowed_total")
	if err != nil {
		return nil, err
	}
	admissionDenied, err := meter.Int64Counter("clipbrief_admission_denied_total")
	if err != nil {
		return nil, err
	}
	ledgerAppends, err := meter.Int64Counter("clipbrief_usage_events_total")
	if err != nil {
		return nil, err
	}
	lockContention, err := meter.Int64Counter("clipbrief_lock_contention_total")
	if err != nil {
		return nil, err
	}
	summarizerFailures, err := meter.Int64Counter("clipbrief_summarizer_failures_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		admissionAllowed:   admissionAllowed,
		admissionDenied:    admissionDenied,
		ledgerAppends:      ledgerAppends,
		lockContention:     lockContention,
		summarizerFailures: summarizerFailures,
	}, nil
}

func (m *Metrics) RecordAdmission(ctx context.Context, plan string, allowed bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("plan", plan))
	if allowed {
		m.admissionAllowed.Add(ctx, 1, attrs)
		return
	}
	m.admissionDenied.Add(ctx, 1, attrs)
}

func (m *Metrics) RecordLedgerAppend(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.ledgerAppends.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (m *Metrics) RecordLockContention(ctx context.Context) {
	if m == nil {
		return
	}
	m.lockContention.Add(ctx, 1)
}

func (m *Metrics) RecordSummarizerFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.summarizerFailures.Add(ctx, 1)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "http", "http/protobuf":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported otlp protocol %q", protocol)
	}
}
