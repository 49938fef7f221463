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

// Metrics exposes application-level instruments for the matching and
// royalty pipelines.
type Metrics struct {
	eventsSubmitted      metric.Int64Counter
	eventsMatched        metric.Int64Counter
	eventsUnmatched      metric.Int64Counter
	eventsErrored        metric.Int64Counter
	statementsCalculated metric.Int64Counter
	periodRuns           metric.Int64Counter
	matchDuration        metric.Float64Histogram
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

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "accord"
	}
	meter := provider.Meter(name)

	eventsSubmitted, err := meter.Int64Counter("accord_usage_events_submitted_total")
	if err != nil {
		return nil, err
	}
	eventsMatched, err := meter.Int64Counter("accord_usage_events_matched_total")
	if err != nil {
		return nil, err
	}
	eventsUnmatched, err := meter.Int64Counter("accord_usage_events_unmatched_total")
	if err != nil {
		return nil, err
	}
	eventsErrored, err := meter.Int64Counter("accord_usage_events_errored_total")
	if err != nil {
		return nil, err
	}
	statementsCalculated, err := meter.Int64Counter("accord_statements_calculated_total")
	if err != nil {
		return nil, err
	}
	periodRuns, err := meter.Int64Counter("accord_period_runs_total")
	if err != nil {
		return nil, err
	}
	matchDuration, err := meter.Float64Histogram("accord_match_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		eventsSubmitted:      eventsSubmitted,
		eventsMatched:        eventsMatched,
		eventsUnmatched:      eventsUnmatched,
		eventsErrored:        eventsErrored,
		statementsCalculated: statementsCalculated,
		periodRuns:           periodRuns,
		matchDuration:        matchDuration,
	}, nil
}

// RecordEventSubmitted increments usage event submission counts.
func (m *Metrics) RecordEventSubmitted(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.eventsSubmitted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", strings.TrimSpace(source)),
	))
}

// RecordMatchOutcome increments the counter matching the pipeline outcome
// and records the match duration.
func (m *Metrics) RecordMatchOutcome(ctx context.Context, outcome, method string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("method", strings.TrimSpace(method)))
	switch outcome {
	case "matched":
		m.eventsMatched.Add(ctx, 1, attrs)
	case "review", "unmatched":
		m.eventsUnmatched.Add(ctx, 1, attrs)
	default:
		m.eventsErrored.Add(ctx, 1, attrs)
	}
	m.matchDuration.Record(ctx, elapsed.Seconds())
}

// RecordStatements increments the calculated statement count for a period.
func (m *Metrics) RecordStatements(ctx context.Context, periodCode string, count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.statementsCalculated.Add(ctx, count, metric.WithAttributes(
		attribute.String("period", strings.TrimSpace(periodCode)),
	))
}

// RecordPeriodRun increments the run counter with its final status.
func (m *Metrics) RecordPeriodRun(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.periodRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", strings.TrimSpace(status)),
	))
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
