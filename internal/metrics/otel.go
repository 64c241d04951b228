package metrics

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Metric exporters understood by NewMeterProvider.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// ExportConfig selects where the observed registry totals are pushed.
type ExportConfig struct {
	Exporter string        `yaml:"exporter"`
	Interval time.Duration `yaml:"interval"`
}

// DefaultExportConfig exports nothing.
func DefaultExportConfig() *ExportConfig {
	return &ExportConfig{
		Exporter: ExporterNone,
		Interval: time.Minute,
	}
}

// NewMeterProvider builds the SDK meter provider for the worker. With
// ExporterNone the provider has no reader and callbacks never run.
// Stdout output goes to w.
func NewMeterProvider(cfg *ExportConfig, serviceName, version string, w io.Writer) (*sdkmetric.MeterProvider, error) {
	if cfg == nil {
		cfg = DefaultExportConfig()
	}
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", version),
		)),
	}

	switch cfg.Exporter {
	case ExporterNone, "":
	case ExporterStdout:
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("stdout metric exporter: %w", err)
		}
		interval := cfg.Interval
		if interval <= 0 {
			interval = time.Minute
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))))
	default:
		return nil, fmt.Errorf("unknown metrics exporter %q", cfg.Exporter)
	}
	return sdkmetric.NewMeterProvider(opts...), nil
}

// RegisterObservables exports the registry totals as OpenTelemetry observable
// counters. Observation reads Snapshot and never resets anything.
func RegisterObservables(meter metric.Meter, reg *Registry) (metric.Registration, error) {
	calls, err := meter.Int64ObservableCounter("strategy.algorithm.calls",
		metric.WithDescription("Algorithm invocations in the current daily bucket"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Int64ObservableCounter("strategy.algorithm.latency",
		metric.WithDescription("Cumulative algorithm latency in the current daily bucket"),
		metric.WithUnit("us"))
	if err != nil {
		return nil, err
	}
	errs, err := meter.Int64ObservableCounter("strategy.algorithm.errors",
		metric.WithDescription("Algorithm failures in the current daily bucket"))
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for id, snap := range reg.Snapshot() {
			attrs := metric.WithAttributes(attribute.String("algorithm", string(id)))
			o.ObserveInt64(calls, toInt64(snap.CallCount), attrs)
			o.ObserveInt64(latency, toInt64(snap.TotalLatencyUs), attrs)
			o.ObserveInt64(errs, toInt64(snap.ErrorCount), attrs)
		}
		return nil
	}, calls, latency, errs)
}

func toInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
