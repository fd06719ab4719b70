// Package telemetry provides OpenTelemetry metrics for migration runs.
//
// Telemetry is disabled by default (zero runtime overhead when off).
//
// # Configuration
//
//	ADO2GH_OTEL_ENABLED=true          enable telemetry (default: off)
//	ADO2GH_OTEL_STDOUT=true           write metrics to stderr (dev mode)
//	OTEL_EXPORTER_OTLP_ENDPOINT=...   OTLP/HTTP endpoint
//	OTEL_SERVICE_NAME=ado2gh          override service name
package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const instrumentationScope = "github.com/codemill/ado2gh"

var shutdownFns []func(context.Context) error

// Enabled reports whether telemetry is active (ADO2GH_OTEL_ENABLED=true).
func Enabled() bool {
	return os.Getenv("ADO2GH_OTEL_ENABLED") == "true"
}

// Init configures the meter provider. When ADO2GH_OTEL_ENABLED is not
// "true" this installs a no-op provider and returns immediately.
func Init(ctx context.Context, serviceName, version string) error {
	if !Enabled() {
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	var readers []sdkmetric.Option
	if os.Getenv("ADO2GH_OTEL_STDOUT") == "true" {
		exp, err := stdoutmetric.New()
		if err != nil {
			return fmt.Errorf("telemetry: stdout exporter: %w", err)
		}
		readers = append(readers, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))))
	}
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		exp, err := otlpmetrichttp.New(ctx)
		if err != nil {
			return fmt.Errorf("telemetry: otlp exporter: %w", err)
		}
		readers = append(readers, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}
	if len(readers) == 0 {
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}

	mp := sdkmetric.NewMeterProvider(append(readers, sdkmetric.WithResource(res))...)
	otel.SetMeterProvider(mp)
	shutdownFns = append(shutdownFns, mp.Shutdown)
	return nil
}

// Shutdown flushes and stops all providers.
func Shutdown(ctx context.Context) {
	for _, fn := range shutdownFns {
		_ = fn(ctx)
	}
	shutdownFns = nil
}

// Meter returns the package meter.
func Meter() metric.Meter {
	return otel.Meter(instrumentationScope)
}

// RunCounters holds the run-level instruments.
type RunCounters struct {
	ItemsMigrated   metric.Int64Counter
	ItemsFailed     metric.Int64Counter
	StepsFailed     metric.Int64Counter
	RateLimitSleeps metric.Int64Counter
}

// NewRunCounters creates the migration counters. Instrument creation on a
// no-op meter is free, so callers need not check Enabled first.
func NewRunCounters() (*RunCounters, error) {
	m := Meter()

	migrated, err := m.Int64Counter("ado2gh.items.migrated",
		metric.WithDescription("Work items fully migrated"))
	if err != nil {
		return nil, err
	}
	failed, err := m.Int64Counter("ado2gh.items.failed",
		metric.WithDescription("Work items with at least one failed step"))
	if err != nil {
		return nil, err
	}
	steps, err := m.Int64Counter("ado2gh.steps.failed",
		metric.WithDescription("Individual side-effecting steps that failed"))
	if err != nil {
		return nil, err
	}
	sleeps, err := m.Int64Counter("ado2gh.ratelimit.sleeps",
		metric.WithDescription("Cooldown sleeps taken before retrying issue creation"))
	if err != nil {
		return nil, err
	}

	return &RunCounters{
		ItemsMigrated:   migrated,
		ItemsFailed:     failed,
		StepsFailed:     steps,
		RateLimitSleeps: sleeps,
	}, nil
}
