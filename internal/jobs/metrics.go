package jobs

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/CZERTAINLY/genojob/internal/jobs"

type metrics struct {
	submitted metric.Int64Counter
	finished  metric.Int64Counter
	running   metric.Int64UpDownCounter
	duration  metric.Float64Histogram
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	meter := mp.Meter(meterName)
	submitted, err := meter.Int64Counter("genojob.jobs.submitted",
		metric.WithDescription("Number of accepted job submissions"))
	if err != nil {
		return nil, fmt.Errorf("creating submitted counter: %w", err)
	}
	finished, err := meter.Int64Counter("genojob.jobs.finished",
		metric.WithDescription("Number of jobs reaching a terminal status"))
	if err != nil {
		return nil, fmt.Errorf("creating finished counter: %w", err)
	}
	running, err := meter.Int64UpDownCounter("genojob.jobs.running",
		metric.WithDescription("Number of running child processes"))
	if err != nil {
		return nil, fmt.Errorf("creating running counter: %w", err)
	}
	duration, err := meter.Float64Histogram("genojob.jobs.duration",
		metric.WithDescription("Run time of finished child processes"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}
	return &metrics{
		submitted: submitted,
		finished:  finished,
		running:   running,
		duration:  duration,
	}, nil
}

func (m *metrics) jobSubmitted(ctx context.Context, kind string) {
	m.submitted.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *metrics) jobStarted(ctx context.Context, kind string) {
	m.running.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// jobFinished records a terminal transition; ran is false for jobs which
// never started a process.
func (m *metrics) jobFinished(ctx context.Context, kind string, status Status, ran bool, took time.Duration) {
	attrs := metric.WithAttributes(attribute.String("kind", kind), attribute.String("status", string(status)))
	m.finished.Add(ctx, 1, attrs)
	if ran {
		m.running.Add(ctx, -1, metric.WithAttributes(attribute.String("kind", kind)))
		m.duration.Record(ctx, took.Seconds(), attrs)
	}
}
