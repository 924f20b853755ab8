// Package telemetry exposes the alert manager's dispatch counters through
// OpenTelemetry metrics: alerts queued/sent/failed, per-delivery latency,
// and the main loop's idle time.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Provider holds the manager's metric instruments.
type Provider struct {
	meter metric.Meter

	alertsQueued     metric.Int64Counter
	alertsSent       metric.Int64Counter
	alertsFailed     metric.Int64Counter
	dispatchDuration metric.Float64Histogram
	idleSeconds      metric.Float64Counter
}

// New creates a provider over mp, or over the global meter provider when
// mp is nil (a no-op unless an SDK provider has been installed).
func New(mp metric.MeterProvider) (*Provider, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	p := &Provider{
		meter: mp.Meter("alertmanager"),
	}

	var err error

	p.alertsQueued, err = p.meter.Int64Counter(
		"alertmanager_alerts_queued_total",
		metric.WithDescription("Total number of alerts read from the store and queued"),
	)
	if err != nil {
		return nil, fmt.Errorf("create alerts_queued counter: %v", err)
	}

	p.alertsSent, err = p.meter.Int64Counter(
		"alertmanager_alerts_sent_total",
		metric.WithDescription("Total number of alerts delivered"),
	)
	if err != nil {
		return nil, fmt.Errorf("create alerts_sent counter: %v", err)
	}

	p.alertsFailed, err = p.meter.Int64Counter(
		"alertmanager_alerts_failed_total",
		metric.WithDescription("Total number of alerts that failed delivery"),
	)
	if err != nil {
		return nil, fmt.Errorf("create alerts_failed counter: %v", err)
	}

	p.dispatchDuration, err = p.meter.Float64Histogram(
		"alertmanager_dispatch_duration_seconds",
		metric.WithDescription("Time from dispatch to worker result"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create dispatch_duration histogram: %v", err)
	}

	p.idleSeconds, err = p.meter.Float64Counter(
		"alertmanager_idle_seconds_total",
		metric.WithDescription("Main loop time spent waiting for IPC events"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create idle_seconds counter: %v", err)
	}

	return p, nil
}

// RecordQueued counts alerts placed into the scheduler by one poll.
func (p *Provider) RecordQueued(ctx context.Context, n int) {
	p.alertsQueued.Add(ctx, int64(n))
}

// RecordResult counts one completed delivery and its latency.
func (p *Provider) RecordResult(ctx context.Context, sent bool, elapsed time.Duration) {
	if sent {
		p.alertsSent.Add(ctx, 1)
	} else {
		p.alertsFailed.Add(ctx, 1)
	}
	p.dispatchDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.Bool("sent", sent)))
}

// RecordIdle accumulates main loop idle time.
func (p *Provider) RecordIdle(ctx context.Context, d time.Duration) {
	p.idleSeconds.Add(ctx, d.Seconds())
}
