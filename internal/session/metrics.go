package session

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// pipelineMetrics are the OTel instruments shared by all sessions,
// exported through the Prometheus endpoint.
type pipelineMetrics struct {
	segments    metric.Int64Counter
	routed      metric.Int64Counter
	corrections metric.Int64Counter
	liveGauge   metric.Int64ObservableGauge
}

func newPipelineMetrics(m *Manager) (*pipelineMetrics, error) {
	meter := otel.Meter("github.com/livespeak-labs/livespeak-core/session")
	p := &pipelineMetrics{}

	var err error
	if p.segments, err = meter.Int64Counter("livespeak_segments_total",
		metric.WithDescription("Audio segments processed")); err != nil {
		return nil, err
	}
	if p.routed, err = meter.Int64Counter("livespeak_routed_total",
		metric.WithDescription("Routing decisions by route")); err != nil {
		return nil, err
	}
	if p.corrections, err = meter.Int64Counter("livespeak_corrections_total",
		metric.WithDescription("Cloud corrections delivered to the merger")); err != nil {
		return nil, err
	}
	if p.liveGauge, err = meter.Int64ObservableGauge("livespeak_sessions_live",
		metric.WithDescription("Sessions currently running"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			obs.Observe(int64(m.Count()))
			return nil
		})); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *pipelineMetrics) recordSegment(ctx context.Context) {
	if p == nil {
		return
	}
	p.segments.Add(ctx, 1)
}

func (p *pipelineMetrics) recordRoute(ctx context.Context, route string) {
	if p == nil {
		return
	}
	p.routed.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
}

func (p *pipelineMetrics) recordCorrection(ctx context.Context) {
	if p == nil {
		return
	}
	p.corrections.Add(ctx, 1)
}
