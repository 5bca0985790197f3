package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all geomcp metrics instruments.
type Metrics struct {
	RequestDuration   metric.Float64Histogram
	DispatchDuration  metric.Float64Histogram
	HandlerErrors     metric.Int64Counter
	OpenChannels      metric.Int64UpDownCounter
	MessagesDelivered metric.Int64Counter
	HeartbeatsSent    metric.Int64Counter
	DroppedDeliveries metric.Int64Counter
	RateLimitRejects  metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("geomcp.request.duration",
		metric.WithDescription("Gateway request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.DispatchDuration, err = meter.Float64Histogram("geomcp.dispatch.duration",
		metric.WithDescription("Dispatched call execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.HandlerErrors, err = meter.Int64Counter("geomcp.handler.errors",
		metric.WithDescription("Handler execution error count"),
	)
	if err != nil {
		return nil, err
	}

	m.OpenChannels, err = meter.Int64UpDownCounter("geomcp.channels.open",
		metric.WithDescription("Number of currently open push channels"),
	)
	if err != nil {
		return nil, err
	}

	m.MessagesDelivered, err = meter.Int64Counter("geomcp.messages.delivered",
		metric.WithDescription("Total frames delivered to clients"),
	)
	if err != nil {
		return nil, err
	}

	m.HeartbeatsSent, err = meter.Int64Counter("geomcp.heartbeats.sent",
		metric.WithDescription("Total heartbeat frames enqueued"),
	)
	if err != nil {
		return nil, err
	}

	m.DroppedDeliveries, err = meter.Int64Counter("geomcp.deliveries.dropped",
		metric.WithDescription("Frames dropped because the target channel was gone or saturated"),
	)
	if err != nil {
		return nil, err
	}

	m.RateLimitRejects, err = meter.Int64Counter("geomcp.ratelimit.rejects",
		metric.WithDescription("Requests rejected by rate limiter"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
