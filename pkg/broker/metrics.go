package broker

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/contextkit/contextd/pkg/broker"

// metrics holds the broker's OpenTelemetry instruments.
type metrics struct {
	subscribers    metric.Int64UpDownCounter
	subscribedKeys metric.Int64UpDownCounter
	commits        metric.Int64Counter
	notifications  metric.Int64Counter
}

var (
	acceptedAttrs = metric.WithAttributes(attribute.Bool("accepted", true))
	rejectedAttrs = metric.WithAttributes(attribute.Bool("accepted", false))
)

func newMetrics(mp metric.MeterProvider) *metrics {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	m := &metrics{}
	var err error

	if m.subscribers, err = meter.Int64UpDownCounter(
		"contextd.subscribers",
		metric.WithUnit("{subscriber}"),
		metric.WithDescription("The number of live subscribers."),
	); err != nil {
		m.subscribers = noop.Int64UpDownCounter{}
	}
	if m.subscribedKeys, err = meter.Int64UpDownCounter(
		"contextd.subscribed_keys",
		metric.WithUnit("{key}"),
		metric.WithDescription("The number of keys with at least one subscriber."),
	); err != nil {
		m.subscribedKeys = noop.Int64UpDownCounter{}
	}
	if m.commits, err = meter.Int64Counter(
		"contextd.commits",
		metric.WithUnit("{changeset}"),
		metric.WithDescription("The number of change sets applied or rejected."),
	); err != nil {
		m.commits = noop.Int64Counter{}
	}
	if m.notifications, err = meter.Int64Counter(
		"contextd.notifications",
		metric.WithUnit("{notification}"),
		metric.WithDescription("The number of change notifications delivered to subscribers."),
	); err != nil {
		m.notifications = noop.Int64Counter{}
	}

	return m
}

func (m *metrics) commit(accepted bool) {
	if accepted {
		m.commits.Add(context.Background(), 1, acceptedAttrs)
	} else {
		m.commits.Add(context.Background(), 1, rejectedAttrs)
	}
}
