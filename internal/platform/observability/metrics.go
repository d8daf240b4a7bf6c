package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const meterName = "github.com/sahra-camps/api/refunds"

// RefundMetrics records cancellation and refund outcomes. A zero value is safe to use and records nothing.
type RefundMetrics struct {
	cancellations metric.Int64Counter
	refunds       metric.Int64Counter
	refundAmount  metric.Float64Histogram
	penalties     metric.Int64Counter
}

// NewRefundMetrics registers instruments on meter, or on the global provider when meter is nil.
// Registration failures are logged and leave the affected instrument disabled.
func NewRefundMetrics(meter metric.Meter, logger *zap.Logger) *RefundMetrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &RefundMetrics{}
	var err error

	if m.cancellations, err = meter.Int64Counter("bookings.cancellations",
		metric.WithDescription("Bookings cancelled, by actor and policy")); err != nil {
		logger.Warn("metrics: unable to register cancellation counter", zap.Error(err))
		m.cancellations = nil
	}
	if m.refunds, err = meter.Int64Counter("refunds.processed",
		metric.WithDescription("Gateway refund attempts, by provider and outcome")); err != nil {
		logger.Warn("metrics: unable to register refund counter", zap.Error(err))
		m.refunds = nil
	}
	if m.refundAmount, err = meter.Float64Histogram("refunds.amount",
		metric.WithUnit("{currency}"),
		metric.WithDescription("Refund amounts issued in the booking currency")); err != nil {
		logger.Warn("metrics: unable to register refund amount histogram", zap.Error(err))
		m.refundAmount = nil
	}
	if m.penalties, err = meter.Int64Counter("hosts.cancellation_penalties",
		metric.WithDescription("Host cancellations that incurred a penalty")); err != nil {
		logger.Warn("metrics: unable to register penalty counter", zap.Error(err))
		m.penalties = nil
	}
	return m
}

// RecordCancellation counts a cancellation by actor ("guest", "host") and policy kind.
func (m *RefundMetrics) RecordCancellation(ctx context.Context, actor, policy string) {
	if m == nil || m.cancellations == nil {
		return
	}
	m.cancellations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("actor", actor),
		attribute.String("policy", policy),
	))
}

// RecordRefund counts a gateway refund attempt and, when it succeeded, its amount.
func (m *RefundMetrics) RecordRefund(ctx context.Context, provider, status string, amount float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	)
	if m.refunds != nil {
		m.refunds.Add(ctx, 1, attrs)
	}
	if m.refundAmount != nil && amount > 0 {
		m.refundAmount.Record(ctx, amount, attrs)
	}
}

// RecordHostPenalty counts a host cancellation with a non-zero penalty percentage.
func (m *RefundMetrics) RecordHostPenalty(ctx context.Context, percentage int) {
	if m == nil || m.penalties == nil || percentage <= 0 {
		return
	}
	m.penalties.Add(ctx, 1, metric.WithAttributes(attribute.Int("percentage", percentage)))
}
