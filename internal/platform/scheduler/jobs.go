package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sahra-camps/api/internal/platform/idempotency"
	"github.com/sahra-camps/api/internal/platform/observability"
	"github.com/sahra-camps/api/internal/services"
)

// ReconcileRefunds retries pending and failed refunds in batches of batchSize.
func ReconcileRefunds(refunds services.RefundService, batchSize int) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		summary, err := refunds.ReconcilePendingRefunds(ctx, batchSize)
		if err != nil {
			return err
		}
		observability.FromContext(ctx).Info("refund reconciliation finished",
			zap.Int("scanned", summary.Scanned),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("failed", summary.Failed),
			zap.Int("skipped", summary.Skipped),
		)
		return nil
	}
}

// CleanupIdempotencyKeys removes expired idempotency records, at most batchSize per run.
func CleanupIdempotencyKeys(store idempotency.Store, batchSize int, clock func() time.Time) func(ctx context.Context) error {
	if clock == nil {
		clock = time.Now
	}
	return func(ctx context.Context) error {
		removed, err := store.CleanupExpired(ctx, clock().UTC(), batchSize)
		if err != nil {
			return err
		}
		if removed > 0 {
			observability.FromContext(ctx).Info("idempotency keys expired", zap.Int("removed", removed))
		}
		return nil
	}
}
