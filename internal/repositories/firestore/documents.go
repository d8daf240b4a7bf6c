package firestore

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/sahra-camps/api/internal/domain"
)

// Amounts are stored as Firestore doubles, which is what the booking flow writes. They are
// rounded back to three decimal places on read.
const amountPlaces = 3

func amountToDoc(amount decimal.Decimal) float64 {
	f, _ := amount.Round(amountPlaces).Float64()
	return f
}

func amountFromDoc(value float64) decimal.Decimal {
	return decimal.NewFromFloat(value).Round(amountPlaces)
}

func timePtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}

type refundFields struct {
	Status          string     `firestore:"refundStatus,omitempty"`
	Amount          float64    `firestore:"refundAmount"`
	Percentage      int        `firestore:"refundPercentage"`
	Reason          string     `firestore:"refundReason,omitempty"`
	GatewayRefundID string     `firestore:"gatewayRefundId,omitempty"`
	Attempts        int        `firestore:"refundAttempts"`
	LastError       string     `firestore:"refundLastError,omitempty"`
	ProcessedAt     *time.Time `firestore:"refundedAt,omitempty"`
}

func (f refundFields) toDomain() domain.RefundRecord {
	return domain.RefundRecord{
		Status:          domain.RefundStatus(strings.TrimSpace(f.Status)),
		Amount:          amountFromDoc(f.Amount),
		Percentage:      f.Percentage,
		Reason:          f.Reason,
		GatewayRefundID: f.GatewayRefundID,
		Attempts:        f.Attempts,
		LastError:       f.LastError,
		ProcessedAt:     timePtr(f.ProcessedAt),
	}
}

// refundUpdates lists the field paths written whenever a refund trace changes. Field names match
// refundFields so documents read back identically.
func refundUpdates(record domain.RefundRecord) map[string]any {
	var processed any
	if ts := timePtr(record.ProcessedAt); ts != nil {
		processed = *ts
	}
	return map[string]any{
		"refundStatus":     string(record.Status),
		"refundAmount":     amountToDoc(record.Amount),
		"refundPercentage": record.Percentage,
		"refundReason":     record.Reason,
		"gatewayRefundId":  record.GatewayRefundID,
		"refundAttempts":   record.Attempts,
		"refundLastError":  record.LastError,
		"refundedAt":       processed,
	}
}
