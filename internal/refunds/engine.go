// Package refunds computes guest refunds and host penalties for booking cancellations.
//
// Every calculation is a pure function of its arguments; the evaluation time is always passed in so
// that a preview and the authoritative server-side recomputation can be reproduced exactly.
package refunds

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of decimal places kept on every amount (Bahraini dinar precision).
const AmountScale = 3

var hundred = decimal.NewFromInt(100)

// Result is the refund breakdown for one cancellation.
type Result struct {
	Policy            PolicyKind
	OriginalAmount    decimal.Decimal
	ServiceFee        decimal.Decimal
	DepositPercentage int
	DepositAmount     decimal.Decimal
	RefundPercentage  int
	RefundAmount      decimal.Decimal
	HoursUntilCheckIn float64
	EligibilityReason string
}

// HostPenalty is the deduction applied to a host payout when the host cancels.
type HostPenalty struct {
	PenaltyPercentage int
	PenaltyAmount     decimal.Decimal
	HoursUntilCheckIn float64
	Message           string
}

// Engine evaluates policies against a validated Config. It holds no mutable state.
type Engine struct {
	cfg Config
}

// NewEngine validates cfg and returns an engine bound to it.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Flexible = cfg.Flexible.Clone()
	cfg.Moderate = cfg.Moderate.Clone()
	cfg.Strict = cfg.Strict.Clone()
	cfg.FullRefundable = cfg.FullRefundable.Clone()
	cfg.PartialRules = cfg.PartialRules.Clone()
	cfg.HostPenalty = cfg.HostPenalty.Clone()
	return &Engine{cfg: cfg}, nil
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	cfg := e.cfg
	cfg.Flexible = cfg.Flexible.Clone()
	cfg.Moderate = cfg.Moderate.Clone()
	cfg.Strict = cfg.Strict.Clone()
	cfg.FullRefundable = cfg.FullRefundable.Clone()
	cfg.PartialRules = cfg.PartialRules.Clone()
	cfg.HostPenalty = cfg.HostPenalty.Clone()
	return cfg
}

// CalculateRefund computes the guest refund for cancelling at evaluatedAt. Negative amounts are
// treated as zero and check-in times in the past resolve to the table floor.
func (e *Engine) CalculateRefund(originalAmount decimal.Decimal, checkIn, evaluatedAt time.Time, policy Policy) Result {
	amount := Round(originalAmount)
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	until := checkIn.Sub(evaluatedAt)
	tier, idx := policy.Rules.match(until)

	result := Result{
		Policy:            policy.Kind,
		OriginalAmount:    amount,
		ServiceFee:        decimal.Zero,
		DepositAmount:     decimal.Zero,
		RefundPercentage:  clampPercent(tier.Percent),
		HoursUntilCheckIn: until.Hours(),
		EligibilityReason: policy.Rules.describe(idx, tier),
	}

	refundable := amount
	if policy.DepositPercent > 0 {
		result.DepositPercentage = clampPercent(policy.DepositPercent)
		result.DepositAmount = percentOf(amount, result.DepositPercentage)
		refundable = amount.Sub(result.DepositAmount)
		result.EligibilityReason = fmt.Sprintf("%s after a %d%% non-refundable deposit",
			result.EligibilityReason, result.DepositPercentage)
	} else if policy.ServiceFeePercent.IsPositive() {
		result.ServiceFee = Round(amount.Mul(policy.ServiceFeePercent).Div(hundred))
		if result.ServiceFee.GreaterThan(amount) {
			result.ServiceFee = amount
		}
		refundable = amount.Sub(result.ServiceFee)
	}
	if refundable.IsNegative() {
		refundable = decimal.Zero
	}

	refund := percentOf(refundable, result.RefundPercentage)
	if refund.GreaterThan(refundable) {
		refund = refundable
	}
	result.RefundAmount = refund
	return result
}

// CalculateHostCancellationRefund returns a full refund with no service fee. Hosts cancelling never
// cost the guest anything.
func (e *Engine) CalculateHostCancellationRefund(totalPrice decimal.Decimal) Result {
	amount := Round(totalPrice)
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return Result{
		OriginalAmount:    amount,
		ServiceFee:        decimal.Zero,
		DepositAmount:     decimal.Zero,
		RefundPercentage:  100,
		RefundAmount:      amount,
		EligibilityReason: "Full refund (cancelled by host)",
	}
}

// CalculateHostPenalty computes the host payout deduction for cancelling at evaluatedAt.
func (e *Engine) CalculateHostPenalty(totalPrice decimal.Decimal, checkIn, evaluatedAt time.Time) HostPenalty {
	amount := Round(totalPrice)
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	until := checkIn.Sub(evaluatedAt)
	// Below the lowest threshold, or after check-in, the closest tier applies.
	tier, idx := e.cfg.HostPenalty.match(until)
	if until < 0 || idx < 0 {
		tier = e.cfg.HostPenalty[len(e.cfg.HostPenalty)-1]
	}
	pct := clampPercent(tier.Percent)

	penalty := HostPenalty{
		PenaltyPercentage: pct,
		PenaltyAmount:     percentOf(amount, pct),
		HoursUntilCheckIn: until.Hours(),
	}
	switch {
	case tier.Label != "":
		penalty.Message = tier.Label
	case pct == 0:
		penalty.Message = "No penalty: cancelled well in advance"
	default:
		penalty.Message = fmt.Sprintf("Cancelling this close to check-in incurs a %d%% penalty to maintain guest trust", pct)
	}
	return penalty
}

// Round rounds half-up to AmountScale places. Amounts are never negative so half-up and half away
// from zero coincide.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(AmountScale)
}

func percentOf(amount decimal.Decimal, pct int) decimal.Decimal {
	if pct <= 0 || !amount.IsPositive() {
		return decimal.Zero
	}
	return Round(amount.Mul(decimal.NewFromInt(int64(pct))).Div(hundred))
}

func clampPercent(pct int) int {
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	default:
		return pct
	}
}

// match returns the first tier whose threshold is reached. When none is reached the floor tier
// applies if the table has one, otherwise a zero tier with index -1.
func (t TierTable) match(until time.Duration) (Tier, int) {
	for i, tier := range t {
		if until >= time.Duration(tier.MinHours)*time.Hour {
			return tier, i
		}
	}
	if n := len(t); n > 0 && t[n-1].MinHours == 0 {
		return t[n-1], n - 1
	}
	return Tier{}, -1
}

func (t TierTable) describe(idx int, tier Tier) string {
	if tier.Label != "" {
		return tier.Label
	}
	switch {
	case tier.Percent <= 0:
		return "No refund (cancellation deadline passed)"
	case tier.Percent >= 100:
		if tier.MinHours == 0 {
			return "Full refund"
		}
		return fmt.Sprintf("Full refund (%d+ hours before check-in)", tier.MinHours)
	case idx > 0 && tier.MinHours == 0:
		return fmt.Sprintf("%d%% refund (less than %d hours before check-in)", tier.Percent, t[idx-1].MinHours)
	case idx > 0:
		return fmt.Sprintf("%d%% refund (%d–%d hours before check-in)", tier.Percent, tier.MinHours, t[idx-1].MinHours)
	default:
		return fmt.Sprintf("%d%% refund (%d+ hours before check-in)", tier.Percent, tier.MinHours)
	}
}
