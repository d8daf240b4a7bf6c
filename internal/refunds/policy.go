package refunds

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownPolicy is returned when a stored descriptor names no known policy.
	ErrUnknownPolicy = errors.New("refunds: unknown cancellation policy")
	// ErrInvalidDeposit is returned for arboon percentages outside the configured range or step.
	ErrInvalidDeposit = errors.New("refunds: invalid deposit percentage")
)

// PolicyKind names the variant a Policy was built from.
type PolicyKind string

const (
	PolicyFlexible          PolicyKind = "flexible"
	PolicyModerate          PolicyKind = "moderate"
	PolicyStrict            PolicyKind = "strict"
	PolicyFullRefundable    PolicyKind = "full_refundable"
	PolicyPartialRefundable PolicyKind = "partial_refundable"
)

// Policy is the single shape every cancellation policy resolves to. The simple policies are presets
// with DepositPercent 0 and the configured service fee; partial refundable policies forfeit a deposit
// instead of a service fee.
type Policy struct {
	Kind              PolicyKind
	DepositPercent    int
	Rules             TierTable
	ServiceFeePercent decimal.Decimal
}

// Descriptor mirrors how a listing stores its policy: either a legacy string or a typed object.
type Descriptor struct {
	Type             string
	ArboonPercentage int
}

// Flexible returns the flexible preset.
func (e *Engine) Flexible() Policy { return e.preset(PolicyFlexible, e.cfg.Flexible) }

// Moderate returns the moderate preset.
func (e *Engine) Moderate() Policy { return e.preset(PolicyModerate, e.cfg.Moderate) }

// Strict returns the strict preset.
func (e *Engine) Strict() Policy { return e.preset(PolicyStrict, e.cfg.Strict) }

// FullRefundable returns the full refundable preset.
func (e *Engine) FullRefundable() Policy {
	return e.preset(PolicyFullRefundable, e.cfg.FullRefundable)
}

// PartialRefundable builds a deposit policy using the default partial rule table.
func (e *Engine) PartialRefundable(depositPercent int) (Policy, error) {
	if !e.cfg.Deposit.Allows(depositPercent) {
		return Policy{}, fmt.Errorf("%w: %d (allowed %d-%d step %d)", ErrInvalidDeposit,
			depositPercent, e.cfg.Deposit.Min, e.cfg.Deposit.Max, e.cfg.Deposit.Step)
	}
	return Policy{
		Kind:              PolicyPartialRefundable,
		DepositPercent:    depositPercent,
		Rules:             e.cfg.PartialRules.Clone(),
		ServiceFeePercent: decimal.Zero,
	}, nil
}

func (e *Engine) preset(kind PolicyKind, rules TierTable) Policy {
	return Policy{
		Kind:              kind,
		Rules:             rules.Clone(),
		ServiceFeePercent: e.cfg.ServiceFeePercent,
	}
}

// Resolve converts a stored descriptor into a Policy. An empty descriptor resolves to the flexible preset.
func (e *Engine) Resolve(desc Descriptor) (Policy, error) {
	kind := normaliseKind(desc.Type)
	switch kind {
	case "", PolicyFlexible:
		return e.Flexible(), nil
	case PolicyModerate:
		return e.Moderate(), nil
	case PolicyStrict:
		return e.Strict(), nil
	case PolicyFullRefundable:
		return e.FullRefundable(), nil
	case PolicyPartialRefundable:
		return e.PartialRefundable(desc.ArboonPercentage)
	default:
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, desc.Type)
	}
}

func normaliseKind(value string) PolicyKind {
	value = strings.ToLower(strings.TrimSpace(value))
	value = strings.ReplaceAll(value, "-", "_")
	switch value {
	case "fullrefundable", "full":
		return PolicyFullRefundable
	case "partialrefundable", "partial":
		return PolicyPartialRefundable
	}
	return PolicyKind(value)
}
