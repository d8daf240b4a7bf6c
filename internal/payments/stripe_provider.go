package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeChargeAPI interface {
	Get(id string, params *stripe.ChargeParams) (*stripe.Charge, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
	charges stripeChargeAPI
	refunds stripeRefundAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time
	Clients   *stripeClients
}

// StripeProvider refunds Stripe payment intents and charges.
type StripeProvider struct {
	api     stripeClients
	account string
	clock   func() time.Time
	logger  StripeLogger
}

var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents: sc.PaymentIntents,
			charges: sc.Charges,
			refunds: sc.Refunds,
		}
	}
	if clients.intents == nil || clients.charges == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:     clients,
		account: strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Refund creates a refund against a payment intent (pi_) or a charge (ch_/py_).
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if p == nil {
		return RefundResult{}, errors.New("stripe: provider is nil")
	}
	if err := req.validate(); err != nil {
		return RefundResult{}, err
	}

	reference := strings.TrimSpace(req.PaymentReference)
	params := &stripe.RefundParams{
		Amount: stripe.Int64(req.Amount),
	}
	if isStripeCharge(reference) {
		params.Charge = stripe.String(reference)
	} else {
		params.PaymentIntent = stripe.String(reference)
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}

	refund, err := p.api.refunds.New(params)
	if err != nil {
		return RefundResult{}, fmt.Errorf("stripe: refund %s: %w", reference, err)
	}

	result := stripeRefundResult(refund, reference, p.clock())
	p.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"paymentReference": reference,
		"refundId":         result.RefundID,
		"amount":           result.Amount,
		"status":           string(result.Status),
	})
	return result, nil
}

// LookupPayment retrieves a Stripe Payment Intent, or the charge itself for ch_/py_ references.
func (p *StripeProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	reference := strings.TrimSpace(req.PaymentReference)
	if isStripeCharge(reference) {
		params := &stripe.ChargeParams{}
		params.Context = ctx
		if p.account != "" {
			params.SetStripeAccount(p.account)
		}
		charge, err := p.api.charges.Get(reference, params)
		if err != nil {
			return PaymentDetails{}, fmt.Errorf("stripe: lookup charge: %w", err)
		}
		return stripeChargeDetails(charge), nil
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.api.intents.Get(reference, params)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}
	return stripePaymentDetails(intent), nil
}

func stripeRefundResult(refund *stripe.Refund, reference string, now time.Time) RefundResult {
	if refund == nil {
		return RefundResult{PaymentReference: reference, Status: RefundStatusPending, CreatedAt: now}
	}

	status := RefundStatusPending
	switch refund.Status {
	case stripe.RefundStatusSucceeded:
		status = RefundStatusSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		status = RefundStatusFailed
	}

	createdAt := now
	if refund.Created != 0 {
		createdAt = time.Unix(refund.Created, 0).UTC()
	}

	return RefundResult{
		Provider:         ProviderStripe,
		RefundID:         refund.ID,
		PaymentReference: reference,
		Status:           status,
		Amount:           refund.Amount,
		Currency:         strings.ToUpper(string(refund.Currency)),
		CreatedAt:        createdAt,
		FailureReason:    string(refund.FailureReason),
	}
}

func stripePaymentDetails(intent *stripe.PaymentIntent) PaymentDetails {
	if intent == nil {
		return PaymentDetails{}
	}

	status := StatusPending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		status = StatusFailed
	}

	details := PaymentDetails{
		Provider:  ProviderStripe,
		Reference: intent.ID,
		Status:    status,
		Amount:    intent.Amount,
		Currency:  strings.ToUpper(string(intent.Currency)),
	}
	applyChargeRefunds(&details, intent.LatestCharge)
	return details
}

func stripeChargeDetails(charge *stripe.Charge) PaymentDetails {
	if charge == nil {
		return PaymentDetails{}
	}

	status := StatusPending
	switch charge.Status {
	case stripe.ChargeStatusSucceeded:
		status = StatusSucceeded
	case stripe.ChargeStatusFailed:
		status = StatusFailed
	}

	details := PaymentDetails{
		Provider:  ProviderStripe,
		Reference: charge.ID,
		Status:    status,
		Amount:    charge.Amount,
		Currency:  strings.ToUpper(string(charge.Currency)),
	}
	applyChargeRefunds(&details, charge)
	return details
}

func applyChargeRefunds(details *PaymentDetails, charge *stripe.Charge) {
	if charge == nil {
		return
	}
	details.AmountRefunded = charge.AmountRefunded
	if !charge.Refunded && charge.AmountRefunded <= 0 {
		return
	}
	t := time.Unix(charge.Created, 0).UTC()
	details.RefundedAt = &t
	if charge.AmountRefunded >= charge.Amount && charge.Amount > 0 {
		details.Status = StatusRefunded
	}
}

func isStripeCharge(reference string) bool {
	return strings.HasPrefix(reference, "ch_") || strings.HasPrefix(reference, "py_")
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer), "guest_cancellation", "host_cancellation":
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}
