package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultTapBaseURL = "https://api.tap.company/v2"
	defaultTapTimeout = 15 * time.Second
	maxTapErrorBody   = 4 << 10
)

// TapLogger mirrors StripeLogger for the Tap adapter.
type TapLogger func(ctx context.Context, event string, fields map[string]any)

// HTTPDoer is the subset of *http.Client used by the Tap adapter.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TapProviderConfig configures the TapProvider.
type TapProviderConfig struct {
	SecretKey string
	BaseURL   string
	// PostURL receives Tap's asynchronous refund status callbacks.
	PostURL    string
	HTTPClient HTTPDoer
	Logger     TapLogger
	Clock      func() time.Time
}

// TapProvider refunds Tap Payments charges through the REST API.
type TapProvider struct {
	secret  string
	baseURL string
	postURL string
	http    HTTPDoer
	logger  TapLogger
	clock   func() time.Time
}

var _ Provider = (*TapProvider)(nil)

// NewTapProvider constructs the Tap adapter.
func NewTapProvider(cfg TapProviderConfig) (*TapProvider, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, errors.New("tap: secret key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultTapBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("tap: invalid base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTapTimeout}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &TapProvider{
		secret:  secret,
		baseURL: baseURL,
		postURL: strings.TrimSpace(cfg.PostURL),
		http:    httpClient,
		logger:  logger,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

type tapReference struct {
	Merchant string `json:"merchant,omitempty"`
}

type tapPost struct {
	URL string `json:"url"`
}

type tapRefundRequest struct {
	ChargeID  string            `json:"charge_id"`
	Amount    json.Number       `json:"amount"`
	Currency  string            `json:"currency"`
	Reason    string            `json:"reason"`
	Reference tapReference      `json:"reference"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Post      *tapPost          `json:"post,omitempty"`
}

type tapRefundResponse struct {
	ID       string      `json:"id"`
	Status   string      `json:"status"`
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
	ChargeID string      `json:"charge_id"`
	Created  json.Number `json:"created"`
	Response struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"response"`
}

type tapChargeResponse struct {
	ID       string      `json:"id"`
	Status   string      `json:"status"`
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
	Refunds  []struct {
		Amount json.Number `json:"amount"`
		Status string      `json:"status"`
	} `json:"refunds"`
}

type tapErrorResponse struct {
	Errors []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"errors"`
}

// TapAPIError is returned for non-2xx responses from Tap.
type TapAPIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *TapAPIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tap: api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("tap: api error %d: %s", e.StatusCode, e.Message)
}

// Refund creates a refund for a Tap charge. Tap expects major-unit decimal amounts.
func (p *TapProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if p == nil {
		return RefundResult{}, errors.New("tap: provider is nil")
	}
	if err := req.validate(); err != nil {
		return RefundResult{}, err
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	major := FromMinorUnits(req.Amount, currency)
	payload := tapRefundRequest{
		ChargeID:  strings.TrimSpace(req.PaymentReference),
		Amount:    json.Number(major.StringFixed(CurrencyExponent(currency))),
		Currency:  currency,
		Reason:    tapRefundReason(req.Reason),
		Reference: tapReference{Merchant: strings.TrimSpace(req.IdempotencyKey)},
		Metadata:  req.Metadata,
	}
	if p.postURL != "" {
		payload.Post = &tapPost{URL: p.postURL}
	}

	var out tapRefundResponse
	if err := p.do(ctx, http.MethodPost, "/refunds", payload, &out); err != nil {
		return RefundResult{}, fmt.Errorf("tap: refund %s: %w", payload.ChargeID, err)
	}

	result := RefundResult{
		Provider:         ProviderTap,
		RefundID:         out.ID,
		PaymentReference: payload.ChargeID,
		Status:           tapRefundStatus(out.Status),
		Amount:           req.Amount,
		Currency:         currency,
		CreatedAt:        p.clock(),
	}
	if amount, err := parseTapAmount(out.Amount); err == nil && !amount.IsNegative() {
		result.Amount = MinorUnits(amount, currency)
	}
	if created, err := out.Created.Int64(); err == nil && created > 0 {
		result.CreatedAt = time.UnixMilli(created).UTC()
	}
	if result.Status == RefundStatusFailed {
		result.FailureReason = strings.TrimSpace(out.Response.Message)
	}

	p.logger(ctx, "payments.tap.refund.created", map[string]any{
		"chargeId": payload.ChargeID,
		"refundId": result.RefundID,
		"amount":   string(payload.Amount),
		"status":   string(result.Status),
	})
	return result, nil
}

// LookupPayment fetches a Tap charge.
func (p *TapProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("tap: provider is nil")
	}
	id := strings.TrimSpace(req.PaymentReference)
	if id == "" {
		return PaymentDetails{}, errors.New("tap: charge id is required")
	}

	var out tapChargeResponse
	if err := p.do(ctx, http.MethodGet, "/charges/"+url.PathEscape(id), nil, &out); err != nil {
		return PaymentDetails{}, fmt.Errorf("tap: lookup charge %s: %w", id, err)
	}

	currency := strings.ToUpper(out.Currency)
	details := PaymentDetails{
		Provider:  ProviderTap,
		Reference: out.ID,
		Currency:  currency,
		Status:    tapChargeStatus(out.Status),
	}
	if amount, err := parseTapAmount(out.Amount); err == nil {
		details.Amount = MinorUnits(amount, currency)
	}
	for _, refund := range out.Refunds {
		if tapRefundStatus(refund.Status) == RefundStatusFailed {
			continue
		}
		if amount, err := parseTapAmount(refund.Amount); err == nil {
			details.AmountRefunded += MinorUnits(amount, currency)
		}
	}
	if details.Amount > 0 && details.AmountRefunded >= details.Amount {
		details.Status = StatusRefunded
	}
	return details, nil
}

func (p *TapProvider) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxTapErrorBody))
		apiErr := &TapAPIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var parsed tapErrorResponse
		if json.Unmarshal(raw, &parsed) == nil && len(parsed.Errors) > 0 {
			apiErr.Code = parsed.Errors[0].Code
			apiErr.Message = parsed.Errors[0].Description
		}
		return apiErr
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func tapRefundStatus(status string) RefundStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "REFUNDED", "SUCCEEDED":
		return RefundStatusSucceeded
	case "FAILED", "CANCELLED", "DECLINED", "REJECTED":
		return RefundStatusFailed
	default:
		return RefundStatusPending
	}
}

func tapChargeStatus(status string) Status {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "CAPTURED", "AUTHORIZED":
		return StatusSucceeded
	case "FAILED", "DECLINED", "CANCELLED", "ABANDONED", "VOID", "TIMEDOUT":
		return StatusFailed
	case "REFUNDED":
		return StatusRefunded
	default:
		return StatusPending
	}
}

func tapRefundReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "requested_by_customer"
	}
	return reason
}

func parseTapAmount(value json.Number) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(string(value)))
}
