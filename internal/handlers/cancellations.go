package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	domain "github.com/sahra-camps/api/internal/domain"
	"github.com/sahra-camps/api/internal/platform/auth"
	"github.com/sahra-camps/api/internal/platform/httpx"
	"github.com/sahra-camps/api/internal/refunds"
	"github.com/sahra-camps/api/internal/services"
)

const (
	maxCancelBodySize     = 4 * 1024
	maxReconcileBodySize  = 1024
	defaultReconcileLimit = 50
)

var requestValidator = validator.New(validator.WithRequiredStructEnabled())

type cancelBookingRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type reconcileRequest struct {
	Limit int `json:"limit" validate:"gte=0,lte=500"`
}

// CancellationHandlers exposes the guest, host and admin cancellation endpoints.
type CancellationHandlers struct {
	authn          *auth.Authenticator
	cancellations  services.CancellationService
	refunds        services.RefundService
	idempotency    func(http.Handler) http.Handler
	reconcileLimit int
}

// CancellationOption customises CancellationHandlers.
type CancellationOption func(*CancellationHandlers)

// WithCancellationIdempotency wraps mutating routes with the given idempotency middleware.
func WithCancellationIdempotency(mw func(http.Handler) http.Handler) CancellationOption {
	return func(h *CancellationHandlers) {
		h.idempotency = mw
	}
}

// WithReconcileLimit sets the batch size used when the reconcile request omits one.
func WithReconcileLimit(limit int) CancellationOption {
	return func(h *CancellationHandlers) {
		if limit > 0 {
			h.reconcileLimit = limit
		}
	}
}

// NewCancellationHandlers constructs the handlers. A nil authenticator skips token checks, which
// tests rely on; role checks still run against the identity in the request context.
func NewCancellationHandlers(authn *auth.Authenticator, cancellations services.CancellationService, refundSvc services.RefundService, opts ...CancellationOption) *CancellationHandlers {
	h := &CancellationHandlers{
		authn:          authn,
		cancellations:  cancellations,
		refunds:        refundSvc,
		reconcileLimit: defaultReconcileLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// GuestRoutes registers the /bookings endpoints.
func (h *CancellationHandlers) GuestRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/{bookingID}/cancellation", h.previewGuestCancellation)
	h.mutating(r).Post("/{bookingID}:cancel", h.cancelAsGuest)
}

// HostRoutes registers the /host/bookings endpoints.
func (h *CancellationHandlers) HostRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleHost, auth.RoleAdmin))
	}
	r.Get("/{bookingID}/cancellation", h.previewHostCancellation)
	h.mutating(r).Post("/{bookingID}:cancel", h.cancelAsHost)
}

// AdminRoutes registers the refund endpoints under /admin.
func (h *CancellationHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	h.mutating(r).Post("/bookings/{bookingID}:refund", h.processRefund)
	h.mutating(r).Post("/refunds:reconcile", h.reconcileRefunds)
}

func (h *CancellationHandlers) mutating(r chi.Router) chi.Router {
	if h.idempotency == nil {
		return r
	}
	return r.With(h.idempotency)
}

func (h *CancellationHandlers) previewGuestCancellation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cancellations == nil {
		writeServiceUnavailable(ctx, w, "cancellation")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	quote, err := h.cancellations.PreviewGuestCancellation(ctx, services.CancellationQuoteCommand{
		BookingID: bookingIDParam(r),
		ActorID:   identity.UID,
		Admin:     identity.IsAdmin(),
	})
	if err != nil {
		writeCancellationError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, guestQuoteResponse{
		BookingID:     quote.BookingID,
		Currency:      quote.Currency,
		Cancellable:   quote.Cancellable,
		NonRefundable: quote.NonRefundable,
		Refund:        newRefundBreakdown(quote.Refund),
		EvaluatedAt:   formatTime(quote.EvaluatedAt),
	})
}

func (h *CancellationHandlers) cancelAsGuest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cancellations == nil {
		writeServiceUnavailable(ctx, w, "cancellation")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	req, ok := decodeCancelRequest(w, r)
	if !ok {
		return
	}

	outcome, err := h.cancellations.CancelAsGuest(ctx, services.CancelBookingCommand{
		BookingID: bookingIDParam(r),
		ActorID:   identity.UID,
		Reason:    req.Reason,
		Admin:     identity.IsAdmin(),
	})
	if err != nil {
		writeCancellationError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newCancellationResponse(outcome))
}

func (h *CancellationHandlers) previewHostCancellation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cancellations == nil {
		writeServiceUnavailable(ctx, w, "cancellation")
		return
	}
	identity, ok := requireRole(ctx, w, auth.RoleHost, auth.RoleAdmin)
	if !ok {
		return
	}

	quote, err := h.cancellations.PreviewHostCancellation(ctx, services.CancellationQuoteCommand{
		BookingID: bookingIDParam(r),
		ActorID:   identity.UID,
		Admin:     identity.IsAdmin(),
	})
	if err != nil {
		writeCancellationError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, hostQuoteResponse{
		BookingID:   quote.BookingID,
		Currency:    quote.Currency,
		Cancellable: quote.Cancellable,
		GuestRefund: newRefundBreakdown(quote.GuestRefund),
		Penalty:     newPenaltyResponse(quote.Penalty),
		EvaluatedAt: formatTime(quote.EvaluatedAt),
	})
}

func (h *CancellationHandlers) cancelAsHost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cancellations == nil {
		writeServiceUnavailable(ctx, w, "cancellation")
		return
	}
	identity, ok := requireRole(ctx, w, auth.RoleHost, auth.RoleAdmin)
	if !ok {
		return
	}
	req, ok := decodeCancelRequest(w, r)
	if !ok {
		return
	}

	outcome, err := h.cancellations.CancelAsHost(ctx, services.CancelBookingCommand{
		BookingID: bookingIDParam(r),
		ActorID:   identity.UID,
		Reason:    req.Reason,
		Admin:     identity.IsAdmin(),
	})
	if err != nil {
		writeCancellationError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newCancellationResponse(outcome))
}

func (h *CancellationHandlers) processRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.refunds == nil {
		writeServiceUnavailable(ctx, w, "refund")
		return
	}
	identity, ok := requireRole(ctx, w, auth.RoleAdmin)
	if !ok {
		return
	}

	outcome, err := h.refunds.ProcessRefund(ctx, services.ProcessRefundCommand{
		BookingID: bookingIDParam(r),
		ActorID:   identity.UID,
	})
	if err != nil {
		if errors.Is(err, services.ErrRefundGateway) {
			httpx.WriteError(ctx, w, httpx.NewError("refund_gateway_error", "payment gateway rejected the refund", http.StatusBadGateway).
				WithDetails(map[string]any{
					"bookingId":    outcome.BookingID,
					"refundStatus": string(outcome.Status),
					"attempts":     outcome.Attempts,
					"lastError":    outcome.LastError,
				}))
			return
		}
		writeCancellationError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if outcome.Status == domain.RefundStatusProcessing {
		status = http.StatusAccepted
	}
	httpx.WriteJSON(w, status, newRefundOutcomeResponse(outcome))
}

func (h *CancellationHandlers) reconcileRefunds(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.refunds == nil {
		writeServiceUnavailable(ctx, w, "refund")
		return
	}
	if _, ok := requireRole(ctx, w, auth.RoleAdmin); !ok {
		return
	}

	var req reconcileRequest
	if err := httpx.DecodeJSON(r, maxReconcileBodySize, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}
	if err := requestValidator.Struct(req); err != nil {
		writeValidationError(ctx, w, err)
		return
	}
	limit := req.Limit
	if limit == 0 {
		limit = h.reconcileLimit
	}

	summary, err := h.refunds.ReconcilePendingRefunds(ctx, limit)
	if err != nil {
		writeCancellationError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, reconcileResponse{
		Scanned:   summary.Scanned,
		Succeeded: summary.Succeeded,
		Failed:    summary.Failed,
		Skipped:   summary.Skipped,
	})
}

func decodeCancelRequest(w http.ResponseWriter, r *http.Request) (cancelBookingRequest, bool) {
	var req cancelBookingRequest
	if err := httpx.DecodeJSON(r, maxCancelBodySize, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return req, false
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if err := requestValidator.Struct(req); err != nil {
		writeValidationError(r.Context(), w, err)
		return req, false
	}
	return req, true
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func requireRole(ctx context.Context, w http.ResponseWriter, roles ...string) (*auth.Identity, bool) {
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return nil, false
	}
	if !identity.HasAnyRole(roles...) {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "insufficient permissions", http.StatusForbidden))
		return nil, false
	}
	return identity, true
}

func bookingIDParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "bookingID"))
}

func writeServiceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

func writeValidationError(ctx context.Context, w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	fields := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field())] = fe.Tag()
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request validation failed", http.StatusBadRequest).
		WithDetails(map[string]any{"fields": fields}))
}

func writeCancellationError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrBookingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrBookingNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("booking_not_found", "booking not found", http.StatusNotFound))
	case errors.Is(err, services.ErrBookingForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to act on this booking", http.StatusForbidden))
	case errors.Is(err, services.ErrRefundPrecondition):
		httpx.WriteError(ctx, w, httpx.NewError("failed_precondition", err.Error(), http.StatusPreconditionFailed))
	case errors.Is(err, services.ErrBookingNotCancellable):
		httpx.WriteError(ctx, w, httpx.NewError("booking_not_cancellable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrRefundInProgress):
		httpx.WriteError(ctx, w, httpx.NewError("refund_in_progress", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrBookingConflict):
		httpx.WriteError(ctx, w, httpx.NewError("booking_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrRefundGateway):
		httpx.WriteError(ctx, w, httpx.NewError("refund_gateway_error", "payment gateway rejected the refund", http.StatusBadGateway))
	case errors.Is(err, services.ErrBookingUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("booking_unavailable", "booking storage unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("deadline_exceeded", "request timed out", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cancellation_error", "failed to process cancellation request", http.StatusInternalServerError))
	}
}

type refundBreakdownResponse struct {
	Policy            string  `json:"policy"`
	OriginalAmount    string  `json:"originalAmount"`
	ServiceFee        string  `json:"serviceFee"`
	DepositPercentage int     `json:"depositPercentage"`
	DepositAmount     string  `json:"depositAmount"`
	RefundPercentage  int     `json:"refundPercentage"`
	RefundAmount      string  `json:"refundAmount"`
	HoursUntilCheckIn float64 `json:"hoursUntilCheckIn"`
	EligibilityReason string  `json:"eligibilityReason"`
}

type penaltyResponse struct {
	Percentage        int     `json:"percentage"`
	Amount            string  `json:"amount"`
	HoursUntilCheckIn float64 `json:"hoursUntilCheckIn"`
	Message           string  `json:"message"`
}

type guestQuoteResponse struct {
	BookingID     string                  `json:"bookingId"`
	Currency      string                  `json:"currency"`
	Cancellable   bool                    `json:"cancellable"`
	NonRefundable bool                    `json:"nonRefundable"`
	Refund        refundBreakdownResponse `json:"refund"`
	EvaluatedAt   string                  `json:"evaluatedAt"`
}

type hostQuoteResponse struct {
	BookingID   string                  `json:"bookingId"`
	Currency    string                  `json:"currency"`
	Cancellable bool                    `json:"cancellable"`
	GuestRefund refundBreakdownResponse `json:"guestRefund"`
	Penalty     penaltyResponse         `json:"penalty"`
	EvaluatedAt string                  `json:"evaluatedAt"`
}

type cancelledBookingResponse struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	Currency           string `json:"currency"`
	TotalPrice         string `json:"totalPrice"`
	CancelledAt        string `json:"cancelledAt,omitempty"`
	CancelledBy        string `json:"cancelledBy,omitempty"`
	CancellationReason string `json:"cancellationReason,omitempty"`
	RefundStatus       string `json:"refundStatus,omitempty"`
}

type cancellationResponse struct {
	Booking      cancelledBookingResponse `json:"booking"`
	Refund       refundBreakdownResponse  `json:"refund"`
	Penalty      *penaltyResponse         `json:"penalty,omitempty"`
	RefundResult *refundOutcomeResponse   `json:"refundResult,omitempty"`
}

type refundOutcomeResponse struct {
	BookingID        string `json:"bookingId"`
	Status           string `json:"status"`
	Amount           string `json:"amount"`
	Percentage       int    `json:"percentage"`
	Currency         string `json:"currency"`
	Provider         string `json:"provider,omitempty"`
	GatewayRefundID  string `json:"gatewayRefundId,omitempty"`
	Reason           string `json:"reason,omitempty"`
	Attempts         int    `json:"attempts"`
	LastError        string `json:"lastError,omitempty"`
	AlreadyProcessed bool   `json:"alreadyProcessed"`
}

type reconcileResponse struct {
	Scanned   int `json:"scanned"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

func newRefundBreakdown(result refunds.Result) refundBreakdownResponse {
	return refundBreakdownResponse{
		Policy:            string(result.Policy),
		OriginalAmount:    formatAmount(result.OriginalAmount),
		ServiceFee:        formatAmount(result.ServiceFee),
		DepositPercentage: result.DepositPercentage,
		DepositAmount:     formatAmount(result.DepositAmount),
		RefundPercentage:  result.RefundPercentage,
		RefundAmount:      formatAmount(result.RefundAmount),
		HoursUntilCheckIn: result.HoursUntilCheckIn,
		EligibilityReason: result.EligibilityReason,
	}
}

func newPenaltyResponse(penalty refunds.HostPenalty) penaltyResponse {
	return penaltyResponse{
		Percentage:        penalty.PenaltyPercentage,
		Amount:            formatAmount(penalty.PenaltyAmount),
		HoursUntilCheckIn: penalty.HoursUntilCheckIn,
		Message:           penalty.Message,
	}
}

func newCancellationResponse(outcome services.CancellationOutcome) cancellationResponse {
	booking := outcome.Booking
	resp := cancellationResponse{
		Booking: cancelledBookingResponse{
			ID:                 booking.ID,
			Status:             string(booking.Status),
			Currency:           booking.Currency,
			TotalPrice:         formatAmount(booking.TotalPrice),
			CancelledBy:        string(booking.CancelledBy),
			CancellationReason: booking.CancellationReason,
			RefundStatus:       string(booking.Refund.Status),
		},
		Refund: newRefundBreakdown(outcome.Refund),
	}
	if booking.CancelledAt != nil {
		resp.Booking.CancelledAt = formatTime(*booking.CancelledAt)
	}
	if outcome.Penalty != nil {
		penalty := newPenaltyResponse(*outcome.Penalty)
		resp.Penalty = &penalty
	}
	if outcome.RefundResult != nil {
		result := newRefundOutcomeResponse(*outcome.RefundResult)
		resp.RefundResult = &result
	}
	return resp
}

func newRefundOutcomeResponse(outcome services.RefundOutcome) refundOutcomeResponse {
	return refundOutcomeResponse{
		BookingID:        outcome.BookingID,
		Status:           string(outcome.Status),
		Amount:           formatAmount(outcome.Amount),
		Percentage:       outcome.Percentage,
		Currency:         outcome.Currency,
		Provider:         outcome.Provider,
		GatewayRefundID:  outcome.GatewayRefundID,
		Reason:           outcome.Reason,
		Attempts:         outcome.Attempts,
		LastError:        outcome.LastError,
		AlreadyProcessed: outcome.AlreadyProcessed,
	}
}

func formatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(refunds.AmountScale)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
