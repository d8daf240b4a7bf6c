package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/sahra-camps/api/internal/platform/requestctx"
)

func TestWriteErrorIncludesRequestAndTrace(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{TraceID: "abc"})
	rr := httptest.NewRecorder()

	WriteError(ctx, rr, NewError("booking_not_found", "booking\nmissing", http.StatusNotFound).
		WithDetails(map[string]any{"bookingId": "bk_1"}))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "booking_not_found" || body["message"] != "booking missing" {
		t.Fatalf("unexpected envelope %v", body)
	}
	if body["request_id"] != "req-1" || body["trace_id"] != "abc" || body["bookingId"] != "bk_1" {
		t.Fatalf("expected request, trace and details, got %v", body)
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Reason string `json:"reason"`
	}

	var dst payload
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"weather"}`))
	if err := DecodeJSON(req, 64, &dst); err != nil || dst.Reason != "weather" {
		t.Fatalf("unexpected decode result %+v %v", dst, err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"other":1}`))
	if err := DecodeJSON(req, 64, &dst); err == nil {
		t.Fatalf("expected unknown field error")
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 65)))
	if err := DecodeJSON(req, 64, &dst); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}

	empty := payload{Reason: "kept"}
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("  "))
	if err := DecodeJSON(req, 64, &empty); err != nil || empty.Reason != "kept" {
		t.Fatalf("expected empty body to be ignored, got %+v %v", empty, err)
	}
}
