package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/proposalgate/proposalgate/internal/model"
	"github.com/proposalgate/proposalgate/internal/service"
)

// ---------------------------------------------------------------------------
// queryInt tests
// ---------------------------------------------------------------------------

func TestQueryInt(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		key        string
		defaultVal int
		want       int
	}{
		{"returns default for missing param", "/test", "limit", 25, 25},
		{"parses integer param", "/test?limit=100", "limit", 25, 100},
		{"returns default for non-integer", "/test?limit=abc", "limit", 25, 25},
		{"parses zero", "/test?limit=0", "limit", 10, 0},
		{"returns default for empty value", "/test?limit=", "limit", 25, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			got := queryInt(r, tt.key, tt.defaultVal)
			if got != tt.want {
				t.Errorf("queryInt(%q, %d) = %d, want %d", tt.key, tt.defaultVal, got, tt.want)
			}
		})
	}
}

func TestClampInt(t *testing.T) {
	if got := clampInt(0, 1, 1000); got != 1 {
		t.Errorf("clampInt(0) = %d", got)
	}
	if got := clampInt(5000, 1, 1000); got != 1000 {
		t.Errorf("clampInt(5000) = %d", got)
	}
	if got := clampInt(50, 1, 1000); got != 50 {
		t.Errorf("clampInt(50) = %d", got)
	}
}

// ---------------------------------------------------------------------------
// Error mapping tests
// ---------------------------------------------------------------------------

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{service.ErrNotFound, http.StatusNotFound},
		{service.ErrResourceNotFound, http.StatusNotFound},
		{service.ErrExpired, http.StatusForbidden},
		{service.ErrAlreadyConsumed, http.StatusForbidden},
		{service.ErrRevoked, http.StatusForbidden},
		{service.ErrInvalidSignature, http.StatusForbidden},
		{service.ErrRecipientNotEligible, http.StatusForbidden},
		{service.ErrSessionEnded, http.StatusUnauthorized},
		{service.ErrMaxExtensionsReached, http.StatusConflict},
		{service.ErrDurationOutOfBounds, http.StatusBadRequest},
		{service.ErrUnsupported, http.StatusBadRequest},
		{fmt.Errorf("get credential: %w", errors.New("connection reset")), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(service.Reason(tt.err), func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestWriteServiceErrorHidesInfrastructureDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	writeServiceError(rr, fmt.Errorf("get credential: %w", errors.New("dial tcp 10.0.0.5:5432: refused")))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "10.0.0.5") {
		t.Errorf("transport detail leaked: %s", rr.Body.String())
	}

	var resp model.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error.Context["reason"] != "internal" {
		t.Errorf("reason = %v", resp.Error.Context["reason"])
	}
}

func TestReadJSONRejectsUnknownFields(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"credential":"x","extra":1}`))
	var v presentRequest
	if err := readJSON(httptest.NewRecorder(), r, &v); err == nil {
		t.Error("expected error for unknown field")
	}
}
