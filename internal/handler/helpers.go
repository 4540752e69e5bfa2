package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/proposalgate/proposalgate/internal/model"
	"github.com/proposalgate/proposalgate/internal/service"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 64 << 10

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response using the standard error
// envelope. The optional ctx map provides additional context fields.
func writeError(w http.ResponseWriter, code int, message string, ctx ...map[string]any) {
	var ctxMap map[string]any
	if len(ctx) > 0 {
		ctxMap = ctx[0]
	}
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Message: message,
			Context: ctxMap,
		},
	})
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure.
func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// queryInt extracts an integer query parameter, returning defaultVal if the
// parameter is missing or cannot be parsed.
func queryInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// queryString extracts a string query parameter.
func queryString(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	switch service.Reason(err) {
	case "not_found", "resource_not_found":
		return http.StatusNotFound
	case "expired", "already_consumed", "revoked", "invalid_signature",
		"wrong_token_type", "recipient_not_eligible":
		return http.StatusForbidden
	case "session_ended", "invalid_credentials":
		return http.StatusUnauthorized
	case "max_extensions_reached", "duplicate_reference":
		return http.StatusConflict
	case "duration_out_of_bounds", "invalid_recipient", "invalid_scope", "unsupported":
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

// writeServiceError reports err to a staff caller with its precise reason.
func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusServiceUnavailable {
		msg = "Service temporarily unavailable"
	}
	writeError(w, status, msg, map[string]any{"reason": service.Reason(err)})
}

// clampInt constrains val to be within [min, max].
func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
