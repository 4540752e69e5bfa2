package model

// ListResponse is the standard envelope for list endpoints, wrapping results
// in a "resource" array with metadata.
type ListResponse[T any] struct {
	Resource []T          `json:"resource"`
	Meta     ResponseMeta `json:"meta"`
}

// ResponseMeta describes a list response.
type ResponseMeta struct {
	Count  int     `json:"count"`
	Limit  int     `json:"limit"`
	TookMs float64 `json:"took_ms"`
}

// ErrorResponse is the standard envelope for error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
type ErrorDetail struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}
