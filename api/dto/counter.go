package dto

import "errors"

var ErrInvalidReset = errors.New("invalid reset request")

// IncrementRequest is the POST /api/counter body. Pointers distinguish a
// missing field from zero.
type IncrementRequest struct {
	FilesProcessed *int64 `json:"filesProcessed" validate:"required,gte=0"`
	TotalSizeBytes *int64 `json:"totalSizeBytes" validate:"required,gte=0"`
}

// ResetRequest is the PUT /api/counter body.
type ResetRequest struct {
	Reset bool `json:"reset"`
}

type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}
