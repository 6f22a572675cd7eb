package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"imgbatch/api/dto"
	"imgbatch/api/middleware"
	"imgbatch/api/repository"
	"imgbatch/internal/counter"
)

const maxBodyBytes = 1 << 10

type CounterService interface {
	Get(ctx context.Context) (counter.Counts, error)
	Increment(ctx context.Context, files, sizeBytes int64) (counter.Counts, error)
	Reset(ctx context.Context) (counter.Counts, error)
}

// Streamer serves websocket subscribers.
type Streamer interface {
	Serve(w http.ResponseWriter, r *http.Request, initial *counter.Counts)
}

type CounterHandler struct {
	service  CounterService
	streamer Streamer
	validate *validator.Validate
	logger   *zap.Logger
}

func NewCounterHandler(service CounterService, streamer Streamer, logger *zap.Logger) *CounterHandler {
	return &CounterHandler{
		service:  service,
		streamer: streamer,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

func (h *CounterHandler) Get(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.Get(r.Context())
	if err != nil {
		h.handleError(w, r, "Failed to read counter", err, http.StatusInternalServerError)
		return
	}
	h.respondJSON(w, http.StatusOK, counts)
}

func (h *CounterHandler) Increment(w http.ResponseWriter, r *http.Request) {
	var req dto.IncrementRequest
	if err := decodeJSON(r, &req); err != nil {
		h.handleError(w, r, "Invalid request body", err, http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.handleError(w, r, "filesProcessed and totalSizeBytes must be non-negative integers", err, http.StatusBadRequest)
		return
	}

	counts, err := h.service.Increment(r.Context(), *req.FilesProcessed, *req.TotalSizeBytes)
	if err != nil {
		if errors.Is(err, repository.ErrNegativeDelta) {
			h.handleError(w, r, "Increment must not be negative", err, http.StatusBadRequest)
			return
		}
		h.handleError(w, r, "Failed to update counter", err, http.StatusInternalServerError)
		return
	}

	h.logger.Info("Counter incremented",
		zap.String("trace_id", middleware.GetTraceID(r.Context())),
		zap.Int64("files", *req.FilesProcessed),
		zap.Int64("bytes", *req.TotalSizeBytes),
	)
	h.respondJSON(w, http.StatusOK, counts)
}

func (h *CounterHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req dto.ResetRequest
	if err := decodeJSON(r, &req); err != nil {
		h.handleError(w, r, "Invalid request body", err, http.StatusBadRequest)
		return
	}
	if !req.Reset {
		h.handleError(w, r, "Invalid request", dto.ErrInvalidReset, http.StatusBadRequest)
		return
	}

	counts, err := h.service.Reset(r.Context())
	if err != nil {
		h.handleError(w, r, "Failed to reset counter", err, http.StatusInternalServerError)
		return
	}
	h.respondJSON(w, http.StatusOK, counts)
}

// Stream upgrades to a websocket that receives the current totals and then
// every change.
func (h *CounterHandler) Stream(w http.ResponseWriter, r *http.Request) {
	var initial *counter.Counts
	if counts, err := h.service.Get(r.Context()); err == nil {
		initial = &counts
	} else {
		h.logger.Warn("Failed to read counter for new subscriber", zap.Error(err))
	}
	h.streamer.Serve(w, r, initial)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func (h *CounterHandler) handleError(w http.ResponseWriter, r *http.Request, message string, err error, status int) {
	traceID := middleware.GetTraceID(r.Context())
	log := h.logger.Warn
	if status >= http.StatusInternalServerError {
		log = h.logger.Error
	}
	log(message, zap.String("trace_id", traceID), zap.Error(err))

	middleware.WriteError(w, status, dto.ErrorResponse{
		Error:   message,
		Code:    codeFor(status),
		TraceID: traceID,
	})
}

func (h *CounterHandler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("Failed to write response", zap.Error(err))
	}
}

func codeFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	default:
		return "internal"
	}
}
