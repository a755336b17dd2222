// Package handlers provides HTTP handlers for the generation API endpoints
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/culinara/v2/internal/application/generation"
	"github.com/culinara/v2/internal/infrastructure/http/middleware"
	"github.com/culinara/v2/internal/streaming"
	"github.com/culinara/v2/pkg/errors"
)

// StreamAPIHandlers handles streamed generation requests
type StreamAPIHandlers struct {
	service    *generation.Service
	dispatcher *streaming.Dispatcher
	validate   *validator.Validate
	logger     *zap.Logger
}

// NewStreamAPIHandlers creates a new stream API handlers instance
func NewStreamAPIHandlers(
	service *generation.Service,
	dispatcher *streaming.Dispatcher,
	logger *zap.Logger,
) *StreamAPIHandlers {
	return &StreamAPIHandlers{
		service:    service,
		dispatcher: dispatcher,
		validate:   validator.New(),
		logger:     logger,
	}
}

// GenerateStreamRequest represents a streamed generation request
type GenerateStreamRequest struct {
	Prompt string `json:"prompt" validate:"required,min=3,max=8000"`
}

// GenerateStream handles POST /api/v1/generate/{step}/stream
func (h *StreamAPIHandlers) GenerateStream(w http.ResponseWriter, r *http.Request) {
	step := chi.URLParam(r, "step")

	var req GenerateStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.NewBadRequestError("Invalid JSON payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, r, errors.NewValidationError(err.Error()))
		return
	}

	h.logger.Info("generation stream requested",
		zap.String("step", step),
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.Int("prompt_length", len(req.Prompt)))

	src, err := h.service.OpenStream(r.Context(), step, req.Prompt)
	if err != nil {
		// The stream has not started; a plain JSON error envelope is still
		// possible here.
		h.writeError(w, r, errors.Wrap(err, "Failed to open generation stream"))
		return
	}
	defer src.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, r, errors.NewInternalError("Streaming unsupported by connection"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sink := &sseSink{w: w, flusher: flusher}
	if err := h.dispatcher.Run(r.Context(), src, sink); err != nil {
		// The terminal error event already went to the client; this is for
		// the server side only.
		h.logger.Error("generation stream failed",
			zap.String("step", step),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
	}
}

// writeError writes a structured JSON error envelope
func (h *StreamAPIHandlers) writeError(w http.ResponseWriter, r *http.Request, appErr *errors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode())

	response := errors.ToErrorResponse(appErr, middleware.GetRequestID(r.Context()))
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode error response", zap.Error(err))
	}
}

// sseSink writes pipeline events as server-sent events.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseSink) Send(event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
