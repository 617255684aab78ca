package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/imnoob59/grokpi/internal/generation"
)

// Generator is the orchestration surface the handlers depend on.
type Generator interface {
	GenerateImages(ctx context.Context, req generation.ImageRequest, onProgress generation.ProgressFunc) (*generation.Result, error)
	GenerateImagesStream(ctx context.Context, req generation.ImageRequest) <-chan generation.Event
	GenerateVideo(ctx context.Context, req generation.VideoRequest) (*generation.Result, error)
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	generator         Generator
	validator         *validator.Validate
	logger            *slog.Logger
	defaultImageCount int
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithDefaultImageCount sets the image count applied when a request omits n.
func WithDefaultImageCount(n int) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.defaultImageCount = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(generator Generator, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		generator:         generator,
		validator:         validator.New(),
		logger:            logger,
		defaultImageCount: 4,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// GenerateImages handles POST /v1/images/generations requests.
func (h *Handlers) GenerateImages(w http.ResponseWriter, r *http.Request) {
	var req GenerateImagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	count := req.N
	if count == 0 {
		count = h.defaultImageCount
	}
	input := generation.ImageRequest{
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio,
		Count:       count,
		EnableNSFW:  req.EnableNSFW,
		Credential:  req.Credential,
	}

	if req.Stream {
		h.streamImages(w, r, input)
		return
	}

	res, err := h.generator.GenerateImages(r.Context(), input, nil)
	if err != nil {
		status, resp := failureResponse(err)
		writeJSON(w, status, resp)
		return
	}

	writeJSON(w, http.StatusOK, GenerationResponse{
		Success: true,
		URLs:    res.URLs,
		Count:   res.Count,
	})
}

// streamImages writes the image flow as a server-sent event stream: one
// progress record per stage-advancing unit update, then a single result
// record.
func (h *Handlers) streamImages(w http.ResponseWriter, r *http.Request, input generation.ImageRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", "STREAMING_UNSUPPORTED")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range h.generator.GenerateImagesStream(r.Context(), input) {
		var record StreamEvent
		switch ev.Type {
		case generation.EventProgress:
			record = StreamEvent{
				Type:      "progress",
				UnitID:    ev.Progress.UnitID,
				Stage:     ev.Progress.Stage.String(),
				Completed: ev.Progress.Completed,
				Target:    ev.Progress.Target,
			}
		case generation.EventResult:
			var resp GenerationResponse
			if ev.Err != nil {
				_, resp = failureResponse(ev.Err)
			} else {
				resp = GenerationResponse{
					Success: true,
					URLs:    ev.Result.URLs,
					Count:   ev.Result.Count,
				}
			}
			record = StreamEvent{Type: "result", Result: &resp}
		}

		data, err := json.Marshal(record)
		if err != nil {
			h.logger.Error("failed to encode stream event",
				slog.String("error", err.Error()),
			)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}

// GenerateVideo handles POST /v1/videos/generations requests.
func (h *Handlers) GenerateVideo(w http.ResponseWriter, r *http.Request) {
	var req GenerateVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	input := generation.VideoRequest{
		Prompt:          req.Prompt,
		AspectRatio:     req.AspectRatio,
		DurationSeconds: req.DurationSeconds,
		Resolution:      req.Resolution,
		Preset:          req.Preset,
		Credential:      req.Credential,
	}

	res, err := h.generator.GenerateVideo(r.Context(), input)
	if err != nil {
		status, resp := failureResponse(err)
		writeJSON(w, status, resp)
		return
	}

	writeJSON(w, http.StatusOK, GenerationResponse{
		Success:      true,
		URLs:         res.URLs,
		Count:        res.Count,
		ThumbnailURL: res.ThumbnailURL,
	})
}

// failureResponse maps a generation failure to an HTTP status and the
// standard failure body. Rate limits surface as 429; everything else is an
// upstream failure.
func failureResponse(err error) (int, GenerationResponse) {
	resp := GenerationResponse{
		Success: false,
		Error:   err.Error(),
	}

	gerr := generation.AsError(err)
	if gerr == nil {
		return http.StatusBadGateway, resp
	}

	resp.ErrorCode = string(gerr.Code)
	resp.Error = gerr.Message
	resp.ImagePreviewURLs = gerr.Previews

	if gerr.Code == generation.CodeRateLimited {
		return http.StatusTooManyRequests, resp
	}
	return http.StatusBadGateway, resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
