// Package server provides the HTTP surface of the generation service.
// It includes handlers, middleware, routes, and DTOs separated from
// domain types.
package server

// GenerateImagesRequest is the HTTP request body for image generation.
type GenerateImagesRequest struct {
	// Prompt is the generation prompt.
	Prompt string `json:"prompt" validate:"required,min=1,max=4096"`
	// AspectRatio is the requested aspect ratio, e.g. "2:3".
	AspectRatio string `json:"aspect_ratio" validate:"omitempty,oneof=1:1 2:3 3:2 16:9 9:16"`
	// N is the number of images wanted; the server default applies when 0.
	N int `json:"n" validate:"min=0,max=10"`
	// Stream switches the response to a server-sent event stream with
	// per-unit progress records.
	Stream bool `json:"stream"`
	// EnableNSFW toggles the upstream content-policy flag.
	EnableNSFW bool `json:"enable_nsfw"`
	// Credential pins a specific SSO token, disabling pool rotation.
	Credential string `json:"credential"`
}

// GenerateVideoRequest is the HTTP request body for video generation.
type GenerateVideoRequest struct {
	// Prompt is the generation prompt.
	Prompt string `json:"prompt" validate:"required,min=1,max=4096"`
	// AspectRatio is the requested aspect ratio, e.g. "16:9".
	AspectRatio string `json:"aspect_ratio" validate:"omitempty,oneof=1:1 2:3 3:2 16:9 9:16"`
	// DurationSeconds is the requested clip length.
	DurationSeconds int `json:"duration_seconds" validate:"min=0,max=30"`
	// Resolution is the requested tier; "720p" triggers an upscale pass.
	Resolution string `json:"resolution" validate:"omitempty,oneof=480p 720p"`
	// Preset names the creative preset.
	Preset string `json:"preset" validate:"omitempty,oneof=fun normal spicy custom"`
	// Credential pins a specific SSO token, disabling pool rotation.
	Credential string `json:"credential"`
}

// GenerationResponse is the terminal response of both generation flows.
type GenerationResponse struct {
	// Success reports whether any media was produced.
	Success bool `json:"success"`
	// URLs are the servable media URLs on success.
	URLs []string `json:"urls,omitempty"`
	// Count is len(URLs).
	Count int `json:"count,omitempty"`
	// ThumbnailURL is the fallback preview for video results.
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	// ErrorCode classifies the failure for programmatic handling.
	ErrorCode string `json:"error_code,omitempty"`
	// Error is the human-readable failure message.
	Error string `json:"error,omitempty"`
	// ImagePreviewURLs are diagnostic thumbnails collected before a video
	// failure.
	ImagePreviewURLs []string `json:"image_preview_urls,omitempty"`
}

// StreamEvent is one server-sent record of a streaming image response.
type StreamEvent struct {
	// Type is "progress" or "result".
	Type string `json:"type"`
	// UnitID identifies the unit a progress record belongs to.
	UnitID string `json:"unit_id,omitempty"`
	// Stage is the unit's quality tier: "preview", "medium" or "final".
	Stage string `json:"stage,omitempty"`
	// Completed is the number of final units so far.
	Completed int `json:"completed,omitempty"`
	// Target is the requested image count.
	Target int `json:"target,omitempty"`
	// Result carries the terminal outcome on a "result" record.
	Result *GenerationResponse `json:"result,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
