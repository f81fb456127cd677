package model

import "time"

// Metadata keys used by the pipeline. The metadata column is an opaque bag
// from the schema's point of view; these keys are the pipeline's own.
const (
	MetaCompositeAttempts = "composite_attempts"
	MetaRenderAttempts    = "render_attempts"
	MetaFailedStage       = "failed_stage"
	MetaLeaseUntil        = "lease_until"
	MetaRetriedFrom       = "retried_from"
	MetaCompositedKey     = "composited_object_key"
	MetaRenderSamples     = "render_samples"
	MetaRenderMode        = "render_mode"
	MetaFabricColor       = "fabric_color"
	MetaBackgroundColor   = "background_color"
)

// Render modes accepted in job metadata.
const (
	RenderModeAll           = "all"
	RenderModeImagesOnly    = "images-only"
	RenderModeAnimationOnly = "animation-only"
)

// Bounds on the render_samples metadata value passed to the engine.
const (
	MinRenderSamples = 1
	MaxRenderSamples = 4096
)

// RenderJob is one request to turn a design asset into a composited and
// rendered product image, tracked through the pipeline's state machine.
type RenderJob struct {
	ID                string         `json:"id"`
	ProductID         string         `json:"product_id"`
	VariantID         *string        `json:"variant_id,omitempty"`
	Status            JobStatus      `json:"status"`
	DesignFileURL     *string        `json:"design_file_url,omitempty"`
	CompositedFileURL *string        `json:"composited_file_url,omitempty"`
	RenderedImageURL  *string        `json:"rendered_image_url,omitempty"`
	AnimationURL      *string        `json:"animation_url,omitempty"`
	Preset            Preset         `json:"preset"`
	TemplateID        *string        `json:"template_id,omitempty"`
	ErrorMessage      *string        `json:"error_message,omitempty"`
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	Version           int64          `json:"version"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         *time.Time     `json:"deleted_at,omitempty"`
}

// Deleted reports whether the job is soft-deleted.
func (j *RenderJob) Deleted() bool {
	return j.DeletedAt != nil
}

// MetaInt reads an integer metadata value, tolerating the float64 shape
// JSON decoding produces.
func (j *RenderJob) MetaInt(key string) int {
	switch v := j.Metadata[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// MetaString reads a string metadata value.
func (j *RenderJob) MetaString(key string) string {
	if v, ok := j.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// LeaseUntil returns the claim lease expiry recorded in metadata, if any.
func (j *RenderJob) LeaseUntil() (time.Time, bool) {
	raw := j.MetaString(MetaLeaseUntil)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// LeaseActive reports whether the job holds an unexpired claim lease.
func (j *RenderJob) LeaseActive(now time.Time) bool {
	until, ok := j.LeaseUntil()
	return ok && now.Before(until)
}

// TransitionData carries the optional fields persisted alongside a status
// transition.
type TransitionData struct {
	CompositedFileURL *string
	RenderedImageURL  *string
	AnimationURL      *string
	ErrorMessage      *string
	// ClearError resets error_message, used when a retried stage succeeds.
	ClearError bool
	// Metadata entries are merged into the existing bag.
	Metadata map[string]any
	// ClearLease removes the claim lease from metadata.
	ClearLease bool
}
