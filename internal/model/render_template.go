package model

import "time"

// RenderTemplate is a reusable render target: a base image for compositing
// plus a 3D scene file, supporting a set of placement zones.
type RenderTemplate struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	TemplateImagePath string         `json:"template_image_path"`
	BlendFilePath     string         `json:"blend_file_path"`
	AvailablePresets  []Preset       `json:"available_presets"`
	IsActive          bool           `json:"is_active"`
	ThumbnailURL      *string        `json:"thumbnail_url,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         *time.Time     `json:"deleted_at,omitempty"`
}

// SupportsPreset reports whether the template offers the given zone.
func (t *RenderTemplate) SupportsPreset(p Preset) bool {
	for _, ap := range t.AvailablePresets {
		if ap == p {
			return true
		}
	}
	return false
}
