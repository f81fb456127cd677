package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"sharewear/internal/httpkit"
	"sharewear/internal/model"
	"sharewear/internal/pkg/middleware"
	"sharewear/internal/template"
)

type RegisterTemplateRequest struct {
	Name              string         `json:"name"`
	TemplateImagePath string         `json:"template_image_path"`
	BlendFilePath     string         `json:"blend_file_path"`
	AvailablePresets  []string       `json:"available_presets"`
	ThumbnailURL      *string        `json:"thumbnail_url"`
	Metadata          map[string]any `json:"metadata"`
}

func (h *Handler) PostTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	var req RegisterTemplateRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "invalid json body", nil)
		return
	}

	presets := make([]model.Preset, len(req.AvailablePresets))
	for i, p := range req.AvailablePresets {
		presets[i] = model.Preset(p)
	}

	t, err := h.registry.Register(ctx, template.RegisterInput{
		Name:              req.Name,
		TemplateImagePath: req.TemplateImagePath,
		BlendFilePath:     req.BlendFilePath,
		AvailablePresets:  presets,
		ThumbnailURL:      req.ThumbnailURL,
		Metadata:          req.Metadata,
	})
	if err != nil {
		middleware.HandleError(w, r, log, err)
		return
	}

	httpkit.WriteJSON(w, 201, map[string]any{"template": t})
}

func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	templates, err := h.registry.ListActive(ctx)
	if err != nil {
		middleware.HandleError(w, r, log, err)
		return
	}
	if templates == nil {
		templates = []*model.RenderTemplate{}
	}

	httpkit.WriteJSON(w, 200, map[string]any{"templates": templates, "count": len(templates)})
}

func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	t, err := h.registry.Get(ctx, chi.URLParam(r, "templateId"))
	if err != nil {
		middleware.HandleError(w, r, log, err)
		return
	}
	httpkit.WriteJSON(w, 200, map[string]any{"template": t})
}

// DeactivateTemplate retires a template from new job creation. Jobs that
// already reference it keep working.
func (h *Handler) DeactivateTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	if err := h.registry.Deactivate(ctx, chi.URLParam(r, "templateId")); err != nil {
		middleware.HandleError(w, r, log, err)
		return
	}
	httpkit.WriteJSON(w, 200, map[string]any{"deactivated": true})
}

// ListPresets exposes the placement catalog so clients can populate
// pickers without hardcoding zone names.
func (h *Handler) ListPresets(w http.ResponseWriter, r *http.Request) {
	type presetItem struct {
		Name      string          `json:"name"`
		Placement model.Placement `json:"placement"`
	}

	names := model.Presets()
	items := make([]presetItem, 0, len(names))
	for _, name := range names {
		p, _ := model.LookupPlacement(name)
		items = append(items, presetItem{Name: string(name), Placement: p})
	}

	httpkit.WriteJSON(w, 200, map[string]any{"presets": items})
}
