package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"sharewear/internal/httpkit"
	"sharewear/internal/job"
	"sharewear/internal/model"
	"sharewear/internal/pkg/middleware"
)

type CreateJobRequest struct {
	ProductID     string         `json:"product_id"`
	VariantID     *string        `json:"variant_id"`
	DesignFileURL *string        `json:"design_file_url"`
	Preset        string         `json:"preset"`
	TemplateID    *string        `json:"template_id"`
	Metadata      map[string]any `json:"metadata"`
}

func (h *Handler) PostJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	var req CreateJobRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "invalid json body", nil)
		return
	}

	// Preset must be valid for the chosen template before anything is
	// persisted.
	if _, _, err := h.registry.ResolvePlacement(ctx, req.TemplateID, model.Preset(req.Preset)); err != nil {
		middleware.HandleError(w, r, log, err)
		return
	}

	j, err := h.store.Create(ctx, job.CreateInput{
		ProductID:     strings.TrimSpace(req.ProductID),
		VariantID:     req.VariantID,
		DesignFileURL: req.DesignFileURL,
		Preset:        model.Preset(req.Preset),
		TemplateID:    req.TemplateID,
		Metadata:      req.Metadata,
	})
	if err != nil {
		middleware.HandleError(w, r, log, err)
		return
	}

	// Only dispatchable jobs wake the workers; a job without a design
	// waits for the attach call.
	if j.DesignFileURL != nil {
		h.nudge(r, j.ID)
	}

	httpkit.WriteJSON(w, 201, map[string]any{"job": j})
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	h.listJobs(w, r, strings.TrimSpace(r.URL.Query().Get("product_id")))
}

// ListProductJobs serves the product-scoped listing route.
func (h *Handler) ListProductJobs(w http.ResponseWriter, r *http.Request) {
	h.listJobs(w, r, chi.URLParam(r, "productId"))
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request, productID string) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)
	q := r.URL.Query()

	limit := 50
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}
	offset := 0
	if raw := strings.TrimSpace(q.Get("offset")); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}

	jobs, err := h.store.List(ctx, job.ListFilter{
		ProductID:      productID,
		VariantID:      strings.TrimSpace(q.Get("variant_id")),
		Status:         model.JobStatus(strings.TrimSpace(q.Get("status"))),
		IncludeDeleted: q.Get("include_deleted") == "true",
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		middleware.HandleError(w, r, log, err)
		return
	}
	if jobs == nil {
		jobs = []*model.RenderJob{}
	}

	httpkit.WriteJSON(w, 200, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	j, err := h.store.Get(ctx, chi.URLParam(r, "jobId"))
	if err != nil {
		middleware.HandleError(w, r, log, err)
		return
	}
	httpkit.WriteJSON(w, 200, map[string]any{"job": j})
}

type AttachDesignRequest struct {
	DesignFileURL string `json:"design_file_url"`
}

// AttachDesign sets the design asset on a pending job created without
// one, making it dispatchable.
func (h *Handler) AttachDesign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	var req AttachDesignRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "invalid json body", nil)
		return
	}
	if strings.TrimSpace(req.DesignFileURL) == "" {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "design_file_url is required",
			map[string]any{"field": "design_file_url"})
		return
	}

	j, err := h.store.AttachDesignFile(ctx, chi.URLParam(r, "jobId"), req.DesignFileURL)
	if err != nil {
		middleware.HandleError(w, r, log, err)
		return
	}
	h.nudge(r, j.ID)

	httpkit.WriteJSON(w, 200, map[string]any{"job": j})
}

// RetryJob clones a failed job into a fresh pending one. Terminal states
// never re-open.
func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	clone, err := h.store.Retry(ctx, chi.URLParam(r, "jobId"))
	if err != nil {
		middleware.HandleError(w, r, log, err)
		return
	}
	if clone.DesignFileURL != nil {
		h.nudge(r, clone.ID)
	}

	httpkit.WriteJSON(w, 201, map[string]any{"job": clone})
}

// CancelJob soft-deletes a job. A worker holding its claim loses the next
// version check and discards the stage result.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	if err := h.store.SoftDelete(ctx, chi.URLParam(r, "jobId")); err != nil {
		middleware.HandleError(w, r, log, err)
		return
	}
	httpkit.WriteJSON(w, 200, map[string]any{"cancelled": true})
}

// nudge pushes a wake signal so the dispatcher picks the job up without
// waiting out a poll interval. Best effort: the poll loop is the backstop.
func (h *Handler) nudge(r *http.Request, jobID string) {
	if h.wake == nil {
		return
	}
	if err := h.wake.Push(r.Context(), jobID); err != nil {
		h.log.FromContext(r.Context()).Warn("wake push failed",
			"job_id", jobID, "error", err.Error())
	}
}
