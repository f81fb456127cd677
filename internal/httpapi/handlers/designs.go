package handlers

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"sharewear/internal/httpkit"
	"sharewear/internal/pkg/middleware"
	"sharewear/internal/ports"
)

// maxDesignUploadBytes caps multipart design uploads.
const maxDesignUploadBytes = 32 << 20

var designContentTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
}

// PostDesign uploads a design asset and returns a URL usable as a job's
// design_file_url.
func (h *Handler) PostDesign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	if err := r.ParseMultipartForm(maxDesignUploadBytes); err != nil {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "invalid multipart form", nil)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "file is required", map[string]any{"field": "file"})
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(header.Filename))
	}
	if !designContentTypes[contentType] {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "design must be PNG, JPEG, or WebP",
			map[string]any{"content_type": contentType})
		return
	}

	ext := filepath.Ext(header.Filename)
	if ext == "" {
		ext = ".png"
	}
	objectKey := fmt.Sprintf("designs/%s%s", uuid.NewString(), ext)

	out, err := h.sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   objectKey,
		ContentType: contentType,
		Reader:      file,
		Size:        header.Size,
	})
	if err != nil {
		middleware.HandleError(w, r, log, err)
		return
	}

	signed, err := h.sp.GetSignedURL(ctx, out.ObjectKey, 7*24*time.Hour)
	if err != nil {
		middleware.HandleError(w, r, log, err)
		return
	}

	log.Info("design uploaded",
		"object_key", out.ObjectKey, "size_bytes", out.Size, "content_type", contentType)
	httpkit.WriteJSON(w, 201, map[string]any{
		"design": map[string]any{
			"object_key": out.ObjectKey,
			"provider":   h.sp.Provider(),
			"url":        signed.URL,
			"expires_at": signed.ExpiresAt,
			"size_bytes": out.Size,
			"mime":       contentType,
		},
	})
}

// StreamDesign serves stored object content: uploaded designs, composited
// textures, and render outputs.
func (h *Handler) StreamDesign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	objectKey := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if objectKey == "" {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "object key is required", nil)
		return
	}

	rc, contentType, size, err := h.sp.GetObject(ctx, objectKey)
	if err != nil {
		middleware.HandleError(w, r, log, err)
		return
	}
	defer rc.Close()

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	if _, err := io.Copy(w, rc); err != nil {
		log.Warn("stream interrupted", "object_key", objectKey, "error", err.Error())
	}
}
