package httpapi

import (
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"sharewear/internal/httpapi/handlers"
	"sharewear/internal/httpkit"
	"sharewear/internal/job"
	"sharewear/internal/pkg/logger"
	"sharewear/internal/pkg/middleware"
	"sharewear/internal/ports"
	"sharewear/internal/scheduler"
	"sharewear/internal/template"
)

type Deps struct {
	Pool *pgxpool.Pool
	RDB  *redis.Client
	SP   ports.StorageProvider
	Log  *logger.Logger
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))

	allowedOrigins := envCSV("CORS_ALLOWED_ORIGINS", []string{
		"http://localhost:8081",
		"http://localhost:5173",
	})
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAgeSeconds:    600,
	}))

	var wake *scheduler.WakeQueue
	if d.RDB != nil {
		wake = scheduler.NewWakeQueue(d.RDB, wakeListName())
	}

	h := handlers.New(handlers.Deps{
		Pool:     d.Pool,
		RDB:      d.RDB,
		SP:       d.SP,
		Store:    job.NewStore(d.Pool, log),
		Registry: template.NewRegistry(d.Pool, log),
		Wake:     wake,
		Log:      log,
	})

	r.Get("/health", h.Health)

	r.Post("/jobs", h.PostJob)
	r.Get("/jobs", h.ListJobs)
	r.Get("/jobs/{jobId}", h.GetJob)
	r.Post("/jobs/{jobId}/design", h.AttachDesign)
	r.Post("/jobs/{jobId}/retry", h.RetryJob)
	r.Delete("/jobs/{jobId}", h.CancelJob)

	r.Get("/products/{productId}/jobs", h.ListProductJobs)

	r.Post("/templates", h.PostTemplate)
	r.Get("/templates", h.ListTemplates)
	r.Get("/templates/{templateId}", h.GetTemplate)
	r.Delete("/templates/{templateId}", h.DeactivateTemplate)

	r.Get("/presets", h.ListPresets)

	r.Post("/designs", h.PostDesign)
	r.Get("/designs/content/*", h.StreamDesign)

	return r
}

func wakeListName() string {
	if v := strings.TrimSpace(os.Getenv("DISPATCH_WAKE_LIST")); v != "" {
		return v
	}
	return scheduler.DefaultWakeList
}

func envCSV(key string, def []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
