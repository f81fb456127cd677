package handlers

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"sharewear/internal/job"
	"sharewear/internal/model"
	"sharewear/internal/pkg/logger"
	"sharewear/internal/ports"
	"sharewear/internal/scheduler"
	"sharewear/internal/template"
)

// JobStore is the slice of the job store the handlers call.
type JobStore interface {
	Create(ctx context.Context, in job.CreateInput) (*model.RenderJob, error)
	Get(ctx context.Context, id string) (*model.RenderJob, error)
	List(ctx context.Context, f job.ListFilter) ([]*model.RenderJob, error)
	AttachDesignFile(ctx context.Context, id, designURL string) (*model.RenderJob, error)
	Retry(ctx context.Context, id string) (*model.RenderJob, error)
	SoftDelete(ctx context.Context, id string) error
	CountByStatus(ctx context.Context) (map[model.JobStatus]int64, error)
}

// TemplateRegistry is the slice of the template registry the handlers call.
type TemplateRegistry interface {
	Register(ctx context.Context, in template.RegisterInput) (*model.RenderTemplate, error)
	Get(ctx context.Context, id string) (*model.RenderTemplate, error)
	ListActive(ctx context.Context) ([]*model.RenderTemplate, error)
	Deactivate(ctx context.Context, id string) error
	ResolvePlacement(ctx context.Context, templateID *string, preset model.Preset) (*model.RenderTemplate, model.Placement, error)
}

type Deps struct {
	Pool     *pgxpool.Pool
	RDB      *redis.Client
	SP       ports.StorageProvider
	Store    JobStore
	Registry TemplateRegistry
	Wake     *scheduler.WakeQueue
	Log      *logger.Logger
}

type Handler struct {
	pool     *pgxpool.Pool
	rdb      *redis.Client
	sp       ports.StorageProvider
	store    JobStore
	registry TemplateRegistry
	wake     *scheduler.WakeQueue
	log      *logger.Logger
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Handler{
		pool:     d.Pool,
		rdb:      d.RDB,
		sp:       d.SP,
		store:    d.Store,
		registry: d.Registry,
		wake:     d.Wake,
		log:      log.WithComponent("httpapi"),
	}
}
