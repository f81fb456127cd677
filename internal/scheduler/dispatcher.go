package scheduler

import (
	"context"
	"time"

	"sharewear/internal/model"
	"sharewear/internal/pkg/errors"
	"sharewear/internal/pkg/logger"
	"sharewear/internal/ports"
	"sharewear/internal/renderer"

	"golang.org/x/sync/errgroup"
)

// Config tunes the dispatcher. Rendering runs a smaller pool than
// compositing: renders hold the engine for minutes while composites take
// milliseconds.
type Config struct {
	CompositingWorkers int
	RenderingWorkers   int
	// PollInterval is how often each worker checks for eligible jobs even
	// without a wake signal.
	PollInterval time.Duration
	// StageTimeout is the per-attempt upper bound on a stage, dominated by
	// the engine's render timeout. The default lease is derived from it.
	StageTimeout time.Duration
	// LeaseTTL is how long a claim stays exclusive. Zero derives a value
	// covering StageTimeout across every retry, so a live worker's job is
	// never re-claimed mid-attempt.
	LeaseTTL time.Duration
	Retry    RetryPolicy
	// WorkDir holds per-job scratch space for the rendering stage.
	WorkDir string
	// DefaultBlendFile renders jobs without a template reference.
	DefaultBlendFile string
	SignedURLTTL     time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.CompositingWorkers <= 0 {
		out.CompositingWorkers = 4
	}
	if out.RenderingWorkers <= 0 {
		out.RenderingWorkers = 2
	}
	if out.PollInterval <= 0 {
		out.PollInterval = 5 * time.Second
	}
	if out.StageTimeout <= 0 {
		out.StageTimeout = 5 * time.Minute
	}
	if out.LeaseTTL <= 0 {
		attempts := time.Duration(out.Retry.maxAttempts())
		out.LeaseTTL = attempts*(out.StageTimeout+out.Retry.MaxInterval) + time.Minute
	}
	if out.SignedURLTTL <= 0 {
		out.SignedURLTTL = 7 * 24 * time.Hour
	}
	if out.WorkDir == "" {
		out.WorkDir = "/tmp/sharewear-render"
	}
	return out
}

// Dispatcher drives the pipeline: two bounded worker pools claim jobs per
// stage and a single coordinator goroutine persists every transition, so
// the slow external work never sits inside a database write path.
type Dispatcher struct {
	cfg   Config
	store JobStore
	comp  *compositingStage
	rend  *renderingStage
	wake  *WakeQueue
	log   *logger.Logger
}

// New wires a dispatcher. wake may be nil; the poll loop alone then drives
// dispatch.
func New(
	cfg Config,
	store JobStore,
	registry TemplateResolver,
	composer Composer,
	engine renderer.Client,
	storage ports.StorageProvider,
	wake *WakeQueue,
	log *logger.Logger,
) *Dispatcher {
	cfg = cfg.withDefaults()
	log = log.WithComponent("dispatcher")
	return &Dispatcher{
		cfg:   cfg,
		store: store,
		comp: &compositingStage{
			registry: registry,
			composer: composer,
			retry:    cfg.Retry,
			log:      log.WithStage(string(model.StageCompositing)),
		},
		rend: &renderingStage{
			registry:         registry,
			engine:           engine,
			storage:          storage,
			retry:            cfg.Retry,
			log:              log.WithStage(string(model.StageRendering)),
			workDir:          cfg.WorkDir,
			defaultBlendFile: cfg.DefaultBlendFile,
			signedURLTTL:     cfg.SignedURLTTL,
		},
		wake: wake,
		log:  log,
	}
}

// Run blocks until ctx is cancelled, operating the pools and the
// coordinator. Jobs in flight when ctx falls finish their current stage;
// their results may be lost, in which case the lapsed lease re-dispatches
// them.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	results := make(chan stageResult)
	wakeCh := make(chan struct{}, 1)

	g.Go(func() error { return d.coordinate(ctx, results) })

	if d.wake != nil {
		g.Go(func() error { return d.listenWake(ctx, wakeCh) })
	}

	for i := 0; i < d.cfg.CompositingWorkers; i++ {
		g.Go(func() error {
			return d.workerLoop(ctx, model.StageCompositing, d.comp.run, results, wakeCh)
		})
	}
	for i := 0; i < d.cfg.RenderingWorkers; i++ {
		g.Go(func() error {
			return d.workerLoop(ctx, model.StageRendering, d.rend.run, results, wakeCh)
		})
	}

	d.log.Info("dispatcher started",
		"compositing_workers", d.cfg.CompositingWorkers,
		"rendering_workers", d.cfg.RenderingWorkers,
		"poll_interval", d.cfg.PollInterval.String(),
		"lease_ttl", d.cfg.LeaseTTL.String())

	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

// workerLoop claims and runs jobs for one stage until ctx ends. Each pass
// drains every eligible job before sleeping on the ticker or a wake.
func (d *Dispatcher) workerLoop(
	ctx context.Context,
	stage model.Stage,
	run func(context.Context, *model.RenderJob) stageResult,
	results chan<- stageResult,
	wakeCh <-chan struct{},
) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		for {
			job, err := d.store.ClaimNext(ctx, stage, d.cfg.LeaseTTL)
			if err != nil {
				if errors.IsNotFound(err) {
					break
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				d.log.Error("claim failed", "stage", string(stage), "error", err.Error())
				break
			}

			jobCtx := logger.ContextWithJobID(ctx, job.ID)
			start := time.Now()
			res := run(jobCtx, job)
			d.log.Info("stage finished",
				"job_id", job.ID, "stage", string(stage), "to", string(res.to),
				"duration_ms", time.Since(start).Milliseconds())

			select {
			case results <- res:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-wakeCh:
		}
	}
}

// coordinate is the only writer of stage outcomes. A CAS conflict here
// means the job was cancelled or re-claimed while the stage ran; the
// result is stale and gets dropped.
func (d *Dispatcher) coordinate(ctx context.Context, results <-chan stageResult) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-results:
			_, err := d.store.Transition(ctx, res.job.ID, res.job.Version, res.to, res.data)
			if err == nil {
				continue
			}
			if errors.IsConflict(err) {
				d.log.Info("stale stage result discarded",
					"job_id", res.job.ID, "to", string(res.to))
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.log.Error("transition failed",
				"job_id", res.job.ID, "to", string(res.to), "error", err.Error())
		}
	}
}

func (d *Dispatcher) listenWake(ctx context.Context, wakeCh chan<- struct{}) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		jobID, err := d.wake.Pop(ctx, 30*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.log.Warn("wake queue pop failed, retrying", "error", err.Error())
			time.Sleep(time.Second)
			continue
		}
		if jobID == "" {
			continue
		}

		select {
		case wakeCh <- struct{}{}:
		default:
			// A wake is already pending; workers will drain everything.
		}
	}
}
