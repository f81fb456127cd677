package scheduler

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"sharewear/internal/compositor"
	"sharewear/internal/model"
	"sharewear/internal/pkg/errors"
	"sharewear/internal/pkg/logger"
	"sharewear/internal/ports"
	"sharewear/internal/renderer"
)

// JobStore is the slice of the job store the dispatcher needs.
type JobStore interface {
	ClaimNext(ctx context.Context, stage model.Stage, leaseTTL time.Duration) (*model.RenderJob, error)
	Transition(ctx context.Context, id string, expectedVersion int64, to model.JobStatus, data model.TransitionData) (*model.RenderJob, error)
}

// TemplateResolver validates a job's preset against its template and
// yields the placement geometry.
type TemplateResolver interface {
	ResolvePlacement(ctx context.Context, templateID *string, preset model.Preset) (*model.RenderTemplate, model.Placement, error)
}

// Composer runs the compositing step for one claimed job.
type Composer interface {
	Compose(ctx context.Context, job *model.RenderJob, tpl *model.RenderTemplate, placement model.Placement) (*compositor.Result, error)
}

// stageResult is what a worker hands the coordinator after finishing a
// claimed job. Job carries the version the claim returned; the coordinator
// CASes against it, so a job cancelled or re-claimed mid-flight makes the
// transition lose and the result gets discarded.
type stageResult struct {
	job  *model.RenderJob
	to   model.JobStatus
	data model.TransitionData
}

// compositingStage turns a claimed pending job into a composited texture.
type compositingStage struct {
	registry TemplateResolver
	composer Composer
	retry    RetryPolicy
	log      *logger.Logger
}

func (s *compositingStage) run(ctx context.Context, job *model.RenderJob) stageResult {
	var res *compositor.Result
	attempts, err := s.retry.Run(ctx, func() error {
		tpl, placement, rerr := resolvePlacement(ctx, s.registry, job)
		if rerr != nil {
			return rerr
		}
		var composeErr error
		res, composeErr = s.composer.Compose(ctx, job, tpl, placement)
		return composeErr
	})
	if err != nil {
		s.log.Error("compositing failed",
			"job_id", job.ID, "attempts", attempts, "error", err.Error())
		return failResult(job, model.StageCompositing, attempts, err)
	}

	return stageResult{
		job: job,
		to:  model.StatusRendering,
		data: model.TransitionData{
			CompositedFileURL: &res.URL,
			ClearLease:        true,
			Metadata: map[string]any{
				model.MetaCompositeAttempts: attempts,
				model.MetaCompositedKey:     res.ObjectKey,
			},
		},
	}
}

// renderingStage turns a composited texture into rendered outputs.
type renderingStage struct {
	registry TemplateResolver
	engine   renderer.Client
	storage  ports.StorageProvider
	retry    RetryPolicy
	log      *logger.Logger

	// workDir holds per-job scratch space for textures and render outputs.
	workDir string
	// defaultBlendFile renders jobs that carry no template reference.
	defaultBlendFile string
	// signedURLTTL is the validity window of output URLs.
	signedURLTTL time.Duration
}

func (s *renderingStage) run(ctx context.Context, job *model.RenderJob) stageResult {
	jobDir := filepath.Join(s.workDir, job.ID)
	defer os.RemoveAll(jobDir)

	// Resolution and texture download sit inside the retry loop so a
	// database or storage blip burns an attempt instead of failing the job.
	var out *renderer.Output
	attempts, err := s.retry.Run(ctx, func() error {
		tpl, _, rerr := resolvePlacement(ctx, s.registry, job)
		if rerr != nil {
			return rerr
		}
		blendFile := s.defaultBlendFile
		if tpl != nil {
			blendFile = tpl.BlendFilePath
		}

		texturePath, terr := s.materializeTexture(ctx, job, jobDir)
		if terr != nil {
			return terr
		}

		var renderErr error
		out, renderErr = s.engine.Render(ctx, renderer.Input{
			JobID:           job.ID,
			BlendFile:       blendFile,
			TexturePath:     texturePath,
			OutputDir:       filepath.Join(jobDir, "out"),
			Samples:         job.MetaInt(model.MetaRenderSamples),
			Mode:            job.MetaString(model.MetaRenderMode),
			FabricColor:     job.MetaString(model.MetaFabricColor),
			BackgroundColor: job.MetaString(model.MetaBackgroundColor),
		})
		return renderErr
	})
	if err != nil {
		s.log.Error("rendering failed",
			"job_id", job.ID, "attempts", attempts, "error", err.Error())
		return failResult(job, model.StageRendering, attempts, err)
	}

	data := model.TransitionData{
		ClearError: true,
		ClearLease: true,
		Metadata:   map[string]any{model.MetaRenderAttempts: attempts},
	}

	if len(out.Images) > 0 {
		imageURL, err := s.publish(ctx, job.ID, out.Images[0], "image/png")
		if err != nil {
			return failResult(job, model.StageRendering, attempts, err)
		}
		data.RenderedImageURL = &imageURL
	}

	// The animation is best effort: a job whose still rendered fine
	// completes even if the turntable upload fails.
	if out.Animation != "" {
		animURL, err := s.publish(ctx, job.ID, out.Animation, "video/mp4")
		if err != nil {
			s.log.Warn("animation publish failed, completing without it",
				"job_id", job.ID, "error", err.Error())
		} else {
			data.AnimationURL = &animURL
		}
	}

	return stageResult{job: job, to: model.StatusCompleted, data: data}
}

// materializeTexture fetches the composited texture from storage into the
// job's scratch dir so the engine can read it from disk.
func (s *renderingStage) materializeTexture(ctx context.Context, job *model.RenderJob, jobDir string) (string, error) {
	key := job.MetaString(model.MetaCompositedKey)
	if key == "" {
		return "", errors.Validation("job has no composited texture").WithField("job_id", job.ID)
	}

	rc, _, _, err := s.storage.GetObject(ctx, key)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.CodeUnavailable, "scheduler.materializeTexture", "fetch composited texture").
			AsTransient()
	}
	defer rc.Close()

	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return "", errors.Wrap(err, "scheduler.materializeTexture", "create work dir")
	}
	path := filepath.Join(jobDir, "texture.png")
	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrap(err, "scheduler.materializeTexture", "create texture file")
	}
	defer f.Close()

	if _, err := io.Copy(f, rc); err != nil {
		return "", errors.WrapWithCode(err, errors.CodeUnavailable, "scheduler.materializeTexture", "download composited texture").
			AsTransient()
	}
	return path, nil
}

// publish uploads a rendered output file and returns its signed URL.
func (s *renderingStage) publish(ctx context.Context, jobID, localPath, contentType string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", errors.RenderEngine("render output missing: "+filepath.Base(localPath), err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", errors.Wrap(err, "scheduler.publish", "stat render output")
	}

	key := fmt.Sprintf("rendered/%s/%s", jobID, filepath.Base(localPath))
	put, err := s.storage.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   key,
		ContentType: contentType,
		Reader:      f,
		Size:        st.Size(),
	})
	if err != nil {
		return "", errors.WrapWithCode(err, errors.CodeUnavailable, "scheduler.publish", "persist render output").
			AsTransient()
	}

	signed, err := s.storage.GetSignedURL(ctx, put.ObjectKey, s.signedURLTTL)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.CodeUnavailable, "scheduler.publish", "sign render output URL").
			AsTransient()
	}
	return signed.URL, nil
}

// resolvePlacement classifies registry lookups for the stages: a missing,
// inactive, or mismatched template is the job's own fault and stays
// permanent, while any other failure is infrastructure and retryable.
func resolvePlacement(ctx context.Context, registry TemplateResolver, job *model.RenderJob) (*model.RenderTemplate, model.Placement, error) {
	tpl, placement, err := registry.ResolvePlacement(ctx, job.TemplateID, job.Preset)
	if err != nil && !errors.IsValidation(err) && !errors.IsNotFound(err) {
		return nil, placement, errors.WrapWithCode(err, errors.CodeUnavailable,
			"scheduler.resolvePlacement", "resolve template placement").AsTransient()
	}
	return tpl, placement, err
}

// failResult builds the failed-state transition for a stage error,
// recording which stage failed and how many attempts it burned.
func failResult(job *model.RenderJob, stage model.Stage, attempts int, err error) stageResult {
	msg := err.Error()
	meta := map[string]any{model.MetaFailedStage: string(stage)}
	switch stage {
	case model.StageCompositing:
		meta[model.MetaCompositeAttempts] = attempts
	case model.StageRendering:
		meta[model.MetaRenderAttempts] = attempts
	}
	return stageResult{
		job: job,
		to:  model.StatusFailed,
		data: model.TransitionData{
			ErrorMessage: &msg,
			ClearLease:   true,
			Metadata:     meta,
		},
	}
}
