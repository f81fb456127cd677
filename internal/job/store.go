package job

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sharewear/internal/model"
	"sharewear/internal/pkg/errors"
	"sharewear/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `id, product_id, variant_id, status, design_file_url,
	composited_file_url, rendered_image_url, animation_url, preset, template_id,
	error_message, started_at, completed_at, metadata, version,
	created_at, updated_at, deleted_at`

// claimBatchSize bounds how many eligible jobs a single claim attempt
// inspects before giving up. Keeps contention between workers cheap.
const claimBatchSize = 8

// Store persists render jobs in Postgres. All state changes go through
// version-checked updates so concurrent workers can never both win the
// same claim.
type Store struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

func NewStore(db *pgxpool.Pool, log *logger.Logger) *Store {
	return &Store{db: db, log: log.WithComponent("job-store")}
}

// CreateInput is the caller-supplied portion of a new job. The preset must
// already be validated against the resolved template.
type CreateInput struct {
	ProductID     string
	VariantID     *string
	DesignFileURL *string
	Preset        model.Preset
	TemplateID    *string
	Metadata      map[string]any
}

func (in *CreateInput) validate() error {
	if strings.TrimSpace(in.ProductID) == "" {
		return errors.ValidationField("product_id", "is required")
	}
	if !model.KnownPreset(in.Preset) {
		return errors.ValidationField("preset", "unknown placement preset: "+string(in.Preset))
	}
	if in.DesignFileURL != nil {
		if _, err := url.ParseRequestURI(*in.DesignFileURL); err != nil {
			return errors.ValidationField("design_file_url", "must be a valid URL")
		}
	}
	if mode, ok := in.Metadata[model.MetaRenderMode].(string); ok {
		switch mode {
		case model.RenderModeAll, model.RenderModeImagesOnly, model.RenderModeAnimationOnly:
		default:
			return errors.ValidationField("metadata.render_mode", "unknown render mode: "+mode)
		}
	}
	if raw, ok := in.Metadata[model.MetaRenderSamples]; ok {
		samples, isInt := asInt(raw)
		if !isInt || samples < model.MinRenderSamples || samples > model.MaxRenderSamples {
			return errors.ValidationField("metadata.render_samples",
				"must be an integer between 1 and 4096")
		}
	}
	return nil
}

// asInt accepts the integer shapes metadata values arrive in: native ints
// from Go callers and float64 from decoded JSON.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// Create inserts a new job in pending status. Jobs created without a
// design file stay pending and invisible to the dispatcher until one is
// attached.
func (s *Store) Create(ctx context.Context, in CreateInput) (*model.RenderJob, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	meta, err := marshalMetadata(in.Metadata)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO render_job (id, product_id, variant_id, status, design_file_url, preset, template_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+jobColumns,
		uuid.NewString(), in.ProductID, in.VariantID, model.StatusPending,
		in.DesignFileURL, in.Preset, in.TemplateID, meta,
	)

	j, err := scanJob(row)
	if err != nil {
		return nil, errors.Wrap(err, "job.Store.Create", "insert render job")
	}
	s.log.Info("render job created",
		"job_id", j.ID, "product_id", j.ProductID, "preset", j.Preset)
	return j, nil
}

// Get returns a job by id, excluding soft-deleted rows.
func (s *Store) Get(ctx context.Context, id string) (*model.RenderJob, error) {
	return s.get(ctx, id, false)
}

// GetAny returns a job by id including soft-deleted rows. Used by admin
// reads that inspect cancelled jobs.
func (s *Store) GetAny(ctx context.Context, id string) (*model.RenderJob, error) {
	return s.get(ctx, id, true)
}

func (s *Store) get(ctx context.Context, id string, includeDeleted bool) (*model.RenderJob, error) {
	q := `SELECT ` + jobColumns + ` FROM render_job WHERE id = $1`
	if !includeDeleted {
		q += ` AND deleted_at IS NULL`
	}

	j, err := scanJob(s.db.QueryRow(ctx, q, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NotFound("render job", id)
		}
		return nil, errors.Wrap(err, "job.Store.Get", "query render job")
	}
	return j, nil
}

// ListFilter narrows List results. Zero values mean no constraint.
type ListFilter struct {
	ProductID      string
	VariantID      string
	Status         model.JobStatus
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// List returns jobs newest-first, soft-deleted rows excluded unless
// requested.
func (s *Store) List(ctx context.Context, f ListFilter) ([]*model.RenderJob, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, errors.ValidationField("status", "unknown status: "+string(f.Status))
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}

	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, cond+argn(len(args)))
	}
	if !f.IncludeDeleted {
		conds = append(conds, "deleted_at IS NULL")
	}
	if f.ProductID != "" {
		add("product_id = ", f.ProductID)
	}
	if f.VariantID != "" {
		add("variant_id = ", f.VariantID)
	}
	if f.Status != "" {
		add("status = ", string(f.Status))
	}

	q := `SELECT ` + jobColumns + ` FROM render_job`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	q += ` ORDER BY created_at DESC LIMIT ` + argn(len(args)-1) + ` OFFSET ` + argn(len(args))

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "job.Store.List", "query render jobs")
	}
	defer rows.Close()

	var out []*model.RenderJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "job.Store.List", "scan render job")
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// AttachDesignFile sets the design asset on a pending job that does not
// have one yet, making it eligible for dispatch.
func (s *Store) AttachDesignFile(ctx context.Context, id, designURL string) (*model.RenderJob, error) {
	if _, err := url.ParseRequestURI(designURL); err != nil {
		return nil, errors.ValidationField("design_file_url", "must be a valid URL")
	}

	row := s.db.QueryRow(ctx, `
		UPDATE render_job
		SET design_file_url = $2, version = version + 1, updated_at = now()
		WHERE id = $1 AND status = 'pending' AND design_file_url IS NULL AND deleted_at IS NULL
		RETURNING `+jobColumns, id, designURL)

	j, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, s.attachConflict(ctx, id)
		}
		return nil, errors.Wrap(err, "job.Store.AttachDesignFile", "update render job")
	}
	return j, nil
}

// attachConflict distinguishes a missing job from one that already
// started or already has a design.
func (s *Store) attachConflict(ctx context.Context, id string) error {
	cur, err := s.get(ctx, id, false)
	if err != nil {
		return err
	}
	if cur.Status != model.StatusPending {
		return errors.Conflict("job already started processing").WithField("status", string(cur.Status))
	}
	return errors.Conflict("job already has a design file")
}

// Transition applies a status change as a single compare-and-set against
// the expected version. A version mismatch, a soft delete, or a transition
// the state machine forbids all leave the row untouched.
func (s *Store) Transition(ctx context.Context, id string, expectedVersion int64, to model.JobStatus, data model.TransitionData) (*model.RenderJob, error) {
	if !to.Valid() {
		return nil, errors.ValidationField("status", "unknown status: "+string(to))
	}

	cur, err := s.get(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if cur.Deleted() {
		return nil, errors.Conflict("job was cancelled").WithField("job_id", id)
	}
	if !cur.Status.CanTransitionTo(to) {
		return nil, errors.Validationf("cannot transition job from %s to %s", cur.Status, to).
			WithField("job_id", id)
	}

	meta, err := marshalMetadata(data.Metadata)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRow(ctx, `
		UPDATE render_job
		SET status = $3,
		    composited_file_url = COALESCE($4, composited_file_url),
		    rendered_image_url  = COALESCE($5, rendered_image_url),
		    animation_url       = COALESCE($6, animation_url),
		    error_message = CASE WHEN $7::bool THEN NULL ELSE COALESCE($8, error_message) END,
		    started_at    = CASE WHEN status = 'pending' AND $3 <> 'pending'
		                         THEN COALESCE(started_at, now()) ELSE started_at END,
		    completed_at  = CASE WHEN $3 IN ('completed', 'failed')
		                         THEN COALESCE(completed_at, now()) ELSE completed_at END,
		    metadata = (COALESCE(metadata, '{}'::jsonb) || $9::jsonb)
		               - CASE WHEN $10::bool THEN 'lease_until' ELSE '' END,
		    version    = version + 1,
		    updated_at = now()
		WHERE id = $1 AND version = $2 AND deleted_at IS NULL
		RETURNING `+jobColumns,
		id, expectedVersion, to,
		data.CompositedFileURL, data.RenderedImageURL, data.AnimationURL,
		data.ClearError, data.ErrorMessage, meta, data.ClearLease,
	)

	j, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.Conflict("job changed concurrently").
				WithField("job_id", id).
				WithField("expected_version", expectedVersion)
		}
		return nil, errors.Wrap(err, "job.Store.Transition", "update render job")
	}
	s.log.Info("job transitioned",
		"job_id", j.ID, "from", string(cur.Status), "to", string(to), "version", j.Version)
	return j, nil
}

// ClaimNext atomically claims the oldest job eligible for the given stage
// and stamps a lease so a crashed worker's claim expires instead of
// wedging the job. Returns NotFound when nothing is eligible.
func (s *Store) ClaimNext(ctx context.Context, stage model.Stage, leaseTTL time.Duration) (*model.RenderJob, error) {
	candidates, err := s.eligible(ctx, stage)
	if err != nil {
		return nil, err
	}

	for _, c := range candidates {
		j, err := s.claim(ctx, c, stage, leaseTTL)
		if err != nil {
			if errors.IsConflict(err) {
				// Another worker won this row; try the next candidate.
				continue
			}
			return nil, err
		}
		return j, nil
	}
	return nil, errors.NotFound("eligible render job", string(stage))
}

func (s *Store) eligible(ctx context.Context, stage model.Stage) ([]*model.RenderJob, error) {
	var cond string
	switch stage {
	case model.StageCompositing:
		// Fresh pending jobs with a design attached, plus compositing jobs
		// whose claim lease lapsed (worker crash recovery).
		cond = `(status = 'pending' AND design_file_url IS NOT NULL)
		        OR (status = 'compositing'
		            AND (metadata->>'lease_until' IS NULL
		                 OR (metadata->>'lease_until')::timestamptz < now()))`
	case model.StageRendering:
		cond = `status = 'rendering'
		        AND (metadata->>'lease_until' IS NULL
		             OR (metadata->>'lease_until')::timestamptz < now())`
	default:
		return nil, errors.ValidationField("stage", "unknown stage: "+string(stage))
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+jobColumns+` FROM render_job
		WHERE deleted_at IS NULL AND (`+cond+`)
		ORDER BY created_at ASC
		LIMIT `+argn(1), claimBatchSize)
	if err != nil {
		return nil, errors.Wrap(err, "job.Store.ClaimNext", "query eligible jobs")
	}
	defer rows.Close()

	var out []*model.RenderJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "job.Store.ClaimNext", "scan eligible job")
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) claim(ctx context.Context, c *model.RenderJob, stage model.Stage, leaseTTL time.Duration) (*model.RenderJob, error) {
	lease := time.Now().UTC().Add(leaseTTL).Format(time.RFC3339Nano)

	row := s.db.QueryRow(ctx, `
		UPDATE render_job
		SET status = $3,
		    started_at = COALESCE(started_at, now()),
		    metadata = COALESCE(metadata, '{}'::jsonb) || jsonb_build_object('lease_until', $4::text),
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1 AND version = $2 AND deleted_at IS NULL
		RETURNING `+jobColumns,
		c.ID, c.Version, stage.InProgressStatus(), lease)

	j, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.Conflict("claim lost").WithField("job_id", c.ID)
		}
		return nil, errors.Wrap(err, "job.Store.ClaimNext", "claim render job")
	}
	s.log.Info("job claimed",
		"job_id", j.ID, "stage", string(stage), "version", j.Version, "lease_until", lease)
	return j, nil
}

// SoftDelete cancels a job. In-flight workers lose their next version
// check and discard the result.
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	cmd, err := s.db.Exec(ctx, `
		UPDATE render_job
		SET deleted_at = now(), version = version + 1, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return errors.Wrap(err, "job.Store.SoftDelete", "delete render job")
	}
	if cmd.RowsAffected() == 0 {
		return errors.NotFound("render job", id)
	}
	s.log.Info("job cancelled", "job_id", id)
	return nil
}

// Retry clones a failed job into a fresh pending one. Terminal states are
// final, so a retry is a new job that inherits the inputs and records its
// lineage in metadata.
func (s *Store) Retry(ctx context.Context, id string) (*model.RenderJob, error) {
	src, err := s.get(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if src.Status != model.StatusFailed {
		return nil, errors.Conflict("only failed jobs can be retried").
			WithField("status", string(src.Status))
	}

	meta := map[string]any{model.MetaRetriedFrom: src.ID}
	for _, k := range []string{
		model.MetaRenderSamples, model.MetaRenderMode,
		model.MetaFabricColor, model.MetaBackgroundColor,
	} {
		if v, ok := src.Metadata[k]; ok {
			meta[k] = v
		}
	}

	clone, err := s.Create(ctx, CreateInput{
		ProductID:     src.ProductID,
		VariantID:     src.VariantID,
		DesignFileURL: src.DesignFileURL,
		Preset:        src.Preset,
		TemplateID:    src.TemplateID,
		Metadata:      meta,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("failed job retried as new job", "job_id", src.ID, "retry_job_id", clone.ID)
	return clone, nil
}

// CountByStatus returns job counts grouped by status, for the health and
// stats endpoints.
func (s *Store) CountByStatus(ctx context.Context) (map[model.JobStatus]int64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT status, count(*) FROM render_job
		WHERE deleted_at IS NULL
		GROUP BY status
	`)
	if err != nil {
		return nil, errors.Wrap(err, "job.Store.CountByStatus", "query job counts")
	}
	defer rows.Close()

	out := make(map[model.JobStatus]int64)
	for rows.Next() {
		var (
			st model.JobStatus
			n  int64
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, errors.Wrap(err, "job.Store.CountByStatus", "scan job count")
		}
		out[st] = n
	}
	return out, rows.Err()
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeValidation, "job.marshalMetadata", "encode metadata")
	}
	return b, nil
}

func scanJob(row pgx.Row) (*model.RenderJob, error) {
	var (
		j    model.RenderJob
		meta []byte
	)
	err := row.Scan(
		&j.ID, &j.ProductID, &j.VariantID, &j.Status, &j.DesignFileURL,
		&j.CompositedFileURL, &j.RenderedImageURL, &j.AnimationURL, &j.Preset, &j.TemplateID,
		&j.ErrorMessage, &j.StartedAt, &j.CompletedAt, &meta, &j.Version,
		&j.CreatedAt, &j.UpdatedAt, &j.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &j.Metadata); err != nil {
			return nil, err
		}
	}
	return &j, nil
}

// argn renders a positional SQL placeholder.
func argn(n int) string {
	return "$" + strconv.Itoa(n)
}
