package template

import (
	"context"
	"encoding/json"
	"strings"

	"sharewear/internal/httpkit"
	"sharewear/internal/model"
	"sharewear/internal/pkg/errors"
	"sharewear/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const templateColumns = `id, name, template_image_path, blend_file_path,
	available_presets, is_active, thumbnail_url, metadata,
	created_at, updated_at, deleted_at`

// Registry stores render templates and answers placement lookups for the
// compositing stage. Templates are soft-deactivated, never removed, so
// completed jobs keep a resolvable template reference.
type Registry struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

func NewRegistry(db *pgxpool.Pool, log *logger.Logger) *Registry {
	return &Registry{db: db, log: log.WithComponent("template-registry")}
}

// RegisterInput describes a new template.
type RegisterInput struct {
	Name              string
	TemplateImagePath string
	BlendFilePath     string
	AvailablePresets  []model.Preset
	ThumbnailURL      *string
	Metadata          map[string]any
}

func (in *RegisterInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return errors.ValidationField("name", "is required")
	}
	if strings.TrimSpace(in.TemplateImagePath) == "" {
		return errors.ValidationField("template_image_path", "is required")
	}
	if strings.TrimSpace(in.BlendFilePath) == "" {
		return errors.ValidationField("blend_file_path", "is required")
	}
	if len(in.AvailablePresets) == 0 {
		return errors.ValidationField("available_presets", "must name at least one preset")
	}
	for _, p := range in.AvailablePresets {
		if !model.KnownPreset(p) {
			return errors.ValidationField("available_presets", "unknown preset: "+string(p))
		}
	}
	return nil
}

// Register creates an active template. Names are unique among live rows.
func (r *Registry) Register(ctx context.Context, in RegisterInput) (*model.RenderTemplate, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	meta, err := json.Marshal(orEmpty(in.Metadata))
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeValidation, "template.Registry.Register", "encode metadata")
	}
	presets := make([]string, len(in.AvailablePresets))
	for i, p := range in.AvailablePresets {
		presets[i] = string(p)
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO render_template (id, name, template_image_path, blend_file_path, available_presets, is_active, thumbnail_url, metadata)
		VALUES ($1, $2, $3, $4, $5, true, $6, $7)
		RETURNING `+templateColumns,
		uuid.NewString(), in.Name, in.TemplateImagePath, in.BlendFilePath,
		presets, in.ThumbnailURL, meta,
	)

	t, err := scanTemplate(row)
	if err != nil {
		if httpkit.IsUniqueViolation(err) {
			return nil, errors.AlreadyExists("render template", in.Name)
		}
		return nil, errors.Wrap(err, "template.Registry.Register", "insert render template")
	}
	r.log.Info("template registered", "template_id", t.ID, "name", t.Name, "presets", len(t.AvailablePresets))
	return t, nil
}

// Get returns a template by id, active or not.
func (r *Registry) Get(ctx context.Context, id string) (*model.RenderTemplate, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+templateColumns+` FROM render_template
		WHERE id = $1 AND deleted_at IS NULL
	`, id)

	t, err := scanTemplate(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NotFound("render template", id)
		}
		return nil, errors.Wrap(err, "template.Registry.Get", "query render template")
	}
	return t, nil
}

// ListActive returns active templates ordered by name.
func (r *Registry) ListActive(ctx context.Context) ([]*model.RenderTemplate, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+templateColumns+` FROM render_template
		WHERE is_active AND deleted_at IS NULL
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, errors.Wrap(err, "template.Registry.ListActive", "query render templates")
	}
	defer rows.Close()

	var out []*model.RenderTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, errors.Wrap(err, "template.Registry.ListActive", "scan render template")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Deactivate retires a template from new job creation. Existing jobs keep
// referencing it.
func (r *Registry) Deactivate(ctx context.Context, id string) error {
	cmd, err := r.db.Exec(ctx, `
		UPDATE render_template
		SET is_active = false, updated_at = now()
		WHERE id = $1 AND is_active AND deleted_at IS NULL
	`, id)
	if err != nil {
		return errors.Wrap(err, "template.Registry.Deactivate", "update render template")
	}
	if cmd.RowsAffected() == 0 {
		return errors.NotFound("active render template", id)
	}
	r.log.Info("template deactivated", "template_id", id)
	return nil
}

// ResolvePlacement validates a job's preset against its template and
// returns the placement geometry the compositor needs. A nil templateID
// resolves against the built-in preset catalog alone.
func (r *Registry) ResolvePlacement(ctx context.Context, templateID *string, preset model.Preset) (*model.RenderTemplate, model.Placement, error) {
	placement, ok := model.LookupPlacement(preset)
	if !ok {
		return nil, model.Placement{}, errors.ValidationField("preset", "unknown placement preset: "+string(preset))
	}
	if templateID == nil {
		return nil, placement, nil
	}

	t, err := r.Get(ctx, *templateID)
	if err != nil {
		return nil, model.Placement{}, err
	}
	if !t.IsActive {
		return nil, model.Placement{}, errors.Validationf("template %s is inactive", t.ID)
	}
	if !t.SupportsPreset(preset) {
		return nil, model.Placement{}, errors.Validationf("template %s does not support preset %s", t.ID, preset)
	}
	return t, placement, nil
}

func scanTemplate(row pgx.Row) (*model.RenderTemplate, error) {
	var (
		t       model.RenderTemplate
		presets []string
		meta    []byte
	)
	err := row.Scan(
		&t.ID, &t.Name, &t.TemplateImagePath, &t.BlendFilePath,
		&presets, &t.IsActive, &t.ThumbnailURL, &meta,
		&t.CreatedAt, &t.UpdatedAt, &t.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	t.AvailablePresets = make([]model.Preset, len(presets))
	for i, p := range presets {
		t.AvailablePresets[i] = model.Preset(p)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Metadata); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
