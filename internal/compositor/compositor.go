package compositor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"time"

	"sharewear/internal/model"
	"sharewear/internal/pkg/errors"
	"sharewear/internal/pkg/logger"
	"sharewear/internal/ports"

	xdraw "golang.org/x/image/draw"
)

// maxPrintableHeightFrac clamps tall designs so they never fill the whole
// printable area vertically.
const maxPrintableHeightFrac = 0.8

// Config holds the compositing stage settings.
type Config struct {
	// DefaultTemplatePath is the template image used by jobs that carry no
	// template reference.
	DefaultTemplatePath string
	// FetchTimeout bounds each design asset download.
	FetchTimeout time.Duration
	// SignedURLTTL is the validity window of composited file URLs.
	SignedURLTTL time.Duration
}

// Compositor places a design asset onto a garment template image and
// persists the result. The same inputs always produce the same output.
type Compositor struct {
	cfg     Config
	fetcher *Fetcher
	storage ports.StorageProvider
	log     *logger.Logger
}

func New(cfg Config, storage ports.StorageProvider, log *logger.Logger) *Compositor {
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = 7 * 24 * time.Hour
	}
	return &Compositor{
		cfg:     cfg,
		fetcher: NewFetcher(cfg.FetchTimeout),
		storage: storage,
		log:     log.WithComponent("compositor"),
	}
}

// Result is the persisted composited texture.
type Result struct {
	ObjectKey string
	URL       string
	Width     int
	Height    int
}

// Compose runs the full compositing step for a claimed job: fetch the
// design, place it on the template panel, persist the PNG.
func (c *Compositor) Compose(ctx context.Context, job *model.RenderJob, tpl *model.RenderTemplate, placement model.Placement) (*Result, error) {
	if job.DesignFileURL == nil {
		return nil, errors.Validation("job has no design file").WithField("job_id", job.ID)
	}

	design, err := c.fetcher.Fetch(ctx, *job.DesignFileURL)
	if err != nil {
		return nil, err
	}

	templatePath := c.cfg.DefaultTemplatePath
	if tpl != nil {
		templatePath = tpl.TemplateImagePath
	}
	base, err := loadTemplateImage(templatePath)
	if err != nil {
		return nil, err
	}

	out := Composite(base, design, placement)

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, errors.Wrap(err, "compositor.Compose", "encode composited image")
	}

	key := fmt.Sprintf("composited/%s.png", job.ID)
	put, err := c.storage.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   key,
		ContentType: "image/png",
		Reader:      &buf,
		Size:        int64(buf.Len()),
	})
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "compositor.Compose", "persist composited image").
			AsTransient()
	}

	signed, err := c.storage.GetSignedURL(ctx, put.ObjectKey, c.cfg.SignedURLTTL)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "compositor.Compose", "sign composited URL").
			AsTransient()
	}

	b := out.Bounds()
	c.log.Info("design composited",
		"job_id", job.ID, "preset", string(job.Preset), "object_key", put.ObjectKey,
		"width", b.Dx(), "height", b.Dy())
	return &Result{ObjectKey: put.ObjectKey, URL: signed.URL, Width: b.Dx(), Height: b.Dy()}, nil
}

func loadTemplateImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeValidation, "compositor.loadTemplateImage", "open template image")
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeValidation, "compositor.loadTemplateImage", "decode template image")
	}
	return img, nil
}

// PanelRect returns the pixel bounds of a named panel. Templates lay out a
// 2x2 grid with sleeves on top and front/back panels on the bottom.
func PanelRect(bounds image.Rectangle, panel model.Panel) image.Rectangle {
	halfW := bounds.Min.X + bounds.Dx()/2
	halfH := bounds.Min.Y + bounds.Dy()/2

	switch panel {
	case model.PanelLeftSleeve:
		return image.Rect(bounds.Min.X, bounds.Min.Y, halfW, halfH)
	case model.PanelRightSleeve:
		return image.Rect(halfW, bounds.Min.Y, bounds.Max.X, halfH)
	case model.PanelBack:
		return image.Rect(halfW, halfH, bounds.Max.X, bounds.Max.Y)
	default:
		return image.Rect(bounds.Min.X, halfH, halfW, bounds.Max.Y)
	}
}

// DesignRect computes where the scaled design lands inside the template.
// The design width takes ScaleFactor of the printable panel width, keeps
// its aspect ratio, and is clamped to 80% of the printable height. The
// design center sits at VerticalOffset down the printable area.
func DesignRect(panel image.Rectangle, design image.Rectangle, p model.Placement) image.Rectangle {
	marginX := float64(panel.Dx()) * p.Margin
	marginY := float64(panel.Dy()) * p.Margin

	printX := float64(panel.Min.X) + marginX
	printY := float64(panel.Min.Y) + marginY
	printW := float64(panel.Dx()) - 2*marginX
	printH := float64(panel.Dy()) - 2*marginY

	aspect := float64(design.Dy()) / float64(design.Dx())
	targetW := printW * p.ScaleFactor
	targetH := targetW * aspect
	if targetH > printH*maxPrintableHeightFrac {
		targetH = printH * maxPrintableHeightFrac
		targetW = targetH / aspect
	}

	centerX := printX + printW/2
	centerY := printY + printH*p.VerticalOffset
	x0 := int(centerX - targetW/2)
	y0 := int(centerY - targetH/2)
	return image.Rect(x0, y0, x0+int(targetW), y0+int(targetH))
}

// Composite places the design onto a copy of the template according to the
// placement, alpha-blending through the design's transparency.
func Composite(template, design image.Image, p model.Placement) *image.RGBA {
	out := image.NewRGBA(template.Bounds())
	draw.Draw(out, out.Bounds(), template, template.Bounds().Min, draw.Src)

	panel := PanelRect(template.Bounds(), p.Panel)
	target := DesignRect(panel, design.Bounds(), p)

	xdraw.CatmullRom.Scale(out, target, design, design.Bounds(), xdraw.Over, nil)
	return out
}
