package compositor

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sharewear/internal/model"
	"sharewear/internal/pkg/errors"
	"sharewear/internal/pkg/logger"
	"sharewear/internal/ports"
)

type fakeStorage struct {
	objects map[string][]byte
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (f *fakeStorage) Provider() string { return "fake" }

func (f *fakeStorage) PutObject(_ context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Reader)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	f.objects[in.ObjectKey] = data
	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: int64(len(data))}, nil
}

func (f *fakeStorage) GetObject(_ context.Context, key string) (io.ReadCloser, string, int64, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, "", 0, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), "image/png", int64(len(data)), nil
}

func (f *fakeStorage) DeleteObject(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func (f *fakeStorage) GetSignedURL(_ context.Context, key string, _ time.Duration) (ports.SignedURLOutput, error) {
	return ports.SignedURLOutput{URL: "https://files.test/" + key, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func solidPNG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestPanelRect(t *testing.T) {
	bounds := image.Rect(0, 0, 1000, 800)

	tests := []struct {
		panel model.Panel
		want  image.Rectangle
	}{
		{model.PanelLeftSleeve, image.Rect(0, 0, 500, 400)},
		{model.PanelRightSleeve, image.Rect(500, 0, 1000, 400)},
		{model.PanelFront, image.Rect(0, 400, 500, 800)},
		{model.PanelBack, image.Rect(500, 400, 1000, 800)},
	}
	for _, tt := range tests {
		if got := PanelRect(bounds, tt.panel); got != tt.want {
			t.Errorf("PanelRect(%s) = %v, want %v", tt.panel, got, tt.want)
		}
	}
}

func TestDesignRect(t *testing.T) {
	// Front panel of a 1000x1000 template.
	panel := image.Rect(0, 500, 500, 1000)

	t.Run("chest medium square design", func(t *testing.T) {
		p, _ := model.LookupPlacement(model.PresetChestMedium)
		got := DesignRect(panel, image.Rect(0, 0, 400, 400), p)

		// Printable area is 400x400 from (50,550). Width 0.55*400=220,
		// centered at x=250, y=550+0.25*400=650.
		want := image.Rect(140, 540, 360, 760)
		if got != want {
			t.Errorf("DesignRect = %v, want %v", got, want)
		}
	})

	t.Run("tall design clamps to printable height", func(t *testing.T) {
		p, _ := model.LookupPlacement(model.PresetChestMedium)
		got := DesignRect(panel, image.Rect(0, 0, 100, 1000), p)

		if h := got.Dy(); h != 320 {
			t.Errorf("height = %d, want 320 (80%% of printable)", h)
		}
		if w := got.Dx(); w != 32 {
			t.Errorf("width = %d, want 32 (aspect preserved)", w)
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		p, _ := model.LookupPlacement(model.PresetBackLarge)
		design := image.Rect(0, 0, 300, 200)
		first := DesignRect(panel, design, p)
		for i := 0; i < 5; i++ {
			if got := DesignRect(panel, design, p); got != first {
				t.Fatalf("DesignRect not stable: %v then %v", first, got)
			}
		}
	})
}

func TestComposite(t *testing.T) {
	template := image.NewRGBA(image.Rect(0, 0, 200, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			template.SetRGBA(x, y, color.RGBA{R: 0, G: 0, B: 255, A: 255})
		}
	}
	design := image.NewRGBA(image.Rect(0, 0, 50, 50))
	for y := 0; y < 50; y++ {
		for x := 0; x < 50; x++ {
			design.SetRGBA(x, y, color.RGBA{R: 255, G: 0, B: 0, A: 255})
		}
	}

	p, _ := model.LookupPlacement(model.PresetChestLarge)
	out := Composite(template, design, p)

	if out.Bounds() != template.Bounds() {
		t.Fatalf("output bounds = %v, want template bounds %v", out.Bounds(), template.Bounds())
	}

	// Front panel center-ish pixel should now be red.
	panel := PanelRect(template.Bounds(), p.Panel)
	target := DesignRect(panel, design.Bounds(), p)
	mid := target.Min.Add(target.Size().Div(2))
	r, _, b, _ := out.At(mid.X, mid.Y).RGBA()
	if r == 0 || b != 0 {
		t.Errorf("pixel at %v = r=%d b=%d, want design red over template blue", mid, r>>8, b>>8)
	}

	// A corner outside any design placement stays template blue.
	_, _, b2, _ := out.At(1, 1).RGBA()
	if b2>>8 != 255 {
		t.Errorf("untouched pixel changed: b=%d", b2>>8)
	}
}

func TestComposeEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(solidPNG(t, 40, 40, color.RGBA{R: 255, A: 255}))
	}))
	defer srv.Close()

	dir := t.TempDir()
	tplPath := filepath.Join(dir, "template.png")
	if err := os.WriteFile(tplPath, solidPNG(t, 200, 200, color.RGBA{B: 255, A: 255}), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	storage := newFakeStorage()
	c := New(Config{DefaultTemplatePath: tplPath}, storage, logger.NewDefault())

	designURL := srv.URL + "/design.png"
	job := &model.RenderJob{
		ID:            "job-1",
		ProductID:     "prod-1",
		Preset:        model.PresetChestMedium,
		DesignFileURL: &designURL,
	}
	placement, _ := model.LookupPlacement(job.Preset)

	res, err := c.Compose(context.Background(), job, nil, placement)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if res.ObjectKey != "composited/job-1.png" {
		t.Errorf("object key = %q", res.ObjectKey)
	}
	if res.URL == "" {
		t.Error("expected a signed URL")
	}
	if res.Width != 200 || res.Height != 200 {
		t.Errorf("output size = %dx%d, want 200x200", res.Width, res.Height)
	}

	stored, ok := storage.objects[res.ObjectKey]
	if !ok {
		t.Fatal("composited object not persisted")
	}
	img, err := png.Decode(bytes.NewReader(stored))
	if err != nil {
		t.Fatalf("stored object is not a PNG: %v", err)
	}
	if img.Bounds().Dx() != 200 {
		t.Errorf("stored width = %d", img.Bounds().Dx())
	}
}

func TestComposeMissingDesign(t *testing.T) {
	c := New(Config{DefaultTemplatePath: "unused.png"}, newFakeStorage(), logger.NewDefault())
	placement, _ := model.LookupPlacement(model.PresetChestSmall)

	_, err := c.Compose(context.Background(), &model.RenderJob{ID: "j", ProductID: "p", Preset: model.PresetChestSmall}, nil, placement)
	if !errors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFetchClassification(t *testing.T) {
	t.Run("server error is transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := NewFetcher(time.Second).Fetch(context.Background(), srv.URL)
		if !errors.IsTransient(err) {
			t.Fatalf("expected transient error, got %v", err)
		}
	})

	t.Run("missing asset is permanent", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()

		_, err := NewFetcher(time.Second).Fetch(context.Background(), srv.URL)
		if err == nil || errors.IsTransient(err) {
			t.Fatalf("expected permanent error, got %v", err)
		}
	})

	t.Run("unreachable host is transient", func(t *testing.T) {
		_, err := NewFetcher(250 * time.Millisecond).Fetch(context.Background(), "http://127.0.0.1:1/design.png")
		if !errors.IsTransient(err) {
			t.Fatalf("expected transient error, got %v", err)
		}
	})

	t.Run("garbage body is permanent", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not an image"))
		}))
		defer srv.Close()

		_, err := NewFetcher(time.Second).Fetch(context.Background(), srv.URL)
		if err == nil || errors.IsTransient(err) {
			t.Fatalf("expected permanent error, got %v", err)
		}
	})
}
