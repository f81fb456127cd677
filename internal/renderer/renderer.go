// Package renderer drives the 3D engine that turns a composited garment
// texture into product images and an optional turntable animation. Two
// implementations exist: a Blender subprocess and an HTTP render sidecar.
package renderer

import (
	"context"

	"sharewear/internal/model"
)

// DefaultSamples is the engine sample count when a job does not override it.
const DefaultSamples = 128

// Input describes one render invocation.
type Input struct {
	JobID string
	// BlendFile is the 3D scene to render.
	BlendFile string
	// TexturePath is the composited design texture applied to the garment.
	TexturePath string
	// OutputDir receives the rendered files.
	OutputDir string
	// Samples tunes render quality; zero means DefaultSamples.
	Samples int
	// Mode selects which outputs to produce. Empty means RenderModeAll.
	Mode            string
	FabricColor     string
	BackgroundColor string
}

func (in *Input) samples() int {
	if in.Samples > 0 {
		return in.Samples
	}
	return DefaultSamples
}

func (in *Input) mode() string {
	if in.Mode == "" {
		return model.RenderModeAll
	}
	return in.Mode
}

// Output lists the files a successful render produced.
type Output struct {
	// Images are the rendered still frames, one per camera angle.
	Images []string
	// Animation is the turntable video, empty when not rendered.
	Animation string
}

// Client renders composited textures. Implementations classify failures:
// timeouts and engine kills are transient, scene or input faults are
// permanent.
type Client interface {
	Render(ctx context.Context, in Input) (*Output, error)
}
