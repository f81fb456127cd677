package job

import (
	"testing"

	"sharewear/internal/model"
	"sharewear/internal/pkg/errors"
)

func TestCreateInputValidate(t *testing.T) {
	goodURL := "https://assets.test/design.png"
	badURL := "not a url"

	tests := []struct {
		name    string
		in      CreateInput
		wantErr bool
	}{
		{
			name: "valid",
			in:   CreateInput{ProductID: "p1", Preset: model.PresetChestLarge, DesignFileURL: &goodURL},
		},
		{
			name: "valid without design",
			in:   CreateInput{ProductID: "p1", Preset: model.PresetBackSmall},
		},
		{
			name:    "missing product",
			in:      CreateInput{Preset: model.PresetChestLarge},
			wantErr: true,
		},
		{
			name:    "unknown preset",
			in:      CreateInput{ProductID: "p1", Preset: "sleeve-huge"},
			wantErr: true,
		},
		{
			name:    "malformed design url",
			in:      CreateInput{ProductID: "p1", Preset: model.PresetChestLarge, DesignFileURL: &badURL},
			wantErr: true,
		},
		{
			name: "valid render mode",
			in: CreateInput{ProductID: "p1", Preset: model.PresetChestLarge,
				Metadata: map[string]any{model.MetaRenderMode: model.RenderModeImagesOnly}},
		},
		{
			name: "unknown render mode",
			in: CreateInput{ProductID: "p1", Preset: model.PresetChestLarge,
				Metadata: map[string]any{model.MetaRenderMode: "fast"}},
			wantErr: true,
		},
		{
			name: "valid samples",
			in: CreateInput{ProductID: "p1", Preset: model.PresetChestLarge,
				Metadata: map[string]any{model.MetaRenderSamples: 256}},
		},
		{
			name: "valid samples from json",
			in: CreateInput{ProductID: "p1", Preset: model.PresetChestLarge,
				Metadata: map[string]any{model.MetaRenderSamples: float64(4096)}},
		},
		{
			name: "samples too large",
			in: CreateInput{ProductID: "p1", Preset: model.PresetChestLarge,
				Metadata: map[string]any{model.MetaRenderSamples: 1000000}},
			wantErr: true,
		},
		{
			name: "samples below minimum",
			in: CreateInput{ProductID: "p1", Preset: model.PresetChestLarge,
				Metadata: map[string]any{model.MetaRenderSamples: 0}},
			wantErr: true,
		},
		{
			name: "fractional samples",
			in: CreateInput{ProductID: "p1", Preset: model.PresetChestLarge,
				Metadata: map[string]any{model.MetaRenderSamples: 128.5}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.validate()
			if tt.wantErr && !errors.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestArgn(t *testing.T) {
	if got := argn(1); got != "$1" {
		t.Errorf("argn(1) = %q", got)
	}
	if got := argn(12); got != "$12" {
		t.Errorf("argn(12) = %q", got)
	}
}
