package model

import (
	"fmt"
	"sort"
	"sync"
)

// Preset names a placement zone on a garment template.
type Preset string

// The nine canonical placement zones.
const (
	PresetChestSmall       Preset = "chest-small"
	PresetChestMedium      Preset = "chest-medium"
	PresetChestLarge       Preset = "chest-large"
	PresetBackSmall        Preset = "back-small"
	PresetBackMedium       Preset = "back-medium"
	PresetBackLarge        Preset = "back-large"
	PresetBackBottomSmall  Preset = "back-bottom-small"
	PresetBackBottomMedium Preset = "back-bottom-medium"
	PresetBackBottomLarge  Preset = "back-bottom-large"
)

// Panel identifies a region of the template image. Templates lay out a 2x2
// grid: sleeves on top, front and back panels on the bottom.
type Panel string

const (
	PanelFront       Panel = "front_panel"
	PanelBack        Panel = "back_panel"
	PanelLeftSleeve  Panel = "left_sleeve"
	PanelRightSleeve Panel = "right_sleeve"
)

// Placement describes where and how large a design lands on a template.
// ScaleFactor is the design width relative to the printable panel width,
// Margin is the non-printable border fraction of the panel, and
// VerticalOffset positions the design center down the printable area.
type Placement struct {
	Panel          Panel   `json:"panel"`
	ScaleFactor    float64 `json:"scale_factor"`
	Margin         float64 `json:"margin"`
	VerticalOffset float64 `json:"vertical_offset"`
}

var (
	presetMu  sync.RWMutex
	presetTab = map[Preset]Placement{
		PresetChestSmall:       {Panel: PanelFront, ScaleFactor: 0.45, Margin: 0.10, VerticalOffset: 0.25},
		PresetChestMedium:      {Panel: PanelFront, ScaleFactor: 0.55, Margin: 0.10, VerticalOffset: 0.25},
		PresetChestLarge:       {Panel: PanelFront, ScaleFactor: 0.65, Margin: 0.10, VerticalOffset: 0.25},
		PresetBackSmall:        {Panel: PanelBack, ScaleFactor: 0.45, Margin: 0.10, VerticalOffset: 0.45},
		PresetBackMedium:       {Panel: PanelBack, ScaleFactor: 0.55, Margin: 0.10, VerticalOffset: 0.45},
		PresetBackLarge:        {Panel: PanelBack, ScaleFactor: 0.65, Margin: 0.10, VerticalOffset: 0.45},
		PresetBackBottomSmall:  {Panel: PanelBack, ScaleFactor: 0.45, Margin: 0.10, VerticalOffset: 0.70},
		PresetBackBottomMedium: {Panel: PanelBack, ScaleFactor: 0.55, Margin: 0.10, VerticalOffset: 0.70},
		PresetBackBottomLarge:  {Panel: PanelBack, ScaleFactor: 0.65, Margin: 0.10, VerticalOffset: 0.70},

		// Historical front-center zones kept for jobs created before the
		// catalog was expanded. Additive only, never remapped.
		"dead-center-small":  {Panel: PanelFront, ScaleFactor: 0.45, Margin: 0.10, VerticalOffset: 0.45},
		"dead-center-medium": {Panel: PanelFront, ScaleFactor: 0.55, Margin: 0.10, VerticalOffset: 0.45},
		"dead-center-large":  {Panel: PanelFront, ScaleFactor: 0.65, Margin: 0.10, VerticalOffset: 0.45},
	}
)

// RegisterPreset adds a new placement zone to the catalog. Registering an
// existing preset with a different placement is rejected: zones are
// additive, never remapped.
func RegisterPreset(p Preset, pl Placement) error {
	if p == "" {
		return fmt.Errorf("preset name is required")
	}
	presetMu.Lock()
	defer presetMu.Unlock()
	if existing, ok := presetTab[p]; ok {
		if existing != pl {
			return fmt.Errorf("preset %q already registered with different placement", p)
		}
		return nil
	}
	presetTab[p] = pl
	return nil
}

// LookupPlacement returns the placement parameters for a preset.
func LookupPlacement(p Preset) (Placement, bool) {
	presetMu.RLock()
	defer presetMu.RUnlock()
	pl, ok := presetTab[p]
	return pl, ok
}

// KnownPreset reports whether p is in the catalog.
func KnownPreset(p Preset) bool {
	_, ok := LookupPlacement(p)
	return ok
}

// Presets returns the catalog's preset names, sorted.
func Presets() []Preset {
	presetMu.RLock()
	defer presetMu.RUnlock()
	out := make([]Preset, 0, len(presetTab))
	for p := range presetTab {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
