package model

import (
	"testing"
	"time"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		allowed  bool
	}{
		{StatusPending, StatusCompositing, true},
		{StatusPending, StatusFailed, false},
		{StatusPending, StatusRendering, false},
		{StatusPending, StatusCompleted, false},
		{StatusCompositing, StatusRendering, true},
		{StatusCompositing, StatusFailed, true},
		{StatusCompositing, StatusCompleted, false},
		{StatusCompositing, StatusPending, false},
		{StatusRendering, StatusCompleted, true},
		{StatusRendering, StatusFailed, true},
		{StatusRendering, StatusCompositing, false},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusRendering, false},
		{StatusFailed, StatusPending, false},
		{StatusFailed, StatusCompositing, false},
		// idempotent same-status updates
		{StatusRendering, StatusRendering, true},
		{StatusCompleted, StatusCompleted, true},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []JobStatus{StatusPending, StatusCompositing, StatusRendering} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []JobStatus{StatusCompleted, StatusFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestStatusValid(t *testing.T) {
	if !StatusPending.Valid() {
		t.Error("pending should be valid")
	}
	if JobStatus("exploded").Valid() {
		t.Error("unknown status should be invalid")
	}
}

func TestCanonicalPresetsKnown(t *testing.T) {
	canonical := []Preset{
		PresetChestSmall, PresetChestMedium, PresetChestLarge,
		PresetBackSmall, PresetBackMedium, PresetBackLarge,
		PresetBackBottomSmall, PresetBackBottomMedium, PresetBackBottomLarge,
	}
	for _, p := range canonical {
		if !KnownPreset(p) {
			t.Errorf("preset %s missing from catalog", p)
		}
	}
	if KnownPreset("sleeve-huge") {
		t.Error("unregistered preset should be unknown")
	}
}

func TestPlacementValues(t *testing.T) {
	pl, ok := LookupPlacement(PresetChestLarge)
	if !ok {
		t.Fatal("chest-large missing")
	}
	if pl.Panel != PanelFront {
		t.Errorf("chest-large panel: got %s, want %s", pl.Panel, PanelFront)
	}
	if pl.ScaleFactor != 0.65 {
		t.Errorf("chest-large scale: got %v, want 0.65", pl.ScaleFactor)
	}
	if pl.VerticalOffset != 0.25 {
		t.Errorf("chest-large vertical offset: got %v, want 0.25", pl.VerticalOffset)
	}

	pl, _ = LookupPlacement(PresetBackBottomSmall)
	if pl.Panel != PanelBack || pl.ScaleFactor != 0.45 {
		t.Errorf("back-bottom-small placement unexpected: %+v", pl)
	}
}

func TestRegisterPresetAdditive(t *testing.T) {
	pl := Placement{Panel: PanelLeftSleeve, ScaleFactor: 0.30, Margin: 0.05, VerticalOffset: 0.50}

	if err := RegisterPreset("sleeve-left-small", pl); err != nil {
		t.Fatalf("register new preset: %v", err)
	}
	// Re-registering with the identical placement is a no-op.
	if err := RegisterPreset("sleeve-left-small", pl); err != nil {
		t.Errorf("idempotent re-register should succeed: %v", err)
	}
	// Remapping an existing zone must be rejected.
	pl.ScaleFactor = 0.99
	if err := RegisterPreset("sleeve-left-small", pl); err == nil {
		t.Error("expected remap rejection")
	}
	if err := RegisterPreset(PresetChestLarge, pl); err == nil {
		t.Error("expected remap rejection for canonical preset")
	}
}

func TestTemplateSupportsPreset(t *testing.T) {
	tpl := &RenderTemplate{
		AvailablePresets: []Preset{PresetChestLarge, PresetBackSmall},
	}
	if !tpl.SupportsPreset(PresetChestLarge) {
		t.Error("expected chest-large supported")
	}
	if tpl.SupportsPreset(PresetBackBottomLarge) {
		t.Error("back-bottom-large should not be supported")
	}
}

func TestJobMetaHelpers(t *testing.T) {
	job := &RenderJob{Metadata: map[string]any{
		MetaRenderAttempts: float64(3), // JSON round-trip shape
		MetaFailedStage:    "rendering",
	}}

	if got := job.MetaInt(MetaRenderAttempts); got != 3 {
		t.Errorf("MetaInt: got %d, want 3", got)
	}
	if got := job.MetaString(MetaFailedStage); got != "rendering" {
		t.Errorf("MetaString: got %q", got)
	}
	if job.MetaInt("missing") != 0 || job.MetaString("missing") != "" {
		t.Error("missing keys should zero-value")
	}
}

func TestClaimLease(t *testing.T) {
	now := time.Now()
	job := &RenderJob{Metadata: map[string]any{}}

	if job.LeaseActive(now) {
		t.Error("job without a lease should not be leased")
	}

	job.Metadata[MetaLeaseUntil] = now.Add(time.Minute).Format(time.RFC3339Nano)
	if !job.LeaseActive(now) {
		t.Error("future lease should be active")
	}
	if job.LeaseActive(now.Add(2 * time.Minute)) {
		t.Error("lapsed lease should be inactive")
	}

	job.Metadata[MetaLeaseUntil] = "garbage"
	if job.LeaseActive(now) {
		t.Error("unparseable lease should count as expired")
	}
}
