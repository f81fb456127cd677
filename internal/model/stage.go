package model

// Stage identifies a pipeline processing stage. Each stage has its own
// worker pool and its own entry condition in the claim protocol.
type Stage string

const (
	StageCompositing Stage = "compositing"
	StageRendering   Stage = "rendering"
)

// InProgressStatus returns the status a claimed job carries while the
// stage runs.
func (s Stage) InProgressStatus() JobStatus {
	if s == StageRendering {
		return StatusRendering
	}
	return StatusCompositing
}
