package renderer

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"sharewear/internal/model"
	"sharewear/internal/pkg/errors"
	"sharewear/internal/pkg/logger"
)

// stderrTailBytes bounds how much engine stderr lands in error messages.
const stderrTailBytes = 2048

var (
	renderedImageRe     = regexp.MustCompile(`(?i)Rendered \w+(?:_\d+deg)?(?:_\w+)?: (.+\.png)`)
	renderedAnimationRe = regexp.MustCompile(`(?i)Rendered animation: (.+\.mp4)`)
)

// BlenderConfig configures the subprocess engine.
type BlenderConfig struct {
	// BinaryPath is the blender executable.
	BinaryPath string
	// ScriptPath is the render driver script passed via --python.
	ScriptPath string
	// Timeout is the hard wall-clock bound on one render.
	Timeout time.Duration
}

// Blender renders by spawning a headless Blender process. The process runs
// under a context deadline; exceeding it kills the process and reports a
// transient timeout so the stage can retry.
type Blender struct {
	cfg BlenderConfig
	log *logger.Logger
}

func NewBlender(cfg BlenderConfig, log *logger.Logger) *Blender {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "blender"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Blender{cfg: cfg, log: log.WithComponent("blender")}
}

func (b *Blender) Render(ctx context.Context, in Input) (*Output, error) {
	if in.BlendFile == "" || in.TexturePath == "" || in.OutputDir == "" {
		return nil, errors.Validation("render input requires blend file, texture, and output dir")
	}
	if err := os.MkdirAll(in.OutputDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "renderer.Blender.Render", "create output dir")
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	args := b.buildArgs(in)
	b.log.Info("starting render",
		"job_id", in.JobID, "blend_file", in.BlendFile,
		"samples", in.samples(), "mode", in.mode())

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, b.cfg.BinaryPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Bound Wait after the kill signal so a wedged child cannot hold the
	// worker slot forever.
	cmd.WaitDelay = 10 * time.Second

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		b.log.Error("render timed out", "job_id", in.JobID, "elapsed", elapsed.String())
		return nil, errors.RenderTimeout(in.JobID, ctx.Err()).
			WithField("timeout", b.cfg.Timeout.String())
	}
	if err != nil {
		return nil, b.classifyExit(in.JobID, err, stderr.Bytes())
	}

	out := parseRenderOutput(stdout.String(), in.mode())
	if len(out.Images) == 0 && out.Animation == "" {
		return nil, errors.RenderEngine("engine exited cleanly but produced no outputs", nil).
			WithField("job_id", in.JobID)
	}

	b.log.Info("render finished",
		"job_id", in.JobID, "images", len(out.Images),
		"animation", out.Animation != "", "elapsed", elapsed.String())
	return out, nil
}

func (b *Blender) buildArgs(in Input) []string {
	args := []string{
		"--background", in.BlendFile,
		"--python", b.cfg.ScriptPath,
		"--",
		in.BlendFile, in.TexturePath, in.OutputDir,
		strconv.Itoa(in.samples()),
	}
	switch in.mode() {
	case model.RenderModeImagesOnly:
		args = append(args, "--images-only")
	case model.RenderModeAnimationOnly:
		args = append(args, "--animation-only")
	}
	if in.FabricColor != "" {
		args = append(args, "--fabric-color", in.FabricColor)
	}
	if in.BackgroundColor != "" {
		args = append(args, "--background-color", in.BackgroundColor)
	}
	return args
}

// classifyExit maps process failures onto the error taxonomy. SIGKILL and
// SIGTERM exits usually mean the OOM killer or an operator intervened, so
// those are worth retrying. Any other nonzero exit is a scene or input
// fault and retrying would reproduce it.
func (b *Blender) classifyExit(jobID string, err error, stderr []byte) error {
	tail := stderrTail(stderr)

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		b.log.Error("render failed", "job_id", jobID, "exit_code", code, "stderr", tail)
		if code == 137 || code == 143 {
			return errors.RenderEngine("engine killed: exit "+strconv.Itoa(code), err).
				AsTransient().
				WithField("job_id", jobID)
		}
		return errors.RenderEngine("engine exit "+strconv.Itoa(code)+": "+tail, err).
			WithField("job_id", jobID)
	}

	// Spawn failures (missing binary, permissions) are environment
	// problems, not scene problems.
	return errors.RenderEngine("failed to start engine", err).
		AsTransient().
		WithField("job_id", jobID)
}

func parseRenderOutput(stdout, mode string) *Output {
	out := &Output{}
	for _, m := range renderedImageRe.FindAllStringSubmatch(stdout, -1) {
		out.Images = append(out.Images, strings.TrimSpace(m[1]))
	}
	if mode != model.RenderModeImagesOnly {
		if m := renderedAnimationRe.FindStringSubmatch(stdout); m != nil {
			out.Animation = strings.TrimSpace(m[1])
		}
	}
	return out
}

func stderrTail(stderr []byte) string {
	if len(stderr) > stderrTailBytes {
		stderr = stderr[len(stderr)-stderrTailBytes:]
	}
	return strings.TrimSpace(string(stderr))
}
