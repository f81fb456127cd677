package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"sharewear/internal/pkg/errors"
	"sharewear/internal/pkg/logger"
)

// HTTPConfig configures the render sidecar client.
type HTTPConfig struct {
	// BaseURL is the sidecar address, e.g. http://render-engine:9090.
	BaseURL string
	// Timeout is the hard bound on one render request.
	Timeout time.Duration
}

// HTTPClient renders through a sidecar service that wraps the engine
// behind a small HTTP API. Deployments that keep Blender off the worker
// hosts use this instead of the subprocess engine.
type HTTPClient struct {
	cfg    HTTPConfig
	client *http.Client
	log    *logger.Logger
}

func NewHTTPClient(cfg HTTPConfig, log *logger.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &HTTPClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.WithComponent("render-sidecar"),
	}
}

type renderRequest struct {
	JobID           string `json:"job_id"`
	BlendFile       string `json:"blend_file"`
	TexturePath     string `json:"texture_path"`
	OutputDir       string `json:"output_dir"`
	Samples         int    `json:"samples"`
	Mode            string `json:"mode"`
	FabricColor     string `json:"fabric_color,omitempty"`
	BackgroundColor string `json:"background_color,omitempty"`
}

type renderResponse struct {
	Images    []string `json:"images"`
	Animation string   `json:"animation,omitempty"`
	Error     string   `json:"error,omitempty"`
}

func (c *HTTPClient) Render(ctx context.Context, in Input) (*Output, error) {
	if in.BlendFile == "" || in.TexturePath == "" || in.OutputDir == "" {
		return nil, errors.Validation("render input requires blend file, texture, and output dir")
	}

	body, err := json.Marshal(renderRequest{
		JobID:           in.JobID,
		BlendFile:       in.BlendFile,
		TexturePath:     in.TexturePath,
		OutputDir:       in.OutputDir,
		Samples:         in.samples(),
		Mode:            in.mode(),
		FabricColor:     in.FabricColor,
		BackgroundColor: in.BackgroundColor,
	})
	if err != nil {
		return nil, errors.Wrap(err, "renderer.HTTPClient.Render", "encode render request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "renderer.HTTPClient.Render", "build render request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.RenderTimeout(in.JobID, ctx.Err()).
				WithField("timeout", c.cfg.Timeout.String())
		}
		return nil, errors.RenderEngine("render sidecar unreachable", err).
			AsTransient().
			WithField("job_id", in.JobID)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.RenderEngine("read sidecar response", err).
			AsTransient().
			WithField("job_id", in.JobID)
	}

	var out renderResponse
	if jsonErr := json.Unmarshal(raw, &out); jsonErr != nil && resp.StatusCode == http.StatusOK {
		return nil, errors.RenderEngine("malformed sidecar response", jsonErr).
			WithField("job_id", in.JobID)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.RenderEngine(sidecarError(out, resp.StatusCode), nil).
			AsTransient().
			WithField("job_id", in.JobID)
	default:
		return nil, errors.RenderEngine(sidecarError(out, resp.StatusCode), nil).
			WithField("job_id", in.JobID)
	}

	if len(out.Images) == 0 && out.Animation == "" {
		return nil, errors.RenderEngine("sidecar reported success but no outputs", nil).
			WithField("job_id", in.JobID)
	}

	c.log.Info("render finished",
		"job_id", in.JobID, "images", len(out.Images), "animation", out.Animation != "")
	return &Output{Images: out.Images, Animation: out.Animation}, nil
}

func sidecarError(resp renderResponse, status int) string {
	if resp.Error != "" {
		return "render sidecar: " + resp.Error
	}
	return fmt.Sprintf("render sidecar: status %d", status)
}
