package compositor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"sharewear/internal/pkg/errors"

	"github.com/kolesa-team/go-webp/decoder"
	"github.com/kolesa-team/go-webp/webp"
)

// maxDesignBytes caps how much of a design asset we will download.
const maxDesignBytes = 10 << 20

// Fetcher downloads design assets over HTTP and decodes them. Failures to
// reach the asset host are transient; a body that is not a decodable image
// is permanent.
type Fetcher struct {
	client *http.Client
}

func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch downloads and decodes the design at url. Supported formats: PNG,
// JPEG, WebP.
func (f *Fetcher) Fetch(ctx context.Context, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.ValidationField("design_file_url", "must be a valid URL")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.AssetFetch(url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.AssetFetch(url, fmt.Errorf("status %d", resp.StatusCode))
	default:
		// 4xx means the asset is gone or forbidden; retrying will not help.
		return nil, errors.Validationf("design asset unavailable: status %d", resp.StatusCode).
			WithField("url", url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDesignBytes+1))
	if err != nil {
		return nil, errors.AssetFetch(url, err)
	}
	if len(body) > maxDesignBytes {
		return nil, errors.Validationf("design asset exceeds %d bytes", maxDesignBytes).
			WithField("url", url)
	}

	img, err := decodeImage(body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeValidation, "compositor.Fetch", "decode design image")
	}
	return img, nil
}

func decodeImage(data []byte, contentType string) (image.Image, error) {
	if strings.Contains(contentType, "webp") || isWebP(data) {
		return webp.Decode(bytes.NewReader(data), &decoder.Options{})
	}
	switch {
	case strings.Contains(contentType, "png"):
		return png.Decode(bytes.NewReader(data))
	case strings.Contains(contentType, "jpeg"), strings.Contains(contentType, "jpg"):
		return jpeg.Decode(bytes.NewReader(data))
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		bytes.Equal(data[0:4], []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WEBP"))
}
