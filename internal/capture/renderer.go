package capture

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	logx "pagewatch/pkg/logx"
)

// rendererClient captures pages through a headless-renderer HTTP service:
//
//	GET  {base}/screenshot?url=<target>  -> image/png
//	POST {base}/reload?url=<target>      -> 204
//
// Text for the keyword strategy comes from fetching the target directly.
type rendererClient struct {
	log  logx.Logger
	http *http.Client

	mu        sync.Mutex
	targetURL string
	baseURL   string
}

// RendererConfig configures the renderer-backed adapter.
type RendererConfig struct {
	TargetURL   string
	RendererURL string
	Timeout     time.Duration
}

func NewRenderer(cfg RendererConfig, log logx.Logger) Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &rendererClient{
		log:       log,
		http:      &http.Client{Timeout: timeout},
		targetURL: strings.TrimSpace(cfg.TargetURL),
		baseURL:   strings.TrimRight(strings.TrimSpace(cfg.RendererURL), "/"),
	}
}

// SetTarget swaps the watched URL (config hot reload).
func (c *rendererClient) SetTarget(targetURL string) {
	c.mu.Lock()
	c.targetURL = strings.TrimSpace(targetURL)
	c.mu.Unlock()
}

func (c *rendererClient) Resolve(ctx context.Context) (Target, error) {
	_ = ctx
	c.mu.Lock()
	t := c.targetURL
	c.mu.Unlock()
	if t == "" {
		return Target{}, ErrNoTarget
	}
	return Target{URL: t}, nil
}

func (c *rendererClient) Capture(ctx context.Context, t Target) (*Sample, error) {
	if t.URL == "" {
		return nil, ErrNoTarget
	}
	shotURL := c.baseURL + "/screenshot?url=" + url.QueryEscape(t.URL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, shotURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("renderer screenshot: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("renderer screenshot: http %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("renderer screenshot read: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}

	sample := &Sample{Image: img, PNG: raw, TakenAt: time.Now()}

	// Page text is best-effort; a text fetch failure must not fail a pixel
	// capture.
	if text, err := c.fetchText(ctx, t.URL); err != nil {
		c.log.Debug("page text fetch failed", logx.Err(err), logx.String("url", t.URL))
	} else {
		sample.Text = text
	}
	return sample, nil
}

func (c *rendererClient) Reload(ctx context.Context, t Target) error {
	if t.URL == "" {
		return ErrNoTarget
	}
	reloadURL := c.baseURL + "/reload?url=" + url.QueryEscape(t.URL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reloadURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("renderer reload: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("renderer reload: http %d", resp.StatusCode)
	}
	return nil
}

// NewDecodedSample decodes raw PNG bytes into a Sample. Used when reading
// the stored reference back for comparison.
func NewDecodedSample(raw []byte, takenAt time.Time) (*Sample, error) {
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode reference image: %w", err)
	}
	return &Sample{Image: img, PNG: raw, TakenAt: takenAt}, nil
}
