package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"harbormaster/internal/gate"
	"harbormaster/pkg/logging"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const maxImageResponseBytes = 8 << 20

// ImageProxy meters an upstream image-generation API. Identical prompts in
// flight collapse to a single upstream call, and a token bucket keeps the
// proxy inside the upstream's rate limit.
type ImageProxy struct {
	url     string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	group   singleflight.Group
	logger  logging.Logger
}

// NewImageProxy builds a proxy for the backend at url. An empty url leaves
// the endpoint mounted but failing with a configuration error.
func NewImageProxy(url, apiKey string, rps float64, logger logging.Logger) *ImageProxy {
	if rps <= 0 {
		rps = 1
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &ImageProxy{
		url:     url,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger,
	}
}

// Generate forwards the prompt upstream and returns the backend's JSON
// response verbatim. GET /api/images?prompt=...
func (p *ImageProxy) Generate(ctx context.Context, req *gate.Request, env gate.Env) (string, error) {
	if p.url == "" {
		return "", errors.New("image backend not configured")
	}
	prompt := strings.TrimSpace(req.Query.Get("prompt"))
	if prompt == "" {
		return "", errors.New("prompt query parameter is required")
	}

	body, err, _ := p.group.Do(prompt, func() (interface{}, error) {
		return p.generate(ctx, prompt)
	})
	if err != nil {
		return "", err
	}
	return body.(string), nil
}

func (p *ImageProxy) generate(ctx context.Context, prompt string) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("image backend rate limit: %w", err)
	}

	payload, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("image backend request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxImageResponseBytes))
	if err != nil {
		return "", fmt.Errorf("image backend response read failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		p.logger.WithFields(logging.Fields{
			"status": resp.StatusCode,
			"prompt": prompt,
		}).Warn("Image backend returned an error")
		return "", fmt.Errorf("image backend returned status %d", resp.StatusCode)
	}
	return string(raw), nil
}
