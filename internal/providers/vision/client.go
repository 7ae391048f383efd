package vision

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

	"bookshelf/catalogservice/internal/domain"
	"bookshelf/catalogservice/internal/metrics"
)

const defaultTimeout = 30 * time.Second

var ErrNotConfigured = errors.New("vision: endpoint not configured")

type Config struct {
	Endpoint  string
	APIKey    string
	UserAgent string
	Timeout   time.Duration
	Client    *http.Client
}

// Client calls the AI shelf-detection collaborator. The call is opaque:
// raw image bytes in, detected books out, with its own timeout.
type Client struct {
	client    *http.Client
	endpoint  string
	apiKey    string
	userAgent string
	timeout   time.Duration
}

func NewClient(cfg Config) *Client {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		client:    client,
		endpoint:  strings.TrimSpace(cfg.Endpoint),
		apiKey:    strings.TrimSpace(cfg.APIKey),
		userAgent: strings.TrimSpace(cfg.UserAgent),
		timeout:   timeout,
	}
}

func (c *Client) Enabled() bool {
	return c.endpoint != ""
}

func (c *Client) Detect(ctx context.Context, image []byte) (domain.DetectionResult, error) {
	if !c.Enabled() {
		return domain.DetectionResult{}, ErrNotConfigured
	}
	if len(image) == 0 {
		return domain.DetectionResult{}, errors.New("vision: empty image")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint, bytes.NewReader(image))
	if err != nil {
		return domain.DetectionResult{}, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	startedAt := time.Now()
	resp, err := c.client.Do(req)
	metrics.VisionRequestDuration.Observe(time.Since(startedAt).Seconds())
	if err != nil {
		return domain.DetectionResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return domain.DetectionResult{}, fmt.Errorf("vision HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return domain.DetectionResult{}, err
	}

	var result domain.DetectionResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return domain.DetectionResult{}, fmt.Errorf("unexpected vision payload: %w", err)
	}
	return result, nil
}
