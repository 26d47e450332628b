package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/pixelmuse/pixelmuse/internal/config"
	"github.com/pixelmuse/pixelmuse/internal/generation/domain"
)

const defaultTimeout = 60 * time.Second

type generateRequest struct {
	Prompt       string   `json:"prompt"`
	Images       []string `json:"images,omitempty"`
	Model        string   `json:"model"`
	Resolution   string   `json:"resolution,omitempty"`
	AspectRatio  string   `json:"aspect_ratio,omitempty"`
	ImageCount   int      `json:"image_count"`
	OutputFormat string   `json:"output_format,omitempty"`
}

type generateResponse struct {
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
	Text string `json:"text"`
}

type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(cfg config.Config) domain.BackendClient {
	timeout := defaultTimeout
	if cfg.Generation.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.Generation.TimeoutSeconds) * time.Second
	}
	return &client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.Generation.BackendURL), "/"),
		apiKey:  strings.TrimSpace(cfg.Generation.APIKey),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *client) Generate(ctx context.Context, req domain.BackendRequest) (*domain.BackendResult, error) {
	if c.baseURL == "" {
		return nil, errors.New("generation_backend_not_configured")
	}

	body, err := json.Marshal(generateRequest{
		Prompt:       req.Prompt,
		Images:       req.Images,
		Model:        req.Model,
		Resolution:   req.Resolution,
		AspectRatio:  req.AspectRatio,
		ImageCount:   req.ImageCount,
		OutputFormat: req.OutputFormat,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, domain.ErrBackendFailed
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if len(result.Images) == 0 && result.Text == "" {
		return nil, domain.ErrBackendFailed
	}

	urls := make([]string, 0, len(result.Images))
	for _, image := range result.Images {
		if image.URL != "" {
			urls = append(urls, image.URL)
		}
	}
	return &domain.BackendResult{ImageURLs: urls, Text: result.Text}, nil
}
