package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"content-analysis-pipeline/internal/config"
	"content-analysis-pipeline/internal/models"
)

// HTTPAnalyzerClient invokes the analysis services over HTTP. The request is
// POST <category endpoint>/<job id> with an empty body; any 2xx counts as a
// successful handoff.
type HTTPAnalyzerClient struct {
	httpClient *http.Client
	textURL    string
	imageURL   string
}

func NewHTTPAnalyzerClient(cfg config.Config) *HTTPAnalyzerClient {
	timeout := cfg.AnalyzerTimeout
	if timeout == 0 {
		timeout = 150 * time.Second
	}
	return &HTTPAnalyzerClient{
		httpClient: &http.Client{Timeout: timeout},
		textURL:    strings.TrimRight(cfg.AnalyzerTextURL, "/"),
		imageURL:   strings.TrimRight(cfg.AnalyzerImageURL, "/"),
	}
}

func (c *HTTPAnalyzerClient) Analyze(ctx context.Context, category, jobID string) error {
	var base string
	switch category {
	case models.CategoryText:
		base = c.textURL
	case models.CategoryImage:
		base = c.imageURL
	default:
		return fmt.Errorf("no analyzer endpoint for category %q", category)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/"+jobID, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoke analyzer: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("analyzer returned status %d", resp.StatusCode)
	}
	return nil
}
