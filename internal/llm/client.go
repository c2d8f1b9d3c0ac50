package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"
)

// Config for the OpenAI-compatible client.
type Config struct {
	APIKey       string // if empty, falls back to env OPENAI_API_KEY
	BaseURL      string // default https://api.openai.com/v1
	TextModel    string
	VisionModel  string
	Timeout      time.Duration
	MaxImageEdge int // images above this edge are downscaled before encoding
}

// Client calls chat/completions for document summaries and image
// descriptions.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.TextModel == "" {
		cfg.TextModel = "gpt-5-mini"
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxImageEdge <= 0 {
		cfg.MaxImageEdge = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logger,
	}
}

// SummarizeDocument uploads the document to the files endpoint, then asks the
// text model for a summary referencing the uploaded file.
func (c *Client) SummarizeDocument(ctx context.Context, filename string, data []byte) (string, error) {
	start := time.Now()
	fileID, err := c.uploadFile(ctx, filename, data)
	if err != nil {
		return "", err
	}

	body := map[string]any{
		"model": c.cfg.TextModel,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "file", "file": map[string]any{"file_id": fileID}},
					{"type": "text", "text": "Please summarize this document."},
				},
			},
		},
	}
	summary, err := c.chat(ctx, body)
	if err != nil {
		return "", err
	}
	c.log.Info("llm.summarize.ok",
		"model", c.cfg.TextModel,
		"file_bytes", len(data),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return summary, nil
}

// DescribeImage asks the vision model to describe the image, inlined as a
// base64 data URI.
func (c *Client) DescribeImage(ctx context.Context, data []byte, contentType string) (string, error) {
	start := time.Now()
	data, reencoded := c.downscale(data)

	if contentType == "" || reencoded {
		contentType = "image/png"
	}
	dataURI := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data))

	body := map[string]any{
		"model": c.cfg.VisionModel,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": "Describe this image."},
					{"type": "image_url", "image_url": map[string]any{"url": dataURI}},
				},
			},
		},
	}
	description, err := c.chat(ctx, body)
	if err != nil {
		return "", err
	}
	c.log.Info("llm.describe.ok",
		"model", c.cfg.VisionModel,
		"image_bytes", len(data),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return description, nil
}

// chat posts a chat/completions request and returns the first choice content.
func (c *Client) chat(ctx context.Context, body map[string]any) (string, error) {
	raw, err := c.postJSON(ctx, c.endpoint("/chat/completions"), body)
	if err != nil {
		return "", err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return "", fmt.Errorf("no choices in completion response")
	}
	return strings.TrimSpace(cc.Choices[0].Message.Content), nil
}

// uploadFile sends the document to the files endpoint and returns its id.
func (c *Client) uploadFile(ctx context.Context, filename string, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("purpose", "user_data"); err != nil {
		return "", fmt.Errorf("write purpose field: %w", err)
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/files"), &buf)
	if err != nil {
		return "", fmt.Errorf("build file request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	raw, err := c.do(req)
	if err != nil {
		return "", err
	}

	var fr struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &fr); err != nil {
		return "", fmt.Errorf("decode file response: %w", err)
	}
	if fr.ID == "" {
		return "", fmt.Errorf("file upload returned no id")
	}
	return fr.ID, nil
}

func (c *Client) postJSON(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s returned status %d: %s", req.URL.Path, resp.StatusCode, truncate(raw, 256))
	}
	return raw, nil
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
