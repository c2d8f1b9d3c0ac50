package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionResponse(content string) string {
	return `{"choices":[{"message":{"content":` + mustJSONString(content) + `}}]}`
}

func mustJSONString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestSummarizeDocument(t *testing.T) {
	var uploadedName string
	var chatReq map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files":
			require.NoError(t, r.ParseMultipartForm(1<<20))
			_, header, err := r.FormFile("file")
			require.NoError(t, err)
			uploadedName = header.Filename
			assert.Equal(t, "user_data", r.FormValue("purpose"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"file-abc"}`))
		case "/chat/completions":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&chatReq))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(completionResponse("  a concise summary  ")))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL, TextModel: "test-model"}, nil)
	summary, err := c.SummarizeDocument(context.Background(), "report.pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)

	assert.Equal(t, "a concise summary", summary)
	assert.Equal(t, "report.pdf", uploadedName)
	assert.Equal(t, "test-model", chatReq["model"])
	assert.Contains(t, stringify(chatReq), "file-abc")
}

func TestDescribeImage(t *testing.T) {
	var chatReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&chatReq))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionResponse("a small test image")))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL, VisionModel: "vision-model"}, nil)
	desc, err := c.DescribeImage(context.Background(), pngBytes(t, 4, 4), "image/png")
	require.NoError(t, err)

	assert.Equal(t, "a small test image", desc)
	assert.Equal(t, "vision-model", chatReq["model"])
	assert.Contains(t, stringify(chatReq), "data:image/png;base64,")
}

func TestDescribeImageDownscalesLargeInput(t *testing.T) {
	var encodedLen int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		encodedLen = len(stringify(req))
		_, _ = w.Write([]byte(completionResponse("ok")))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL, MaxImageEdge: 8}, nil)
	big := pngBytes(t, 256, 256)
	_, err := c.DescribeImage(context.Background(), big, "image/png")
	require.NoError(t, err)

	// The inlined payload must be smaller than a base64 encoding of the
	// original bytes would have been.
	assert.Less(t, encodedLen, base64.StdEncoding.EncodedLen(len(big)))
}

func TestChatErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, nil)
	_, err := c.DescribeImage(context.Background(), []byte("not an image"), "image/png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestChatEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, nil)
	_, err := c.DescribeImage(context.Background(), []byte("x"), "image/png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint32(x*2654435761) ^ uint32(y*40503)
			img.Set(x, y, color.RGBA{R: uint8(v), G: uint8(v >> 8), B: uint8(v >> 16), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func stringify(v any) string {
	b, _ := json.Marshal(v)
	var sb strings.Builder
	sb.Write(b)
	return sb.String()
}
