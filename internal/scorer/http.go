package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"barkwatch/internal/normalizer"
)

// HTTPConfig configures the scoring service client.
type HTTPConfig struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
}

// HTTP uploads recordings to a scoring service and decodes the score matrix.
type HTTP struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewHTTP creates an HTTP scorer.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("scorer URL is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTP{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Score posts the file as multipart form field "file" to <url>/score.
func (h *HTTP) Score(ctx context.Context, path string) (normalizer.ScoreMatrix, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	fw, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return normalizer.ScoreMatrix{}, err
	}
	fd, err := os.Open(path)
	if err != nil {
		return normalizer.ScoreMatrix{}, fmt.Errorf("open audio: %w", err)
	}
	defer fd.Close()

	if _, err = io.Copy(fw, fd); err != nil {
		return normalizer.ScoreMatrix{}, fmt.Errorf("read audio: %w", err)
	}
	if err = w.Close(); err != nil {
		return normalizer.ScoreMatrix{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url+"/score", &b)
	if err != nil {
		return normalizer.ScoreMatrix{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return normalizer.ScoreMatrix{}, fmt.Errorf("score request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return normalizer.ScoreMatrix{}, fmt.Errorf("scorer %s: %s", resp.Status, string(body))
	}

	var out normalizer.ScoreMatrix
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return normalizer.ScoreMatrix{}, fmt.Errorf("scorer decode: %w", err)
	}
	return out, nil
}
