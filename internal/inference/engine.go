// Package inference talks to an external detector that turns a normalized
// (1, 3, S, S) input tensor into a raw output tensor.
package inference

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/KG-NINJA/YOLOdemo/internal/decoder"
)

// ContentType is used for request and response bodies.
const ContentType = "application/x-protobuf"

// maxResponseBytes bounds a response: 8400 candidates x 85 channels fits easily.
const maxResponseBytes = 64 << 20

// HTTPEngine posts tensors to an inference server.
type HTTPEngine struct {
	URL    string
	Client *http.Client
}

// NewHTTPEngine creates an engine for url with a per-request timeout.
func NewHTTPEngine(url string, timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

// Infer runs one inference round trip.
func (e *HTTPEngine) Infer(ctx context.Context, in decoder.Tensor) (decoder.Tensor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(MarshalTensor(in)))
	if err != nil {
		return decoder.Tensor{}, fmt.Errorf("build inference request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("Accept", ContentType)

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return decoder.Tensor{}, fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return decoder.Tensor{}, fmt.Errorf("read inference response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(body) > 200 {
			body = body[:200]
		}
		return decoder.Tensor{}, fmt.Errorf("inference server returned %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	return UnmarshalTensor(body)
}
