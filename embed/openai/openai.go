// Package openai calls an OpenAI-compatible embeddings endpoint. No client
// library is used: the surface is one POST with a JSON body, and the error
// mapping to the core taxonomy matters more than the transport.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/overx-ai/gentle-man-tg-bot/core"
)

// Config holds connection settings for the embeddings endpoint.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.openai.com/v1".
	BaseURL string
	APIKey  string
	// Model defaults to text-embedding-3-small.
	Model string
	// Dimensions defaults to 1536, the text-embedding-3-small size.
	Dimensions int
	// HTTPClient defaults to a client with a 30s overall timeout.
	HTTPClient *http.Client
}

type Client struct {
	cfg Config
}

// New creates an embeddings client.
func New(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 1536
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{cfg: cfg}
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Input: []string{text}, Model: c.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("encode embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("embed: %w", core.ErrTimeout)
		}
		return nil, fmt.Errorf("embed: %w: %v", core.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("embed: %w", core.ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("embed: %w: status %d", core.ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embed: status %d: %s", resp.StatusCode, msg)
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("embed: empty response data")
	}

	raw := parsed.Data[0].Embedding
	if len(raw) != c.cfg.Dimensions {
		return nil, fmt.Errorf("embed: got %d dimensions, want %d", len(raw), c.cfg.Dimensions)
	}
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (c *Client) Dimensions() int { return c.cfg.Dimensions }
