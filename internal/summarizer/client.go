// Package summarizer calls the summarization backend that turns a YouTube
// video into summary text. Quota is consumed before this call and a failed
// call does not refund it.
package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/clipbrief/clipbrief/internal/config"
)

// ErrBackendUnavailable wraps transport-level failures so callers can
// distinguish them from a backend that answered with an error payload.
var ErrBackendUnavailable = errors.New("summarizer_unavailable")

type SummarizeRequest struct {
	URL     string         `json:"url"`
	Options map[string]any `json:"options,omitempty"`
}

type SummarizeResponse struct {
	VideoID      string   `json:"video_id"`
	VideoURL     string   `json:"video_url"`
	VideoTitle   string   `json:"video_title"`
	ChannelName  string   `json:"channel_name"`
	ThumbnailURL string   `json:"thumbnail_url"`
	Duration     int      `json:"duration"`
	Summary      string   `json:"summary"`
	KeyPoints    []string `json:"key_points"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.SummarizerBaseURL, "/"),
		client:  &http.Client{Timeout: cfg.SummarizerTimeout},
	}
}

// Summarize requests a summary for the given video URL. Blocks until the
// backend finishes or the configured timeout expires.
func (c *Client) Summarize(ctx context.Context, videoURL string) (*SummarizeResponse, error) {
	payload, err := json.Marshal(SummarizeRequest{URL: videoURL})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/summarize", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var backendErr errorResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&backendErr); err != nil || backendErr.Detail == "" {
			return nil, fmt.Errorf("summarizer returned status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("summarizer returned status %d: %s", resp.StatusCode, backendErr.Detail)
	}

	var out SummarizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode summarizer response: %w", err)
	}
	return &out, nil
}
