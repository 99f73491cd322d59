// Package pdf delegates document rendering to an external headless-browser
// render service: HTML in, PDF bytes out.
package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNotConfigured signals the render endpoint is not provisioned.
var ErrNotConfigured = errors.New("pdf: render endpoint not configured")

// HTTPRenderer posts HTML to a render endpoint and returns the PDF bytes.
type HTTPRenderer struct {
	endpoint string
	client   *http.Client
}

func NewHTTPRenderer(endpoint string) *HTTPRenderer {
	return &HTTPRenderer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

func (r *HTTPRenderer) Render(ctx context.Context, html string) ([]byte, error) {
	if r.endpoint == "" {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("pdf: build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/html; charset=utf-8")
	req.Header.Set("Accept", "application/pdf")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pdf: render request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("pdf: renderer returned %d: %s", resp.StatusCode, detail)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pdf: read rendered document: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("pdf: renderer returned empty document")
	}
	return data, nil
}
