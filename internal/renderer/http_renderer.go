package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/raysh454/spyglass/internal/logging"
)

// maxResponseBytes bounds what we read from the render service; anything past
// the engine's own document cap is wasted work anyway.
const maxResponseBytes = 16 << 20

// HTTPRenderer calls a remote headless-browser service over HTTP. The service
// takes a JSON render request and answers either with a JSON body
// {"html": ..., "title": ...} or with the raw HTML document itself.
type HTTPRenderer struct {
	endpoint string
	token    string
	client   *http.Client
	logger   logging.Logger
}

// NewHTTPRenderer creates an HTTPRenderer. httpClient may be nil; per-request
// deadlines come from ctx, so the default client carries no timeout of its own.
func NewHTTPRenderer(endpoint, token string, httpClient *http.Client, logger logging.Logger) (*HTTPRenderer, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("renderer endpoint is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPRenderer{
		endpoint: endpoint,
		token:    token,
		client:   httpClient,
		logger:   logging.OrNop(logger).With(logging.F("backend", "http")),
	}, nil
}

// Render posts the request to the render service.
func (h *HTTPRenderer) Render(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal render request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create render request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.token)
	}

	h.logger.Debug("rendering page", logging.F("url", req.URL))
	start := time.Now()

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: render service returned status %d", ErrUnavailable, resp.StatusCode)
	}

	res := decodeRenderBody(raw, resp.Header.Get("Content-Type"))
	if strings.TrimSpace(res.HTML) == "" {
		return nil, fmt.Errorf("%w: render service returned an empty document", ErrUnavailable)
	}

	h.logger.Debug("page rendered",
		logging.F("url", req.URL),
		logging.F("bytes", len(res.HTML)),
		logging.F("took", time.Since(start).String()))
	return res, nil
}

// decodeRenderBody accepts both response shapes: a JSON object carrying the
// document under "html", or the raw HTML itself.
func decodeRenderBody(raw []byte, contentType string) *Result {
	trimmed := bytes.TrimSpace(raw)
	looksJSON := strings.Contains(contentType, "application/json") ||
		(len(trimmed) > 0 && trimmed[0] == '{')
	if looksJSON {
		var res Result
		if err := json.Unmarshal(trimmed, &res); err == nil && res.HTML != "" {
			return &res
		}
	}
	return &Result{HTML: string(raw)}
}

// Close is a no-op; the http client holds no long-lived resources here.
func (h *HTTPRenderer) Close() error { return nil }

var _ Renderer = (*HTTPRenderer)(nil)
