// Package enricher sends structured change packets to an external language
// model service and folds the returned narrative back into snapshot metadata.
// Enrichment is strictly best-effort: it runs off the event bus, retries with
// backoff, and never blocks or fails the capture pipeline.
package enricher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/raysh454/spyglass/internal/logging"
)

// ErrEnrichment wraps any enrichment failure; callers log and move on.
var ErrEnrichment = errors.New("enrichment failed")

// Packet is the structured change description sent to the model.
type Packet struct {
	TargetName string `json:"target_name"`
	TargetURL  string `json:"target_url"`

	ChangeType string  `json:"change_type"`
	Severity   string  `json:"severity"`
	Summary    string  `json:"summary,omitempty"`
	Percentage float64 `json:"change_percentage"`

	Sections []PacketSection `json:"sections,omitempty"`
}

// PacketSection is one affected region with short before/after excerpts.
type PacketSection struct {
	Selector   string  `json:"selector"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Before     string  `json:"before,omitempty"`
	After      string  `json:"after,omitempty"`
}

// Enrichment is the model's answer.
type Enrichment struct {
	Summary         string   `json:"summary"`
	Impact          []string `json:"impact,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`

	// Urgency is low, medium or high.
	Urgency string `json:"urgency,omitempty"`

	Insights string `json:"insights,omitempty"`
}

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxRetries  = 3
	defaultBackoffBase = 2 * time.Second
	defaultBackoffCap  = 30 * time.Second
)

// Client posts packets to the enrichment endpoint.
type Client struct {
	endpoint    string
	token       string
	httpClient  *http.Client
	timeout     time.Duration
	maxRetries  int
	backoffBase time.Duration
	backoffCap  time.Duration
	logger      logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds one enrichment call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRetries sets the total attempt count.
func WithRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithBackoff shapes the delay between attempts.
func WithBackoff(base, cap time.Duration) Option {
	return func(c *Client) {
		c.backoffBase = base
		c.backoffCap = cap
	}
}

// WithHTTPClient swaps the transport; tests use it.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// NewClient creates a Client for the given endpoint.
func NewClient(endpoint, token string, logger logging.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("enricher endpoint is required")
	}
	c := &Client{
		endpoint:    endpoint,
		token:       token,
		httpClient:  &http.Client{},
		timeout:     defaultTimeout,
		maxRetries:  defaultMaxRetries,
		backoffBase: defaultBackoffBase,
		backoffCap:  defaultBackoffCap,
		logger:      logging.OrNop(logger).With(logging.F("component", "enricher")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Enrich posts the packet and parses the model's answer. Rate limits and
// server errors are retried with jittered exponential backoff.
func (c *Client) Enrich(ctx context.Context, p Packet) (*Enrichment, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal packet: %v", ErrEnrichment, err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.backoffDelay(attempt - 1)):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrEnrichment, ctx.Err())
			}
		}

		enr, retryable, err := c.post(ctx, body)
		if err == nil {
			return enr, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: max retries exceeded: %v", ErrEnrichment, lastErr)
}

func (c *Client) post(ctx context.Context, body []byte) (enr *Enrichment, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("%w: create request: %v", ErrEnrichment, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrEnrichment, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, true, fmt.Errorf("%w: read response: %v", ErrEnrichment, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("%w: status %d", ErrEnrichment, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, false, fmt.Errorf("%w: status %d", ErrEnrichment, resp.StatusCode)
	}

	enr, err = ParseResponse(raw)
	if err != nil {
		return nil, false, err
	}
	return enr, false, nil
}

// backoffDelay is base*2^attempt capped, plus up to 30% jitter.
func (c *Client) backoffDelay(attempt int) time.Duration {
	baseMs := float64(c.backoffBase.Milliseconds())
	capMs := float64(c.backoffCap.Milliseconds())
	delay := math.Min(baseMs*math.Pow(2, float64(attempt)), capMs)
	jitter := rand.Float64() * baseMs * 0.3
	return time.Duration(delay+jitter) * time.Millisecond
}

// ParseResponse decodes the model output. Strict JSON is tried first; when
// the model wraps its answer in prose, the first balanced brace region is
// extracted and parsed instead.
func ParseResponse(raw []byte) (*Enrichment, error) {
	var enr Enrichment
	if err := json.Unmarshal(bytes.TrimSpace(raw), &enr); err == nil {
		return &enr, nil
	}

	region, ok := firstBraceRegion(string(raw))
	if !ok {
		return nil, fmt.Errorf("%w: response carries no JSON object", ErrEnrichment)
	}
	if err := json.Unmarshal([]byte(region), &enr); err != nil {
		return nil, fmt.Errorf("%w: parse extracted object: %v", ErrEnrichment, err)
	}
	return &enr, nil
}

// firstBraceRegion returns the first balanced {...} region of s, honoring
// string literals and escapes.
func firstBraceRegion(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
