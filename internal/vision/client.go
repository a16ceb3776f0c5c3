// Package vision uploads files to the remote vision-analysis API and decodes its
// report.
package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/asil/internal/report"
	"go.uber.org/zap"
)

// DefaultMaxResponseBytes bounds the size of a report the client accepts.
const DefaultMaxResponseBytes = 8 << 20

var (
	// ErrUnauthorized is returned when the API rejects the access password.
	ErrUnauthorized = errors.New("vision API rejected the access password")
	// ErrEmptyResponse is returned when the API answers with an empty body.
	ErrEmptyResponse = errors.New("vision API returned an empty report")
	// ErrResponseTooLarge is returned when a report exceeds the response limit.
	ErrResponseTooLarge = errors.New("vision API report exceeds the size limit")
)

// StatusError is returned for unexpected non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("vision API returned status %d: %s", e.StatusCode, e.Body)
}

// Result is a decoded vision report.
type Result struct {
	Sections   report.SectionMap
	Raw        string
	Structured bool
	Duration   time.Duration
}

// Client talks to the vision API upload endpoint.
type Client struct {
	endpoint   string
	password   string
	parser     *report.Parser
	httpClient *http.Client
	logger     *zap.Logger
	maxBody    int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxResponseBytes sets the largest report the client accepts.
func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithParser sets the parser used for text reports.
func WithParser(p *report.Parser) Option {
	return func(c *Client) { c.parser = p }
}

// NewClient returns a client for endpoint. password is the default access
// password, used when a call does not supply its own.
func NewClient(endpoint, password string, timeout time.Duration, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		endpoint:   endpoint,
		password:   password,
		parser:     report.NewParser(nil),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		maxBody:    DefaultMaxResponseBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the configured upload URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Analyze uploads content as fileName and returns the decoded report. A
// non-empty password overrides the client's default.
func (c *Client) Analyze(ctx context.Context, fileName string, content io.Reader, password string) (*Result, error) {
	if password == "" {
		password = c.password
	}
	body, contentType, err := encodeUpload(fileName, content, password)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "text/plain, application/json")

	start := time.Now()
	c.logger.Debug("vision upload", zap.String("file", fileName), zap.Int("bytes", body.Len()))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vision request failed: %w", err)
	}
	defer resp.Body.Close()

	// One byte past the limit tells a truncated report from one that fits.
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read vision response: %w", err)
	}
	elapsed := time.Since(start)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.logger.Warn("vision upload rejected", zap.String("file", fileName), zap.Int("status", resp.StatusCode))
		return nil, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: snippet(data)}
	case int64(len(data)) > c.maxBody:
		c.logger.Warn("vision report too large", zap.String("file", fileName), zap.Int64("limit", c.maxBody))
		return nil, fmt.Errorf("%w (%d bytes)", ErrResponseTooLarge, c.maxBody)
	}

	result, err := c.decode(data)
	if err != nil {
		return nil, err
	}
	result.Duration = elapsed
	c.logger.Info("vision report received",
		zap.String("file", fileName),
		zap.Bool("structured", result.Structured),
		zap.Int("items", result.Sections.Len()),
		zap.Duration("elapsed", elapsed),
	)
	return result, nil
}

func (c *Client) decode(data []byte) (*Result, error) {
	sections, structured, err := c.parser.Decode(data)
	if errors.Is(err, report.ErrEmptyReport) {
		return nil, ErrEmptyResponse
	}
	if err != nil {
		return nil, fmt.Errorf("decode vision report: %w", err)
	}
	return &Result{Sections: sections, Raw: string(data), Structured: structured}, nil
}

func encodeUpload(fileName string, content io.Reader, password string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, "", fmt.Errorf("copy upload: %w", err)
	}
	if err := w.WriteField("password", password); err != nil {
		return nil, "", fmt.Errorf("write password field: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
