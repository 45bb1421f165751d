// Package predict sends leaf images to the remote inference service and turns
// whatever JSON it answers with into a types.PredictionResult.
package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/menta2k/leaf-scanner/pkg/types"
)

const (
	DefaultTimeout     = 120 * time.Second
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 2 * time.Second
	DefaultFileField   = "file"
	DefaultCropField   = "crop"

	unknownErrorBody = "Unknown error"
	maxResponseBytes = 4 << 20
)

// Config controls one Client. Zero values are replaced by the defaults above.
type Config struct {
	URL         string
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
	FileField   string
	CropField   string
}

// PredictionRequest is built per call. ContentType is trusted as given.
type PredictionRequest struct {
	Image       []byte
	Filename    string
	ContentType string
	Crop        types.CropType
}

// Client talks to a multipart/form-data prediction endpoint. It keeps no state
// between calls and is safe for concurrent use.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client. Its Timeout should be zero or
// larger than Config.Timeout; deadlines are enforced per attempt via context.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger used for retry warnings
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Client, filling zero Config fields with the defaults
func NewClient(config Config, opts ...Option) (*Client, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("prediction URL is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultRetryDelay
	}
	if config.FileField == "" {
		config.FileField = DefaultFileField
	}
	if config.CropField == "" {
		config.CropField = DefaultCropField
	}

	c := &Client{
		config:     config,
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the effective configuration after defaults were applied
func (c *Client) Config() Config {
	return c.config
}

// Submit diagnoses one image. Timeouts, transport failures and non-2xx replies
// are retried up to MaxAttempts with RetryDelay in between; everything else
// fails on the spot. No partial result is ever returned.
func (c *Client) Submit(ctx context.Context, req PredictionRequest) (*types.PredictionResult, error) {
	if len(req.Image) == 0 {
		return nil, &ValidationError{Reason: "no image file provided"}
	}

	body, contentType, err := c.buildBody(req)
	if err != nil {
		return nil, err
	}

	var (
		result  *types.PredictionResult
		lastErr error
		attempt int
	)
	operation := func() error {
		attempt++
		res, err := c.attempt(ctx, body, contentType)
		if err == nil {
			result = res
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("prediction attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", c.config.MaxAttempts,
			"wait", wait,
			"err", err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.config.RetryDelay), uint64(c.config.MaxAttempts-1)),
		ctx,
	)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, ErrAttemptsExhausted
	}
	if result == nil {
		return nil, ErrAttemptsExhausted
	}
	return result, nil
}

func (c *Client) attempt(ctx context.Context, body []byte, contentType string) (*types.PredictionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &BackendError{StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.transportError(ctx, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &MalformedResponseError{Body: string(data), Err: err}
	}
	if raw == nil {
		return nil, &MalformedResponseError{Body: string(data), Err: errors.New("response is not a JSON object")}
	}
	if msg, ok := raw["error"].(string); ok && strings.TrimSpace(msg) != "" {
		return nil, &BackendError{StatusCode: resp.StatusCode, Body: msg}
	}

	result := Normalize(raw)
	return &result, nil
}

func (c *Client) transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Timeout: c.config.Timeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Timeout: c.config.Timeout, Err: err}
	}
	return &NetworkError{Err: err}
}

// buildBody encodes the multipart payload once so every attempt sends identical bytes.
func (c *Client) buildBody(req PredictionRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	filename := req.Filename
	if filename == "" {
		filename = "leaf"
	}
	partType := req.ContentType
	if partType == "" {
		partType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(c.config.FileField), quoteEscaper.Replace(filename)))
	h.Set("Content-Type", partType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create image part: %w", err)
	}
	if _, err := part.Write(req.Image); err != nil {
		return nil, "", fmt.Errorf("failed to write image part: %w", err)
	}

	// An empty crop sends the image alone and lets the service apply its default
	if req.Crop != "" {
		if err := w.WriteField(c.config.CropField, string(req.Crop)); err != nil {
			return nil, "", fmt.Errorf("failed to write crop field: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish multipart body: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil {
		return unknownErrorBody
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return unknownErrorBody
	}
	return text
}
