package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/leaf-scanner/pkg/client"
	"github.com/menta2k/leaf-scanner/pkg/detection"
	"github.com/menta2k/leaf-scanner/pkg/predict"
	"github.com/menta2k/leaf-scanner/pkg/types"
)

const DefaultTimeout = 300 * time.Second

var _ client.Predictor = (*Client)(nil)

// Client diagnoses leaves with a local Ollama vision model
type Client struct {
	client  *api.Client
	model   string
	timeout time.Duration
}

// NewClient creates a new Ollama client. httpClient may be nil.
func NewClient(ollamaURL, model string, httpClient *http.Client) (*Client, error) {
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q needs a scheme and host", ollamaURL)
	}
	if model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	// Strip any path like /api/chat, the SDK appends its own
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	return &Client{
		client:  api.NewClient(baseURL, httpClient),
		model:   model,
		timeout: DefaultTimeout,
	}, nil
}

// SetTimeout changes the deadline applied when the caller's context has none
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Submit asks the model for a diagnosis of req.Image
func (c *Client) Submit(ctx context.Context, req predict.PredictionRequest) (*types.PredictionResult, error) {
	if len(req.Image) == 0 {
		return nil, &predict.ValidationError{Reason: "no image file provided"}
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	streamFalse := false
	chatReq := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: detection.Prompt(req.Crop),
				Images:  []api.ImageData{api.ImageData(req.Image)},
			},
		},
		Stream: &streamFalse,
		Format: json.RawMessage(`"json"`),
		Options: map[string]any{
			"temperature": 0.1,
		},
	}

	var content strings.Builder
	err := c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return nil, c.chatError(ctx, err)
	}

	return detection.Diagnose(content.String())
}

func (c *Client) chatError(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return &predict.TimeoutError{Timeout: c.timeout, Err: err}
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		body := statusErr.ErrorMessage
		if body == "" {
			body = statusErr.Status
		}
		return &predict.BackendError{StatusCode: statusErr.StatusCode, Body: body}
	}
	return &predict.NetworkError{Err: err}
}
