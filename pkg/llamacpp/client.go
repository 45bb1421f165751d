package llamacpp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/menta2k/leaf-scanner/pkg/client"
	"github.com/menta2k/leaf-scanner/pkg/detection"
	"github.com/menta2k/leaf-scanner/pkg/predict"
	"github.com/menta2k/leaf-scanner/pkg/types"
)

const DefaultTimeout = 300 * time.Second

var _ client.Predictor = (*Client)(nil)

// Client diagnoses leaves with a vision model behind a llama.cpp server
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	timeout    time.Duration
}

// OpenAI-compatible message format
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // Can be string or []ContentPart
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// OpenAI-compatible chat completion request
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

// OpenAI-compatible chat completion response
type ChatCompletionResponse struct {
	Choices []Choice `json:"choices"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// NewClient creates a llama.cpp client. httpClient may be nil.
func NewClient(serverURL, model string, httpClient *http.Client) (*Client, error) {
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q needs a scheme and host", serverURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(serverURL, "/"),
		model:      model,
		httpClient: httpClient,
		timeout:    DefaultTimeout,
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

	mediaType := req.ContentType
	if mediaType == "" {
		mediaType = "image/jpeg"
	}

	chatReq := ChatCompletionRequest{
		Model: c.model,
		Messages: []Message{
			{
				Role: "user",
				Content: []ContentPart{
					{Type: "text", Text: detection.Prompt(req.Crop)},
					{Type: "image_url", ImageURL: &ImageURL{
						URL: "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(req.Image),
					}},
				},
			},
		},
		Temperature: 0.1,
		MaxTokens:   512,
		Stream:      false,
	}

	respBody, err := c.sendRequest(ctx, "/v1/chat/completions", chatReq)
	if err != nil {
		return nil, err
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &predict.MalformedResponseError{Body: string(respBody), Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &predict.MalformedResponseError{Body: string(respBody), Err: errors.New("no choices in response")}
	}

	return detection.Diagnose(messageText(resp.Choices[0].Message))
}

// messageText extracts text from the response (handles both string and array formats)
func messageText(m Message) string {
	switch content := m.Content.(type) {
	case string:
		return content
	case []interface{}:
		for _, item := range content {
			if partMap, ok := item.(map[string]interface{}); ok {
				if text, ok := partMap["text"].(string); ok && text != "" {
					return text
				}
			}
		}
	}
	return ""
}

func (c *Client) sendRequest(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &predict.BackendError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return body, nil
}

func (c *Client) transportError(ctx context.Context, err error) error {
	var netErr net.Error
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &predict.TimeoutError{Timeout: c.timeout, Err: err}
	}
	return &predict.NetworkError{Err: err}
}
