package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/liushuangls/go-anthropic/v2"

	"freshrecipe/internal/imagedata"
	"freshrecipe/internal/platform"
)

const (
	defaultModel     = "claude-3-5-sonnet-latest"
	defaultMaxTokens = 1024
	backendName      = "anthropic"
)

// Config configures the Anthropic client.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Client sends vision prompts to the Anthropic Messages API.
type Client struct {
	client *anthropic.Client
	cfg    Config
}

// NewClient creates a new Anthropic client.
func NewClient(cfg Config) *Client {
	var opts []anthropic.ClientOption
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &Client{
		client: anthropic.NewClient(cfg.APIKey, opts...),
		cfg:    cfg,
	}
}

// Complete sends the image as a base64 block followed by the prompt.
func (c *Client) Complete(ctx context.Context, prompt, imageDataURL string) (string, error) {
	mimeType, data, err := imagedata.Parse(imageDataURL)
	if err != nil {
		return "", fmt.Errorf("failed to decode image for anthropic: %w", err)
	}

	temperature := float32(c.cfg.Temperature)
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model: anthropic.Model(c.cfg.Model),
		Messages: []anthropic.Message{
			{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewImageMessageContent(anthropic.NewMessageContentSource(
						anthropic.MessagesContentSourceTypeBase64,
						mimeType,
						base64.StdEncoding.EncodeToString(data),
					)),
					anthropic.NewTextMessageContent(prompt),
				},
			},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return "", convertError(err)
	}

	for _, content := range resp.Content {
		if content.Type == anthropic.MessagesContentTypeText {
			return content.GetText(), nil
		}
	}
	return "", platform.ErrMalformedEnvelope
}

// apiErrorStatus maps Anthropic error types to the HTTP status the API uses
// for them. The library reports the type but not the status.
var apiErrorStatus = map[string]int{
	"invalid_request_error": http.StatusBadRequest,
	"authentication_error":  http.StatusUnauthorized,
	"permission_error":      http.StatusForbidden,
	"not_found_error":       http.StatusNotFound,
	"request_too_large":     http.StatusRequestEntityTooLarge,
	"rate_limit_error":      http.StatusTooManyRequests,
	"api_error":             http.StatusInternalServerError,
	"overloaded_error":      529,
}

func convertError(err error) error {
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		code, ok := apiErrorStatus[string(apiErr.Type)]
		if !ok {
			code = http.StatusBadGateway
		}
		return &platform.StatusError{Backend: backendName, StatusCode: code, Message: apiErr.Message}
	}

	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) {
		return &platform.StatusError{Backend: backendName, StatusCode: reqErr.StatusCode, Message: string(reqErr.Body)}
	}

	return fmt.Errorf("failed to call anthropic: %w", err)
}
