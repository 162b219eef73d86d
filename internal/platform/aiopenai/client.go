package aiopenai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared/constant"

	"freshrecipe/internal/platform"
)

const backendName = "openai"

// Config configures the OpenAI client. BaseURL may point at any
// OpenAI-compatible endpoint.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Client sends vision prompts through the openai-go SDK.
type Client struct {
	client openai.Client
	cfg    Config
}

// NewClient creates a new OpenAI client. Extra request options are appended
// after the API key and base URL.
func NewClient(cfg Config, opts ...option.RequestOption) *Client {
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}
	options = append(options, opts...)

	return &Client{
		client: openai.NewClient(options...),
		cfg:    cfg,
	}
}

// Complete sends the prompt and image as a single user message.
func (c *Client) Complete(ctx context.Context, prompt, imageDataURL string) (string, error) {
	contentParts := []openai.ChatCompletionContentPartUnionParam{
		{
			OfText: &openai.ChatCompletionContentPartTextParam{
				Type: constant.Text("text"),
				Text: prompt,
			},
		},
		{
			OfImageURL: &openai.ChatCompletionContentPartImageParam{
				Type: constant.ImageURL("image_url"),
				ImageURL: openai.ChatCompletionContentPartImageImageURLParam{
					URL: imageDataURL,
				},
			},
		},
	}

	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfArrayOfContentParts: contentParts,
					},
				},
			},
		},
		Model:       c.cfg.Model,
		Temperature: openai.Float(c.cfg.Temperature),
	}
	if c.cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.cfg.MaxTokens))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &platform.StatusError{
				Backend:    backendName,
				StatusCode: apiErr.StatusCode,
				Message:    apiErr.Message,
			}
		}
		return "", fmt.Errorf("failed to call openai: %w", err)
	}

	if len(completion.Choices) == 0 {
		return "", platform.ErrMalformedEnvelope
	}
	return completion.Choices[0].Message.Content, nil
}
