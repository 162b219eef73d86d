package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"

	"freshrecipe/internal/imagedata"
	"freshrecipe/internal/platform"
)

const (
	defaultModel = "gemini-1.5-flash"
	backendName  = "gemini"
)

// Config configures the Gemini client.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// generator is the part of *genai.GenerativeModel the client uses.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Client is a client for the Gemini API.
type Client struct {
	client *genai.Client
	model  generator
}

// NewClient creates a new Gemini client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	name := cfg.Model
	if name == "" {
		name = defaultModel
	}
	model := client.GenerativeModel(name)
	model.SetTemperature(float32(cfg.Temperature))
	if cfg.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(cfg.MaxTokens))
	}

	return &Client{client: client, model: model}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Complete sends the image and prompt and returns the first candidate's text.
func (c *Client) Complete(ctx context.Context, prompt, imageDataURL string) (string, error) {
	mimeType, data, err := imagedata.Parse(imageDataURL)
	if err != nil {
		return "", fmt.Errorf("failed to decode image for gemini: %w", err)
	}

	resp, err := c.model.GenerateContent(ctx,
		genai.ImageData(strings.TrimPrefix(mimeType, "image/"), data),
		genai.Text(prompt),
	)
	if err != nil {
		return "", convertError(err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", platform.ErrMalformedEnvelope
	}

	var sb strings.Builder
	found := false
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
			found = true
		}
	}
	if !found {
		return "", platform.ErrMalformedEnvelope
	}
	return sb.String(), nil
}

// convertError turns an API error into a *platform.StatusError so callers can
// classify it without knowing about gRPC.
func convertError(err error) error {
	var apiErr *apierror.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("failed to call gemini: %w", err)
	}

	statusErr := &platform.StatusError{Backend: backendName, StatusCode: apiErr.HTTPCode()}
	if st := apiErr.GRPCStatus(); st != nil {
		statusErr.Message = st.Message()
		if statusErr.StatusCode <= 0 {
			statusErr.StatusCode = httpStatusFromCode(st.Code())
		}
	}
	if statusErr.StatusCode <= 0 {
		statusErr.StatusCode = http.StatusBadGateway
	}
	if statusErr.Message == "" {
		statusErr.Message = apiErr.Error()
	}
	return statusErr
}

func httpStatusFromCode(code codes.Code) int {
	switch code {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
