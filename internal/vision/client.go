// File: internal/vision/client.go
package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/weiyun0912/webpilot/internal/config"
)

// Request carries one exchange with the vision model. ImagePNG is
// optional; when present it is attached as a data URL content part.
type Request struct {
	System    string
	Prompt    string
	ImagePNG  []byte
	MaxTokens int
}

// Completer is the narrow model surface the agent layers consume.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	ModelName() string
}

// Client talks to any OpenAI compatible chat completions endpoint that
// accepts image_url content parts.
type Client struct {
	api     *openai.Client
	cfg     config.VisionConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient builds a client from the vision section of the configuration.
func NewClient(cfg config.VisionConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("vision API key is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("vision base URL is required")
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = cfg.BaseURL
	apiCfg.HTTPClient = &http.Client{Timeout: cfg.APITimeout}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(cfg.RequestsPerMinute / 60.0)
	}

	return &Client{
		api:     openai.NewClientWithConfig(apiCfg),
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("vision"),
	}, nil
}

// ModelName returns the configured model identifier.
func (c *Client) ModelName() string { return c.cfg.Model }

// Complete sends the request and returns the raw text of the first
// choice. Transient API failures are retried with exponential backoff
// until the configured elapsed budget runs out.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter interrupted: %w", err)
	}

	chatReq := c.buildChatRequest(req)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.cfg.RetryMaxElapsed
	b.MaxInterval = c.cfg.RetryMaxInterval

	var content string
	operation := func() error {
		startTime := time.Now()
		resp, err := c.api.CreateChatCompletion(ctx, chatReq)
		duration := time.Since(startTime)

		if err != nil {
			return c.classifyError(err)
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("vision endpoint returned no choices"))
		}

		c.logger.Debug("Vision completion finished",
			zap.Duration("duration", duration),
			zap.String("model", c.cfg.Model),
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		)

		content = resp.Choices[0].Message.Content
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return content, nil
}

func (c *Client) buildChatRequest(req Request) openai.ChatCompletionRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	if len(req.ImagePNG) > 0 {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{
					Type: openai.ChatMessagePartTypeText,
					Text: req.Prompt,
				},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    encodeImageDataURL(req.ImagePNG),
						Detail: openai.ImageURLDetailAuto,
					},
				},
			},
		})
	} else {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: req.Prompt,
		})
	}

	return openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: c.cfg.Temperature,
	}
}

// classifyError decides whether an API failure is worth retrying.
// Rate limits and server-side errors are transient, everything else is
// permanent.
func (c *Client) classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable:
			c.logger.Warn("Transient vision API error, retrying...",
				zap.Int("status", apiErr.HTTPStatusCode), zap.Error(err))
			return err
		default:
			c.logger.Error("Vision API returned permanent error",
				zap.Int("status", apiErr.HTTPStatusCode), zap.Error(err))
			return backoff.Permanent(err)
		}
	}
	// Transport level failures get retried.
	c.logger.Warn("Network error during vision request, retrying...", zap.Error(err))
	return err
}

func encodeImageDataURL(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
