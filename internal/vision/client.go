// internal/vision/client.go
package vision

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"mcp-meal-vision/internal/failure"
	"mcp-meal-vision/internal/photo"
)

const (
	DefaultModel     = "gpt-4o-mini"
	DefaultTimeout   = 60 * time.Second
	DefaultMaxTokens = 1000
)

// Credentials are read from the settings store on every attempt.
type Credentials struct {
	APIKey   string
	Endpoint string
	Model    string
}

type CredentialsProvider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// StaticCredentials always returns the same values.
type StaticCredentials Credentials

func (s StaticCredentials) Credentials(context.Context) (Credentials, error) {
	return Credentials(s), nil
}

// PhotoLoader turns a photo reference into an encoded image.
type PhotoLoader interface {
	Load(ctx context.Context, ref string) (photo.Encoded, error)
}

type Options struct {
	// Timeout bounds a single request, independent of the caller's deadline.
	Timeout           time.Duration
	MaxTokens         int
	Temperature       float32
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
	Logger            *log.Logger
}

type Client struct {
	creds   CredentialsProvider
	photos  PhotoLoader
	limiter *rate.Limiter
	doer    *headerDoer
	opts    Options
	logger  *log.Logger
}

func NewClient(creds CredentialsProvider, photos PhotoLoader, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Client{
		creds:   creds,
		photos:  photos,
		limiter: limiter,
		doer:    &headerDoer{client: opts.HTTPClient},
		opts:    opts,
		logger:  opts.Logger.WithPrefix("vision"),
	}
}

// Analyze runs one request for photoRef. Errors are raw failures meant for
// failure.Classify.
func (c *Client) Analyze(ctx context.Context, photoRef string) (Outcome, error) {
	creds, err := c.creds.Credentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	if strings.TrimSpace(creds.APIKey) == "" {
		return nil, &failure.CredentialMissingError{Credential: "api_key"}
	}
	if creds.Model == "" {
		creds.Model = DefaultModel
	}

	img, err := c.photos.Load(ctx, photoRef)
	if err != nil {
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("failed to wait for request slot: %w", err)
		}
	}

	resp, err := c.send(ctx, creds, img)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("analysis response",
		"response_id", resp.ID,
		"status", resp.Status,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)

	return ParseOutput(resp.OutputText)
}

func (c *Client) send(ctx context.Context, creds Credentials, img photo.Encoded) (Response, error) {
	cfg := openai.DefaultConfig(creds.APIKey)
	if creds.Endpoint != "" {
		cfg.BaseURL = strings.TrimRight(creds.Endpoint, "/")
	}
	cfg.HTTPClient = c.doer
	api := openai.NewClientWithConfig(cfg)

	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	attemptCtx, meta := withResponseMeta(attemptCtx)

	schema := outputSchema()
	completion, err := api.CreateChatCompletion(attemptCtx, openai.ChatCompletionRequest{
		Model:       creds.Model,
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemInstruction,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: userInstruction,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    img.DataURL,
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   schemaName,
				Schema: &schema,
				Strict: true,
			},
		},
	})
	if err != nil {
		retryAfter, requestID := meta.get()
		if code := statusCode(err); code != 0 {
			c.logger.Warn("analysis request rejected", "status", code, "request_id", requestID, "err", err)
			return Response{}, &failure.StatusError{Code: code, RetryAfter: retryAfter, Err: err}
		}
		c.logger.Warn("analysis request failed", "request_id", requestID, "err", err)
		return Response{}, fmt.Errorf("failed to call vision api: %w", err)
	}

	if len(completion.Choices) == 0 {
		return Response{}, &failure.ParseFailure{Reason: "response has no choices"}
	}
	choice := completion.Choices[0]
	if choice.Message.Refusal != "" {
		c.logger.Warn("model refused analysis", "response_id", completion.ID)
		return Response{}, &failure.ParseFailure{Reason: "model refused to answer"}
	}

	return Response{
		ID:         completion.ID,
		Status:     string(choice.FinishReason),
		OutputText: choice.Message.Content,
		Usage: Usage{
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
			TotalTokens:  completion.Usage.TotalTokens,
		},
	}, nil
}

// statusCode extracts the HTTP status from the API client's error types.
func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
