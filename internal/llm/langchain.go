package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"

	"github.com/hyperjump/doctalk/internal/config"
	"github.com/hyperjump/doctalk/internal/models"
)

const defaultStreamBuffer = 64

// LangChainClient adapts a langchaingo model to ChatClient.
type LangChainClient struct {
	model       llms.Model
	name        string
	temperature float64
	buffer      int
	logger      *zap.Logger
}

// ClientOption configures a LangChainClient.
type ClientOption func(*LangChainClient)

// WithTemperature sets the sampling temperature sent with every request.
func WithTemperature(t float64) ClientOption {
	return func(c *LangChainClient) { c.temperature = t }
}

// WithStreamBuffer sets the capacity of the fragment channel.
func WithStreamBuffer(n int) ClientOption {
	return func(c *LangChainClient) {
		if n > 0 {
			c.buffer = n
		}
	}
}

// WithLogger sets a logger for request-level debug output.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *LangChainClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewLangChainClient wraps model. name is only used in logs.
func NewLangChainClient(model llms.Model, name string, opts ...ClientOption) *LangChainClient {
	c := &LangChainClient{
		model:  model,
		name:   name,
		buffer: defaultStreamBuffer,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClient builds the client for the configured provider ("ollama" or "openai").
func NewClient(cfg *config.ModelConfig, logger *zap.Logger) (*LangChainClient, error) {
	var (
		model llms.Model
		err   error
	)
	switch strings.ToLower(cfg.Provider) {
	case "", "ollama":
		model, err = ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Name),
		)
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("model.api_key is required for provider %q", cfg.Provider)
		}
		model, err = openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.APIKey, "Bearer ")),
			openai.WithModel(cfg.Name),
		)
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s model: %w", cfg.Provider, err)
	}
	return NewLangChainClient(model, cfg.Name,
		WithTemperature(cfg.TemperatureOrDefault()),
		WithStreamBuffer(cfg.StreamBuffer),
		WithLogger(logger),
	), nil
}

// ChatStream starts generation in the background and returns the fragment channel.
func (c *LangChainClient) ChatStream(ctx context.Context, messages []models.Turn) (<-chan Chunk, error) {
	content, err := toMessageContent(messages)
	if err != nil {
		return nil, err
	}
	ch := make(chan Chunk, c.buffer)
	go func() {
		defer close(ch)
		c.logger.Debug("model request", zap.String("model", c.name), zap.Int("messages", len(content)))
		_, err := c.model.GenerateContent(ctx, content,
			llms.WithTemperature(c.temperature),
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				if len(chunk) == 0 {
					return nil
				}
				select {
				case ch <- Chunk{Content: string(chunk)}:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}),
		)
		if err != nil {
			c.logger.Debug("model request failed", zap.String("model", c.name), zap.Error(err))
			select {
			case ch <- Chunk{Err: fmt.Errorf("%w: %v", ErrModel, err)}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

func toMessageContent(turns []models.Turn) ([]llms.MessageContent, error) {
	out := make([]llms.MessageContent, 0, len(turns))
	for _, t := range turns {
		var role schema.ChatMessageType
		switch t.Role {
		case models.RoleSystem:
			role = schema.ChatMessageTypeSystem
		case models.RoleUser:
			role = schema.ChatMessageTypeHuman
		case models.RoleAssistant:
			role = schema.ChatMessageTypeAI
		default:
			return nil, fmt.Errorf("unsupported role %q", t.Role)
		}
		out = append(out, llms.TextParts(role, t.Content))
	}
	return out, nil
}
