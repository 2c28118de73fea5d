// Package intent decides whether a question is in scope for the agent.
package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Classifier answers whether text is something the agent should handle.
type Classifier interface {
	IsRelevant(ctx context.Context, text string) (bool, error)
}

const (
	// DefaultModel is a small, fast model; the answer is a single word.
	DefaultModel = "claude-3-5-haiku-latest"

	// DefaultMaxTokens bounds the classifier reply.
	DefaultMaxTokens = 256

	// DefaultTemperature keeps the answer close to deterministic.
	DefaultTemperature = 0.5

	// DefaultPromptTemplate asks for a yes/no answer in Chinese. %s is the text.
	DefaultPromptTemplate = "请判断以下文本是否是关于AWS和软件开发相关的问题\n只需回答\"是\"或\"否\"。\n\n文本: %s"

	// affirmative marks a relevant answer.
	affirmative = "是"
)

// ErrEmptyAnswer is returned when the model replies without text.
var ErrEmptyAnswer = errors.New("classifier returned no text")

// AnthropicConfig configures an AnthropicClassifier.
type AnthropicConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	MaxTokens      int64
	Temperature    float64
	PromptTemplate string
	// MaxRetries overrides the SDK retry count when positive. Zero keeps the
	// SDK default; a negative value disables retries.
	MaxRetries int
}

// AnthropicClassifier asks a hosted Claude model.
type AnthropicClassifier struct {
	client anthropic.Client
	config AnthropicConfig
	logger *slog.Logger
}

// NewAnthropicClassifier creates a classifier. Zero config fields use defaults.
func NewAnthropicClassifier(cfg AnthropicConfig, logger *slog.Logger) (*AnthropicClassifier, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("classifier creation failed: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.PromptTemplate == "" {
		cfg.PromptTemplate = DefaultPromptTemplate
	}
	if !strings.Contains(cfg.PromptTemplate, "%s") {
		return nil, fmt.Errorf("classifier creation failed: prompt template must contain %%s")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	switch {
	case cfg.MaxRetries > 0:
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	case cfg.MaxRetries < 0:
		opts = append(opts, option.WithMaxRetries(0))
	}

	return &AnthropicClassifier{
		client: anthropic.NewClient(opts...),
		config: cfg,
		logger: logger.With(slog.String("component", "intent")),
	}, nil
}

// IsRelevant asks the model and treats any answer containing "是" as relevant.
func (c *AnthropicClassifier) IsRelevant(ctx context.Context, text string) (bool, error) {
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.config.Model),
		MaxTokens:   c.config.MaxTokens,
		Temperature: anthropic.Float(c.config.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(fmt.Sprintf(c.config.PromptTemplate, text))),
		},
	})
	if err != nil {
		return false, fmt.Errorf("anthropic messages call failed: %w", err)
	}

	var answer strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			answer.WriteString(block.Text)
		}
	}
	result := strings.ToLower(strings.TrimSpace(answer.String()))
	if result == "" {
		return false, ErrEmptyAnswer
	}

	c.logger.DebugContext(ctx, "intent classified", slog.String("answer", result))
	return strings.Contains(result, affirmative), nil
}

// Static is a Classifier with a fixed answer.
type Static struct {
	Relevant bool
	Err      error
}

// IsRelevant returns the fixed answer.
func (s Static) IsRelevant(context.Context, string) (bool, error) {
	return s.Relevant, s.Err
}

// Func adapts a function to Classifier.
type Func func(ctx context.Context, text string) (bool, error)

// IsRelevant calls f.
func (f Func) IsRelevant(ctx context.Context, text string) (bool, error) {
	return f(ctx, text)
}
