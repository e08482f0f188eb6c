package reply

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	usagierrors "github.com/usagi-dev/usagi/core/errors"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "claude-sonnet-4-5-20250929"

	// DefaultMaxOutputTokens bounds reply length; companion replies are short.
	DefaultMaxOutputTokens = 512

	systemPrompt = "あなたは子どものおしゃべりともだちのうさぎです。" +
		"やさしい日本語で、みじかく、あかるくこたえてください。" +
		"子どもがいったことばをくりかえして、もっとはなしたくなるしつもんをしてください。"
)

// AnthropicGenerator produces replies with the Anthropic Messages API.
// Transient provider errors and rate limits are retried with tiered backoff.
type AnthropicGenerator struct {
	client          anthropic.Client
	model           string
	maxOutputTokens int64
	retries         *usagierrors.RetryExecutor
}

// AnthropicConfig configures the LLM-backed generator.
type AnthropicConfig struct {
	APIKey          string
	Model           string
	MaxOutputTokens int
}

// NewAnthropicGenerator creates an LLM-backed generator.
func NewAnthropicGenerator(cfg AnthropicConfig) *AnthropicGenerator {
	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	maxTokens := int64(DefaultMaxOutputTokens)
	if cfg.MaxOutputTokens > 0 {
		maxTokens = int64(cfg.MaxOutputTokens)
	}

	return &AnthropicGenerator{
		client:          anthropic.NewClient(opts...),
		model:           model,
		maxOutputTokens: maxTokens,
		retries:         usagierrors.NewRetryExecutor(nil),
	}
}

// Generate implements Generator.
func (g *AnthropicGenerator) Generate(ctx context.Context, window []ContextTurn, childInput string) (string, error) {
	messages := make([]anthropic.MessageParam, 0, len(window)*2+1)
	for _, turn := range window {
		messages = append(messages,
			anthropic.NewUserMessage(anthropic.NewTextBlock(turn.ChildInput)),
			anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Response)),
		)
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(childInput)))

	var text string
	err := g.retries.Execute(ctx, func() error {
		message, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(g.model),
			MaxTokens: g.maxOutputTokens,
			System: []anthropic.TextBlockParam{
				{Text: systemPrompt},
			},
			Messages: messages,
		})
		if err != nil {
			return err
		}

		text = ""
		for _, block := range message.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}
		if text == "" {
			return usagierrors.NewTiered(usagierrors.TierPermanent,
				fmt.Errorf("empty response"))
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	return text, nil
}
