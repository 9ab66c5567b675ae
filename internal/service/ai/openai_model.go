package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sashabaranov/go-openai"

	"github.com/gethome/companion/backend/internal/config"
)

// openAIChatModel adapts the go-openai client to eino's chat model interface so it
// can sit in the same chain as the Ark model.
type openAIChatModel struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

func newOpenAIChatModel(cfg config.AIConfig) (*openAIChatModel, error) {
	if cfg.APIKey == "" || cfg.APIKey == config.PlaceholderAPIKey {
		return nil, ErrModelNotConfigured
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &openAIChatModel{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func (m *openAIChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := model.GetCommonOptions(&model.Options{
		Model:       &m.model,
		Temperature: &m.temperature,
		MaxTokens:   &m.maxTokens,
	}, opts...)

	req := openai.ChatCompletionRequest{
		Model:    m.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(input)),
	}
	if options.Model != nil {
		req.Model = *options.Model
	}
	if options.Temperature != nil {
		req.Temperature = *options.Temperature
	}
	if options.MaxTokens != nil {
		req.MaxTokens = *options.MaxTokens
	}
	for _, msg := range input {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai chat completion returned no choices")
	}

	return schema.AssistantMessage(resp.Choices[0].Message.Content, nil), nil
}

// Stream delivers the full completion as a single chunk.
func (m *openAIChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *openAIChatModel) BindTools(_ []*schema.ToolInfo) error {
	return errors.New("openai chat model: tool calling is not supported")
}
