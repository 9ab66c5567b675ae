package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/gethome/companion/backend/internal/config"
)

// ErrModelNotConfigured is reported when no usable model credential is present.
var ErrModelNotConfigured = errors.New("model credential not configured")

const defaultTurnTimeout = 30 * time.Second

// ModelBuilder creates the chat model backing one live conversation.
type ModelBuilder func(ctx context.Context) (model.ChatModel, error)

// Factory builds the conversation backend for each new session.
type Factory struct {
	cfg      config.AIConfig
	newModel ModelBuilder
	logger   *slog.Logger
}

// Option customises a Factory.
type Option func(*Factory)

// WithModelBuilder replaces the provider-based model construction.
func WithModelBuilder(builder ModelBuilder) Option {
	return func(f *Factory) {
		f.newModel = builder
	}
}

// NewFactory creates a Factory for the configured provider.
func NewFactory(cfg config.AIConfig, logger *slog.Logger, opts ...Option) *Factory {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTurnTimeout
	}

	f := &Factory{cfg: cfg, logger: logger}
	f.newModel = func(ctx context.Context) (model.ChatModel, error) {
		return NewChatModel(ctx, f.cfg)
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// LiveEnabled reports whether sessions will attempt the live backend at all.
func (f *Factory) LiveEnabled() bool {
	return f.cfg.Enabled()
}

// New returns the conversation for a session seeded with systemPrompt. A missing or
// placeholder credential selects the degraded backend without touching the network;
// any construction failure does the same for the lifetime of the session.
func (f *Factory) New(ctx context.Context, systemPrompt string) Conversation {
	if !f.cfg.Enabled() {
		f.logger.Warn("ai: model credential not configured, using degraded backend",
			"provider", f.cfg.Provider,
		)
		return newDegradedConversation(f.logger)
	}

	chatModel, err := f.newModel(ctx)
	if err != nil {
		f.logger.Warn("ai: failed to create chat model, using degraded backend",
			"provider", f.cfg.Provider,
			"error", err,
		)
		return newDegradedConversation(f.logger)
	}

	conv, err := newLiveConversation(ctx, chatModel, systemPrompt, f.cfg.Timeout, f.logger)
	if err != nil {
		f.logger.Warn("ai: failed to build live conversation, using degraded backend",
			"provider", f.cfg.Provider,
			"error", err,
		)
		return newDegradedConversation(f.logger)
	}

	return conv
}

// NewChatModel 使用配置创建一个模型实例。
func NewChatModel(ctx context.Context, cfg config.AIConfig) (model.ChatModel, error) {
	if !cfg.Enabled() {
		return nil, ErrModelNotConfigured
	}

	switch cfg.Provider {
	case config.ProviderOpenAI:
		m, err := newOpenAIChatModel(cfg)
		if err != nil {
			return nil, err
		}
		return m, nil
	case config.ProviderArk:
		temperature := float32(cfg.Temperature)
		maxTokens := cfg.MaxTokens

		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     cfg.BaseURL,
			Region:      cfg.Region,
			APIKey:      cfg.APIKey,
			AccessKey:   cfg.AccessKey,
			SecretKey:   cfg.SecretKey,
			Model:       cfg.Model,
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
		})
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}
