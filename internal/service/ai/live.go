package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// historyLimit caps how many prior turn messages accompany the system prompt.
const historyLimit = 20

// liveConversation runs each turn through a compiled chat chain and keeps the
// transcript in memory. It is not safe for concurrent use; the owning session
// serializes turns.
type liveConversation struct {
	chain      compose.Runnable[map[string]any, *schema.Message]
	transcript []*schema.Message
	timeout    time.Duration
	logger     *slog.Logger
}

func newLiveConversation(ctx context.Context, chatModel model.ChatModel, systemPrompt string, timeout time.Duration, logger *slog.Logger) (*liveConversation, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.MessagesPlaceholder("transcript", false),
		schema.UserMessage("{turn}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &liveConversation{
		chain:      runnable,
		transcript: []*schema.Message{schema.SystemMessage(systemPrompt)},
		timeout:    timeout,
		logger:     logger,
	}, nil
}

// Send asks the model for a reply. A failed turn is answered from the fallback
// template and left out of the transcript; the conversation stays live.
func (c *liveConversation) Send(ctx context.Context, turn string) Reply {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	response, err := c.chain.Invoke(ctx, map[string]any{
		"transcript": c.window(),
		"turn":       turn,
	})
	if err == nil && (response == nil || strings.TrimSpace(response.Content) == "") {
		err = fmt.Errorf("model returned an empty reply")
	}
	if err != nil {
		c.logger.Error("ai: live turn failed, answering from fallback template",
			"error", err,
			"elapsed", time.Since(started).Round(time.Millisecond),
		)
		return templateReply(turnFailureReplyTemplate, turn)
	}

	c.transcript = append(c.transcript,
		schema.UserMessage(turn),
		schema.AssistantMessage(response.Content, nil),
	)

	c.logger.Debug("ai: live turn completed",
		"length", len(response.Content),
		"transcript", len(c.transcript),
		"elapsed", time.Since(started).Round(time.Millisecond),
	)
	return Reply{Text: response.Content, Emergency: IsEmergency(response.Content)}
}

func (c *liveConversation) Variant() Variant {
	return VariantLive
}

// window returns the system prompt followed by the most recent turns.
func (c *liveConversation) window() []*schema.Message {
	history := c.transcript[1:]
	if len(history) <= historyLimit {
		return c.transcript
	}

	windowed := make([]*schema.Message, 0, historyLimit+1)
	windowed = append(windowed, c.transcript[0])
	return append(windowed, history[len(history)-historyLimit:]...)
}
