package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gethome/companion/backend/internal/analysis/distress"
)

// Variant identifies which backend a conversation is bound to.
type Variant string

const (
	VariantLive     Variant = "live"
	VariantDegraded Variant = "degraded"
)

// Reply is the companion's answer to one turn.
type Reply struct {
	Text string
	// Degraded is set when the text came from a fallback template instead of the model.
	Degraded bool
	// Emergency is set when the text opens with the emergency marker.
	Emergency bool
}

// Conversation is the send-turn contract shared by the live and degraded backends.
// Send always yields a reply; backend failures are absorbed and logged.
type Conversation interface {
	Send(ctx context.Context, turn string) Reply
	Variant() Variant
}

// Fallback reply templates. %s is the caller's message.
const (
	unconfiguredReplyTemplate = "Hello! I'm your GetHome AI companion. You said: '%s'. I'm here to keep you safe on your journey. How can I help you today?"
	turnFailureReplyTemplate  = "I'm having trouble thinking right now, but I'm still here with you! You said: '%s'. Let me try to help you stay safe on your journey."
	emergencyReassurance      = "Stay calm, I'm right here with you. If you are in immediate danger, move toward a well-lit, busy place and contact emergency services."
)

// templateReply renders a fallback reply. The emergency marker still applies when the
// message itself signals distress, since no model is there to notice it.
func templateReply(template, turn string) Reply {
	text := fmt.Sprintf(template, strings.TrimSpace(turn))

	signal := distress.Detect(turn)
	if signal.Detected() {
		text = EmergencyMarker(signal.Reason) + " " + emergencyReassurance + " " + text
	}

	return Reply{Text: text, Degraded: true, Emergency: signal.Detected()}
}

// degradedConversation answers every turn from the fallback template.
type degradedConversation struct {
	logger *slog.Logger
}

func newDegradedConversation(logger *slog.Logger) *degradedConversation {
	return &degradedConversation{logger: logger}
}

func (c *degradedConversation) Send(_ context.Context, turn string) Reply {
	reply := templateReply(unconfiguredReplyTemplate, turn)
	if reply.Emergency {
		c.logger.Warn("ai: distress detected on degraded backend")
	}
	return reply
}

func (c *degradedConversation) Variant() Variant {
	return VariantDegraded
}
