package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gethome/companion/backend/internal/auth"
	chatmodel "github.com/gethome/companion/backend/internal/model/chat"
	"github.com/gethome/companion/backend/internal/model/profile"
	"github.com/gethome/companion/backend/internal/observability"
	"github.com/gethome/companion/backend/internal/service/ai"
)

// ErrEmptyMessage is returned for a turn with no text.
var ErrEmptyMessage = errors.New("message is required")

// TokenValidator resolves a bearer credential to an identity.
type TokenValidator interface {
	Validate(credential string) (auth.Identity, error)
}

// ProfileFetcher loads the preferences of the user behind a credential.
type ProfileFetcher interface {
	Fetch(ctx context.Context, credential string, identity auth.Identity) (profile.Profile, error)
}

// ConversationFactory binds a new conversation to a system prompt.
type ConversationFactory interface {
	New(ctx context.Context, systemPrompt string) ai.Conversation
}

// Gateway ties authentication, profile lookup and the conversation backend to the
// session registry.
type Gateway struct {
	validator     TokenValidator
	profiles      ProfileFetcher
	conversations ConversationFactory
	registry      *Registry

	now     func() time.Time
	metrics *observability.Metrics
	logger  *slog.Logger
}

// GatewayOption customises a Gateway.
type GatewayOption func(*Gateway)

// WithGatewayClock replaces the clock used for prompts and reply timestamps.
func WithGatewayClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// WithMetrics records gateway activity on m.
func WithMetrics(m *observability.Metrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

// WithLogger sets the gateway logger.
func WithLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGateway assembles a gateway from its collaborators.
func NewGateway(validator TokenValidator, profiles ProfileFetcher, conversations ConversationFactory, registry *Registry, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		validator:     validator,
		profiles:      profiles,
		conversations: conversations,
		registry:      registry,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authenticate validates credential and returns the caller's principal.
func (g *Gateway) Authenticate(credential string) (auth.Principal, error) {
	identity, err := g.validator.Validate(credential)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, auth.ErrMissingSubject) {
			reason = "missing_subject"
		}
		g.metrics.AuthFailure(reason)
		g.logger.Debug("chat: credential rejected", "reason", reason)
		return auth.Principal{}, err
	}
	return auth.Principal{Identity: identity, Credential: credential}, nil
}

// OpenSession creates a session for principal and returns its id. A profile
// service outage falls back to the default profile, and an unavailable model
// falls back to the degraded backend; neither fails the call.
func (g *Gateway) OpenSession(ctx context.Context, principal auth.Principal) (string, error) {
	if principal.Identity == "" {
		return "", auth.ErrMissingSubject
	}

	p, err := g.profiles.Fetch(ctx, principal.Credential, principal.Identity)
	if err != nil {
		g.logger.Warn("chat: using default profile", "user_id", principal.Identity, "error", err)
		g.metrics.ProfileFallback()
		p = profile.Default()
	}

	prompt := ai.SynthesizePrompt(p, g.now())
	session := g.registry.Create(principal.Identity, g.conversations.New(ctx, prompt))
	g.metrics.SessionOpened(string(session.Variant()))

	g.logger.Info("chat: session opened",
		"session_id", session.ID,
		"user_id", principal.Identity,
		"backend", session.Variant(),
	)
	return session.ID, nil
}

// SendMessage runs one turn on a session owned by principal. Ownership is checked
// before the message itself.
func (g *Gateway) SendMessage(ctx context.Context, principal auth.Principal, sessionID, message string) (chatmodel.Reply, error) {
	session, err := g.registry.Get(sessionID, principal.Identity)
	if err != nil {
		return chatmodel.Reply{}, err
	}

	if strings.TrimSpace(message) == "" {
		return chatmodel.Reply{}, ErrEmptyMessage
	}

	reply, err := session.Send(ctx, message)
	if err != nil {
		return chatmodel.Reply{}, err
	}
	g.metrics.ReplySent(reply.Degraded, reply.Emergency)

	if reply.Emergency {
		g.logger.Warn("chat: emergency reply", "session_id", sessionID, "user_id", principal.Identity)
	}

	return chatmodel.Reply{
		Reply:     reply.Text,
		Timestamp: g.now(),
		Emergency: reply.Emergency,
	}, nil
}

// CheckSession reports ErrSessionNotFound unless principal owns sessionID.
func (g *Gateway) CheckSession(principal auth.Principal, sessionID string) error {
	_, err := g.registry.Get(sessionID, principal.Identity)
	return err
}

// CloseSession discards a session owned by principal.
func (g *Gateway) CloseSession(_ context.Context, principal auth.Principal, sessionID string) error {
	if err := g.registry.Destroy(sessionID, principal.Identity); err != nil {
		return err
	}
	g.metrics.SessionClosed("closed", 1)
	g.logger.Info("chat: session closed", "session_id", sessionID, "user_id", principal.Identity)
	return nil
}

// RunJanitor drops sessions idle for longer than ttl every interval until ctx is
// done. A non-positive ttl disables expiry.
func (g *Gateway) RunJanitor(ctx context.Context, interval, ttl time.Duration) {
	if ttl <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	g.logger.Info("chat: session janitor started", "interval", interval, "ttl", ttl)
	for {
		select {
		case <-ctx.Done():
			g.logger.Info("chat: session janitor stopped")
			return
		case <-ticker.C:
			g.ExpireIdle(ttl)
		}
	}
}

// ExpireIdle removes sessions idle for longer than ttl and returns the count.
func (g *Gateway) ExpireIdle(ttl time.Duration) int {
	n := g.registry.Sweep(g.now().Add(-ttl))
	if n > 0 {
		g.metrics.SessionClosed("idle", n)
		g.logger.Info("chat: expired idle sessions", "count", n)
	}
	return n
}
