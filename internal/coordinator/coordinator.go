package coordinator

import (
	"context"
	"fmt"
	"net"
	"time"

	"connection_coordinator/internal/broadcast"
	"connection_coordinator/internal/domain"
	"connection_coordinator/internal/service"
	"connection_coordinator/internal/transport"
	"connection_coordinator/pkg/logger"
)

// Handler processes one inbound event for an already rate-limited session.
type Handler interface {
	Handle(ctx context.Context, session *domain.Session, data domain.Payload)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, session *domain.Session, data domain.Payload)

func (f HandlerFunc) Handle(ctx context.Context, session *domain.Session, data domain.Payload) {
	f(ctx, session, data)
}

// Coordinator routes inbound events to registered handlers and owns the
// dependency-queue / reply-wait machinery in emit.go.
type Coordinator struct {
	sessions    service.SessionService
	rooms       service.RoomService
	rateLimiter service.RateLimitService
	broadcaster *broadcast.Broadcaster
	hub         *transport.Hub
	log         logger.Logger

	handlers map[string]Handler

	replies *replyTracker
	queue   *dependencyQueue
}

func New(
	sessions service.SessionService,
	rooms service.RoomService,
	rateLimiter service.RateLimitService,
	broadcaster *broadcast.Broadcaster,
	hub *transport.Hub,
	log logger.Logger,
) *Coordinator {
	c := &Coordinator{
		sessions:    sessions,
		rooms:       rooms,
		rateLimiter: rateLimiter,
		broadcaster: broadcaster,
		hub:         hub,
		log:         log,
		handlers:    make(map[string]Handler),
		replies:     newReplyTracker(),
	}
	c.queue = newDependencyQueue(c.deliver)
	return c
}

// Register binds an event name to a handler. Registering the same name twice
// is a wiring error and fails loudly at startup.
func (c *Coordinator) Register(event string, handler Handler) error {
	if _, exists := c.handlers[event]; exists {
		return fmt.Errorf("handler already registered for event %q", event)
	}
	c.handlers[event] = handler
	return nil
}

func (c *Coordinator) MustRegister(event string, handler Handler) {
	if err := c.Register(event, handler); err != nil {
		c.log.Fatal("Handler registration failed", "error", err, "event", event)
	}
}

// Dispatch resolves the session, applies the rate-limit gate and runs the
// handler for one inbound event. Unregistered events fall through to the
// generic handler.
func (c *Coordinator) Dispatch(ctx context.Context, sessionID string, event *domain.Event) {
	session, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		c.log.Warn("Dropping event for unknown session", "session_id", sessionID, "event", event.Name)
		return
	}

	identifiers := map[string]string{
		domain.RateLimitDimensionIP: c.clientIP(sessionID),
	}
	if session.UserID != "" {
		identifiers[domain.RateLimitDimensionUser] = session.UserID
	}
	if session.ClientID != "" {
		identifiers[domain.RateLimitDimensionAPIKey] = session.ClientID
	}

	decision := c.rateLimiter.CheckAndConsume(ctx, identifiers)
	if !decision.Allowed {
		c.broadcaster.ToSession(sessionID, event.Name+"_error", domain.Payload{
			"error":          "rate limit exceeded",
			"exceeded_types": decision.ExceededDimensions(),
			"retry_after":    int(decision.RetryAfter(time.Now()).Seconds()),
		})
		return
	}

	if err := c.sessions.Touch(ctx, sessionID); err != nil {
		c.log.Warn("Failed to touch session", "error", err, "session_id", sessionID)
	}

	if handler, ok := c.handlers[event.Name]; ok {
		handler.Handle(ctx, session, event.Data)
		return
	}

	c.handleGeneric(ctx, session, event)
}

// handleGeneric is the fallthrough for unregistered event names: reply
// acknowledgments are resolved, anything else is echoed back.
func (c *Coordinator) handleGeneric(ctx context.Context, session *domain.Session, event *domain.Event) {
	if id := event.Data.String(domain.CorrelationField); id != "" {
		if c.ReceiveReply(id) {
			return
		}
	}

	c.broadcaster.ToSession(session.SessionID, event.Name+"_response", domain.Payload{
		"event":     event.Name,
		"handled":   false,
		"timestamp": time.Now().Unix(),
	})
}

func (c *Coordinator) clientIP(sessionID string) string {
	client, ok := c.hub.Get(sessionID)
	if !ok {
		return ""
	}
	host, _, err := net.SplitHostPort(client.RemoteAddr())
	if err != nil {
		return client.RemoteAddr()
	}
	return host
}
