package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/ayersdecker/gameplan/internal/auth"
	"github.com/ayersdecker/gameplan/internal/models"
	"github.com/ayersdecker/gameplan/internal/observability"
)

// SubscriptionService is the live-subscription surface the websocket
// handlers depend on.
type SubscriptionService interface {
	SubscribeToMessages(ctx context.Context, conversationID, userID string, fn func([]models.DecryptedMessage)) (func(), error)
	SubscribeToConversations(ctx context.Context, userID string, fn func([]models.ConversationSummary)) func()
}

// MessagesEvent is pushed to conversation-feed clients on every change:
// the full ordered decrypted message list, undecryptable messages
// omitted.
type MessagesEvent struct {
	Type     string                    `json:"type"`
	Messages []models.DecryptedMessage `json:"messages"`
}

// InboxEvent is pushed to inbox-feed clients on every change.
type InboxEvent struct {
	Type          string                       `json:"type"`
	Conversations []models.ConversationSummary `json:"conversations"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ConversationWSHandler serves the live decrypted message feed of one
// conversation.
type ConversationWSHandler struct {
	svc      SubscriptionService
	verifier auth.Verifier
	logger   zerolog.Logger
}

// NewConversationWSHandler constructs a ConversationWSHandler.
func NewConversationWSHandler(svc SubscriptionService, verifier auth.Verifier, logger zerolog.Logger) *ConversationWSHandler {
	return &ConversationWSHandler{svc: svc, verifier: verifier, logger: logger}
}

// Handle upgrades the connection and streams message-list snapshots
// until the client disconnects.
func (h *ConversationWSHandler) Handle(c *gin.Context) {
	conversationID := c.Param("conversation_id")

	ctx, span := otel.Tracer("gameplan/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := authenticate(c, h.verifier)
	if !ok {
		return
	}

	rawConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	conn := &safeConn{conn: rawConn}
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}

	// The subscription outlives the HTTP handshake; it ends when the
	// client goes away, not when the request context is canceled.
	unsubscribe, err := h.svc.SubscribeToMessages(context.Background(), conversationID, userID, func(msgs []models.DecryptedMessage) {
		if err := conn.WriteJSON(MessagesEvent{Type: "messages", Messages: msgs}); err != nil {
			h.logger.Warn().Err(err).Str("conn_id", info.ConnID).Msg("websocket write error")
			observability.IncWSEvent("messages", "ws_error")
			_ = conn.Close()
		}
	})
	if err != nil {
		_ = conn.Close()
		return
	}

	observability.IncWSEvent("messages", "ws_connect")
	h.logger.Info().
		Str("conn_id", info.ConnID).
		Str("conversation_id", conversationID).
		Str("user_id", userID).
		Str("ip", info.IP).
		Msg("message feed connected")

	go func() {
		defer func() {
			unsubscribe()
			observability.IncWSEvent("messages", "ws_disconnect")
			h.logger.Info().
				Str("conn_id", info.ConnID).
				Dur("duration", time.Since(info.ConnectedAt)).
				Msg("message feed disconnected")
			_ = conn.Close()
		}()
		for {
			if _, _, err := rawConn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					observability.IncWSEvent("messages", "ws_error")
				}
				return
			}
		}
	}()
}

// authenticate resolves the user from the Authorization header, falling
// back to a token query parameter for browser websocket clients.
func authenticate(c *gin.Context, verifier auth.Verifier) (string, bool) {
	token := c.GetHeader("Authorization")
	if len(token) > 7 && token[:7] == "Bearer " {
		token = token[7:]
	} else {
		token = c.Query("token")
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return "", false
	}

	userID, err := verifier.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return "", false
	}
	return userID, true
}
