package ws

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/ayersdecker/gameplan/internal/auth"
	"github.com/ayersdecker/gameplan/internal/models"
	"github.com/ayersdecker/gameplan/internal/observability"
)

// InboxWSHandler serves the live conversation-summary feed for a user.
type InboxWSHandler struct {
	svc      SubscriptionService
	verifier auth.Verifier
	logger   zerolog.Logger
}

// NewInboxWSHandler constructs an InboxWSHandler.
func NewInboxWSHandler(svc SubscriptionService, verifier auth.Verifier, logger zerolog.Logger) *InboxWSHandler {
	return &InboxWSHandler{svc: svc, verifier: verifier, logger: logger}
}

// Handle upgrades the connection and streams conversation-summary
// snapshots until the client disconnects.
func (h *InboxWSHandler) Handle(c *gin.Context) {
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

	unsubscribe := h.svc.SubscribeToConversations(context.Background(), userID, func(summaries []models.ConversationSummary) {
		if err := conn.WriteJSON(InboxEvent{Type: "conversations", Conversations: summaries}); err != nil {
			h.logger.Warn().Err(err).Str("conn_id", info.ConnID).Msg("websocket write error")
			observability.IncWSEvent("inbox", "ws_error")
			_ = conn.Close()
		}
	})

	observability.IncWSEvent("inbox", "ws_connect")
	h.logger.Info().
		Str("conn_id", info.ConnID).
		Str("user_id", userID).
		Str("ip", info.IP).
		Msg("inbox feed connected")

	go func() {
		defer func() {
			unsubscribe()
			observability.IncWSEvent("inbox", "ws_disconnect")
			h.logger.Info().
				Str("conn_id", info.ConnID).
				Dur("duration", time.Since(info.ConnectedAt)).
				Msg("inbox feed disconnected")
			_ = conn.Close()
		}()
		for {
			if _, _, err := rawConn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					observability.IncWSEvent("inbox", "ws_error")
				}
				return
			}
		}
	}()
}
