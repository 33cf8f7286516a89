package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ayersdecker/gameplan/internal/chat"
	"github.com/ayersdecker/gameplan/internal/keystore"
	"github.com/ayersdecker/gameplan/internal/middleware"
	"github.com/ayersdecker/gameplan/internal/models"
	"github.com/ayersdecker/gameplan/internal/telemetry"
)

// ChatService is the conversation/message surface the handlers depend on.
type ChatService interface {
	CreateConversation(ctx context.Context, userA, userB, nameA, nameB string) (string, error)
	FindConversation(ctx context.Context, userA, userB string) (string, error)
	Summaries(ctx context.Context, userID string) ([]models.ConversationSummary, error)
	SendMessage(ctx context.Context, conversationID, senderID, plaintext, userID string) error
	Messages(ctx context.Context, conversationID, userID string) ([]models.DecryptedMessage, error)
	MarkMessagesAsRead(ctx context.Context, conversationID, userID string) error
}

// ConversationHandler manages the conversation endpoints.
type ConversationHandler struct {
	svc     ChatService
	emitter *telemetry.AuditEmitter
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(svc ChatService, emitter *telemetry.AuditEmitter) *ConversationHandler {
	return &ConversationHandler{svc: svc, emitter: emitter}
}

// ListConversations returns the caller's conversation summaries, most
// recently active first.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID := middleware.UserID(c)

	summaries, err := h.svc.Summaries(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}
	if summaries == nil {
		summaries = []models.ConversationSummary{}
	}

	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// StartConversation returns the existing conversation with the peer or
// creates one, provisioning its key for both participants.
func (h *ConversationHandler) StartConversation(c *gin.Context) {
	var req struct {
		PeerID   string `json:"peer_id" binding:"required"`
		PeerName string `json:"peer_name"`
		SelfName string `json:"self_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.UserID(c)
	if userID == req.PeerID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot chat with yourself"})
		return
	}

	conversationID, err := h.svc.FindConversation(c.Request.Context(), userID, req.PeerID)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"conversation_id": conversationID})
		return
	}
	if !errors.Is(err, chat.ErrConversationNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up conversation"})
		return
	}

	conversationID, err = h.svc.CreateConversation(c.Request.Context(), userID, req.PeerID, req.SelfName, req.PeerName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create conversation"})
		return
	}

	h.emitter.Emit(c.Request.Context(), telemetry.EventConversationCreated, userID, map[string]any{
		"conversation_id": conversationID,
		"peer_id":         req.PeerID,
	})
	c.JSON(http.StatusCreated, gin.H{"conversation_id": conversationID})
}

// GetMessages returns the conversation's decrypted history for the
// caller. Messages that fail authentication are silently absent from the
// result; they are logged and counted server-side instead.
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := middleware.UserID(c)

	msgs, err := h.svc.Messages(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.DecryptedMessage{}
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage encrypts and appends a message to the conversation.
func (h *ConversationHandler) PostMessage(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := middleware.UserID(c)

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.svc.SendMessage(c.Request.Context(), conversationID, userID, req.Content, userID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": "failed to send message, try again"})
		return
	}

	h.emitter.Emit(c.Request.Context(), telemetry.EventMessageSent, userID, map[string]any{
		"conversation_id": conversationID,
	})
	c.Status(http.StatusCreated)
}

// MarkRead flips the read flag on the caller's unread messages and
// resets their unread counter.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := middleware.UserID(c)

	if err := h.svc.MarkMessagesAsRead(c.Request.Context(), conversationID, userID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": "failed to mark messages read"})
		return
	}

	h.emitter.Emit(c.Request.Context(), telemetry.EventMessagesRead, userID, map[string]any{
		"conversation_id": conversationID,
	})
	c.Status(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, keystore.ErrKeyNotFound):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
