package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Publisher is the event sink the emitter writes to.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Event names emitted by the messaging service. Payloads carry ids only,
// never message plaintext or key material.
const (
	EventConversationCreated = "conversation_created"
	EventMessageSent         = "message_sent"
	EventMessagesRead        = "messages_read"
)

// Envelope is the versioned wrapper every event is published in.
type Envelope struct {
	SchemaVersion int            `json:"schema_version"`
	EventName     string         `json:"event_name"`
	OccurredAt    string         `json:"occurred_at"`
	Service       string         `json:"service"`
	Environment   string         `json:"environment"`
	UserID        string         `json:"user_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// AuditEmitter publishes service events to the configured sink.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	logger      zerolog.Logger
}

// NewAuditEmitter constructs an AuditEmitter.
func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, logger zerolog.Logger) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		logger:      logger,
	}
}

// Emit publishes one event. Failures are logged, never propagated: audit
// is telemetry, not part of the messaging contract.
func (e *AuditEmitter) Emit(ctx context.Context, eventName, userID string, payload map[string]any) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := Envelope{
		SchemaVersion: 1,
		EventName:     eventName,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		UserID:        userID,
		Payload:       payload,
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		e.logger.Warn().Err(err).Str("event", eventName).Msg("audit publish failed")
	}
}
