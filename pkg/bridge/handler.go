package bridge

import (
	"context"

	"github.com/cuemby/meshbroker/pkg/envelope"
	"github.com/cuemby/meshbroker/pkg/events"
)

// EnvelopeHandler satisfies both faststore.Handler and durablestore.Handler:
// it is what the two consumer loops dispatch decoded envelopes to. It has
// no routing decisions to make — it exists purely to surface consumed
// traffic on the public event surface (events.EventRedisMessage /
// events.EventKafkaMessage) for any broker subscriber, per spec §6's event
// catalogue.
type EnvelopeHandler struct {
	broker    *events.Broker
	eventType events.EventType
}

// NewRedisEnvelopeHandler builds the handler passed to faststore's
// StartConsumers.
func NewRedisEnvelopeHandler(broker *events.Broker) *EnvelopeHandler {
	return &EnvelopeHandler{broker: broker, eventType: events.EventRedisMessage}
}

// NewKafkaEnvelopeHandler builds the handler passed to durablestore's
// StartConsumers.
func NewKafkaEnvelopeHandler(broker *events.Broker) *EnvelopeHandler {
	return &EnvelopeHandler{broker: broker, eventType: events.EventKafkaMessage}
}

func (h *EnvelopeHandler) HandleEnvelope(ctx context.Context, env *envelope.Envelope) {
	h.broker.Publish(&events.Event{
		Type:    h.eventType,
		Message: string(env.Type),
		Metadata: map[string]string{
			"workspace_id":   env.Metadata.WorkspaceID,
			"agent_id":       env.Source,
			"correlation_id": env.Metadata.CorrelationID,
		},
	})
}
