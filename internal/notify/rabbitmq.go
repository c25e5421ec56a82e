// Package notify publishes change notifications for the CRM UI layer, which
// subscribes for near-real-time updates. Publishing is best-effort and
// optional: the durable store remains the source of truth.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Change describes one persisted mutation.
type Change struct {
	WorkspaceID string `json:"workspace_id"`
	Entity      string `json:"entity"`
	EntityID    uint   `json:"entity_id"`
	Action      string `json:"action"`
}

// Notifier publishes changes to a RabbitMQ queue. A nil or disabled notifier
// is safe to call.
type Notifier struct {
	channel *amqp091.Channel
	queue   string
	enabled bool
}

// NewNotifier connects to RabbitMQ. An empty URL disables publishing; a
// connection failure also degrades to disabled rather than blocking startup.
func NewNotifier(url, queue string) *Notifier {
	if queue == "" {
		queue = "zapcrm_updates"
	}
	n := &Notifier{queue: queue}
	if url == "" {
		log.Info().Msg("RABBITMQ_URL is not set, change notifications disabled")
		return n
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		log.Error().Err(err).Msg("Could not connect to RabbitMQ, change notifications disabled")
		return n
	}
	channel, err := conn.Channel()
	if err != nil {
		log.Error().Err(err).Msg("Could not open RabbitMQ channel, change notifications disabled")
		return n
	}
	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("Could not declare RabbitMQ queue, change notifications disabled")
		return n
	}

	n.channel = channel
	n.enabled = true
	log.Info().Str("queue", queue).Msg("RabbitMQ connection established")
	return n
}

// Publish sends one change notification. Failures are logged, never
// propagated; notification loss does not corrupt state.
func (n *Notifier) Publish(workspaceID, entity string, entityID uint, action string) {
	if n == nil || !n.enabled {
		return
	}
	body, err := json.Marshal(Change{
		WorkspaceID: workspaceID,
		Entity:      entity,
		EntityID:    entityID,
		Action:      action,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal change notification")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = n.channel.PublishWithContext(ctx, "", n.queue, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	})
	if err != nil {
		log.Error().Err(err).Str("entity", entity).Uint("entityID", entityID).Msg("Failed to publish change notification")
	}
}
