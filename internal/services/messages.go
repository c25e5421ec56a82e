package services

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"zapcrm/internal/db"
	"zapcrm/internal/models"
)

// Message statuses mirrored from provider status events.
const (
	MessageReceived  = "received"
	MessageSent      = "sent"
	MessageDelivered = "delivered"
	MessageRead      = "read"
)

// MessageWriter inserts domain messages with insert-or-ignore-on-duplicate
// semantics and keeps the parent conversation's summary fields current.
type MessageWriter struct {
	db *gorm.DB
}

func NewMessageWriter(conn *gorm.DB) *MessageWriter {
	return &MessageWriter{db: conn}
}

// Write inserts the message. A duplicate external id is a benign redelivery:
// inserted is false and no error is returned.
func (w *MessageWriter) Write(m *models.Message) (bool, error) {
	if err := w.db.Create(m).Error; err != nil {
		if db.IsDuplicate(err) {
			log.Debug().
				Str("workspaceID", m.WorkspaceID).
				Str("externalID", deref(m.ExternalID)).
				Msg("Duplicate message insert ignored")
			return false, nil
		}
		return false, fmt.Errorf("failed to insert message: %w", err)
	}
	return true, nil
}

// Touch advances the conversation's last-activity timestamp (monotonically)
// and bumps the unread counter for freshly inserted inbound messages.
func (w *MessageWriter) Touch(conv *models.Conversation, ts time.Time, inbound, inserted bool) error {
	updates := map[string]interface{}{}
	if conv.LastMessageAt == nil || ts.After(*conv.LastMessageAt) {
		updates["last_message_at"] = ts
	}
	if inbound && inserted {
		updates["unread_count"] = gorm.Expr("unread_count + 1")
	}
	if len(updates) == 0 {
		return nil
	}
	if err := w.db.Model(&models.Conversation{}).Where("id = ?", conv.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update conversation summary: %w", err)
	}
	return nil
}

// UpdateStatus performs the targeted status-only mutation for a provider
// status event. It is keyed purely by external id and never creates
// contacts, conversations or messages: a status event arriving before (or
// without) its upsert must not fabricate records. Returns whether a row was
// touched.
func (w *MessageWriter) UpdateStatus(workspaceID string, instanceID uint, externalID, status string) (bool, error) {
	if externalID == "" || status == "" {
		return false, nil
	}
	res := w.db.Model(&models.Message{}).
		Where("workspace_id = ? AND channel_instance_id = ? AND external_id = ?", workspaceID, instanceID, externalID).
		Update("status", status)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update message status: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
