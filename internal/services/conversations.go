package services

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"zapcrm/internal/db"
	"zapcrm/internal/models"
)

// ConversationResolver maps a conversation identity (including alternate
// aliases) to a durable conversation record. The alias table guarantees that
// a thread reachable under two provider-side identifiers resolves to one row.
type ConversationResolver struct {
	db *gorm.DB
}

func NewConversationResolver(conn *gorm.DB) *ConversationResolver {
	return &ConversationResolver{db: conn}
}

// Resolve returns the conversation for the primary remote identifier,
// creating it if needed. Resolution order: exact match on the primary id,
// alias-table match, then (non-group only) a legacy fallback by contact and
// channel. Any supplied alternate identifier is registered as a non-primary
// alias in all paths.
func (r *ConversationResolver) Resolve(workspaceID string, contactID, instanceID uint, primaryID, altID string, isGroup bool) (*models.Conversation, error) {
	conv, err := r.resolve(workspaceID, contactID, instanceID, primaryID, isGroup)
	if err != nil {
		return nil, err
	}
	if altID != "" && altID != primaryID {
		if err := r.registerAlias(workspaceID, instanceID, conv.ID, altID, false); err != nil {
			return nil, err
		}
	}
	return conv, nil
}

func (r *ConversationResolver) resolve(workspaceID string, contactID, instanceID uint, primaryID string, isGroup bool) (*models.Conversation, error) {
	// (a) Exact match on the primary identifier.
	var conv models.Conversation
	err := r.db.Where("workspace_id = ? AND channel_instance_id = ? AND remote_id = ?", workspaceID, instanceID, primaryID).First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !db.IsNotFound(err) {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}

	// (b) Alias table.
	var alias models.ConversationAlias
	err = r.db.Where("workspace_id = ? AND channel_instance_id = ? AND alias = ?", workspaceID, instanceID, primaryID).First(&alias).Error
	if err == nil {
		if err := r.db.First(&conv, alias.ConversationID).Error; err != nil {
			return nil, fmt.Errorf("alias %q points at missing conversation %d: %w", primaryID, alias.ConversationID, err)
		}
		return &conv, nil
	}
	if !db.IsNotFound(err) {
		return nil, fmt.Errorf("failed to query conversation alias: %w", err)
	}

	// (c) Legacy linkage: non-group conversations created before identifier
	// tracking existed are matched by contact and channel, and their missing
	// identifier is backfilled.
	if !isGroup {
		err = r.db.Where("workspace_id = ? AND channel_instance_id = ? AND contact_id = ? AND is_group = ?", workspaceID, instanceID, contactID, false).First(&conv).Error
		if err == nil {
			if conv.RemoteID == nil {
				if err := r.db.Model(&models.Conversation{}).Where("id = ?", conv.ID).Update("remote_id", primaryID).Error; err != nil && !db.IsDuplicate(err) {
					return nil, fmt.Errorf("failed to backfill conversation identifier: %w", err)
				}
				conv.RemoteID = &primaryID
				if err := r.registerAlias(workspaceID, instanceID, conv.ID, primaryID, true); err != nil {
					return nil, err
				}
				log.Info().Uint("conversationID", conv.ID).Str("remoteID", primaryID).Msg("Backfilled legacy conversation identifier")
			}
			return &conv, nil
		}
		if !db.IsNotFound(err) {
			return nil, fmt.Errorf("failed legacy conversation lookup: %w", err)
		}
	}

	return r.create(workspaceID, contactID, instanceID, primaryID, isGroup)
}

func (r *ConversationResolver) create(workspaceID string, contactID, instanceID uint, primaryID string, isGroup bool) (*models.Conversation, error) {
	conv := models.Conversation{
		WorkspaceID:       workspaceID,
		ChannelInstanceID: instanceID,
		RemoteID:          &primaryID,
		ContactID:         contactID,
		IsGroup:           isGroup,
	}
	if err := r.db.Create(&conv).Error; err != nil {
		if db.IsDuplicate(err) {
			// Lost the race; the winner's row is the conversation.
			if err := r.db.Where("workspace_id = ? AND channel_instance_id = ? AND remote_id = ?", workspaceID, instanceID, primaryID).First(&conv).Error; err != nil {
				return nil, fmt.Errorf("failed to re-read conversation after duplicate insert: %w", err)
			}
			return &conv, nil
		}
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	if err := r.registerAlias(workspaceID, instanceID, conv.ID, primaryID, true); err != nil {
		return nil, err
	}
	log.Info().
		Str("workspaceID", workspaceID).
		Uint("conversationID", conv.ID).
		Str("remoteID", primaryID).
		Bool("isGroup", isGroup).
		Msg("Conversation created")
	return &conv, nil
}

// registerAlias is an idempotent upsert; a duplicate-key outcome means the
// alias already routes somewhere and is silently tolerated.
func (r *ConversationResolver) registerAlias(workspaceID string, instanceID, conversationID uint, alias string, primary bool) error {
	a := models.ConversationAlias{
		WorkspaceID:       workspaceID,
		ChannelInstanceID: instanceID,
		Alias:             alias,
		ConversationID:    conversationID,
		IsPrimary:         primary,
	}
	if err := r.db.Create(&a).Error; err != nil && !db.IsDuplicate(err) {
		return fmt.Errorf("failed to register conversation alias %q: %w", alias, err)
	}
	return nil
}
