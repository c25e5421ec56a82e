package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"zapcrm/internal/db"
	"zapcrm/internal/models"
	"zapcrm/internal/webhook"
)

// ContactResolver maps a sender identity to a durable contact record. An
// opaque-id-only sender gets an invisible placeholder; a phone-bearing sender
// gets a visible real contact; and when both forms are proven to be the same
// person, MergePlaceholder folds the placeholder's history into the real one.
type ContactResolver struct {
	db    *gorm.DB
	media *MediaService
}

func NewContactResolver(conn *gorm.DB, media *MediaService) *ContactResolver {
	return &ContactResolver{db: conn, media: media}
}

func placeholderKey(rawID string) string {
	return "lid:" + rawID
}

// placeholderQuality reports whether a stored name is a low-information
// default that may be overwritten by better data.
func placeholderQuality(name string, c *models.Contact) bool {
	if name == "" {
		return true
	}
	if c.PhoneDigits != nil && name == *c.PhoneDigits {
		return true
	}
	if name == c.RawIdentity || name == localPart(c.RawIdentity) {
		return true
	}
	return false
}

func localPart(jid string) string {
	if at := strings.IndexByte(jid, '@'); at >= 0 {
		return jid[:at]
	}
	return jid
}

// Resolve returns the contact for the envelope's sender, creating or healing
// records as needed.
func (r *ContactResolver) Resolve(ctx context.Context, workspaceID, instanceName string, env *webhook.Envelope) (*models.Contact, error) {
	sourceType := models.SourceDirect
	if env.Kind == webhook.KindGroup {
		sourceType = models.SourceGroup
	}

	if env.SenderDigits == "" {
		return r.resolvePlaceholder(workspaceID, env.SenderID, env.DisplayName, sourceType)
	}

	contact, err := r.resolveReal(ctx, workspaceID, instanceName, env.SenderDigits, env.SenderID, env.DisplayName, sourceType)
	if err != nil {
		return nil, err
	}

	// The sender arrived under an opaque local id that we could canonicalize
	// to a phone number: any placeholder previously created for that opaque
	// id is now proven to be this person.
	if webhook.ClassifyJID(env.SenderID).Kind == webhook.JIDLocal {
		if err := r.MergePlaceholder(workspaceID, env.SenderID, contact); err != nil {
			log.Error().Err(err).
				Str("workspaceID", workspaceID).
				Str("senderID", env.SenderID).
				Uint("contactID", contact.ID).
				Msg("Placeholder merge failed")
		}
	}
	return contact, nil
}

// resolvePlaceholder creates or finds the invisible contact for an opaque
// identity, updating its name only when the stored one is a low-information
// default.
func (r *ContactResolver) resolvePlaceholder(workspaceID, rawID, displayName, sourceType string) (*models.Contact, error) {
	key := placeholderKey(rawID)

	var c models.Contact
	err := r.db.Where("workspace_id = ? AND placeholder_key = ?", workspaceID, key).First(&c).Error
	if err == nil {
		if displayName != "" && placeholderQuality(c.Name, &c) && c.Name != displayName {
			if err := r.db.Model(&models.Contact{}).Where("id = ?", c.ID).Update("name", displayName).Error; err != nil {
				return nil, fmt.Errorf("failed to update placeholder name: %w", err)
			}
			c.Name = displayName
		}
		return &c, nil
	}
	if !db.IsNotFound(err) {
		return nil, fmt.Errorf("failed to query placeholder contact: %w", err)
	}

	name := displayName
	if name == "" {
		name = localPart(rawID)
	}
	c = models.Contact{
		WorkspaceID:    workspaceID,
		PlaceholderKey: &key,
		Name:           name,
		IsReal:         false,
		SourceType:     sourceType,
		RawIdentity:    rawID,
	}
	if err := r.db.Create(&c).Error; err != nil {
		if db.IsDuplicate(err) {
			// Another delivery created it concurrently; use theirs.
			if err := r.db.Where("workspace_id = ? AND placeholder_key = ?", workspaceID, key).First(&c).Error; err != nil {
				return nil, fmt.Errorf("failed to re-read placeholder after duplicate insert: %w", err)
			}
			return &c, nil
		}
		return nil, fmt.Errorf("failed to create placeholder contact: %w", err)
	}
	log.Info().Str("workspaceID", workspaceID).Str("rawID", rawID).Uint("contactID", c.ID).Msg("Placeholder contact created")
	return &c, nil
}

// resolveReal creates or finds the visible contact keyed by phone digits. On
// find it heals missing fields without overwriting better existing data; on
// create it persists a durable copy of the avatar once.
func (r *ContactResolver) resolveReal(ctx context.Context, workspaceID, instanceName, digits, rawID, displayName, sourceType string) (*models.Contact, error) {
	var c models.Contact
	err := r.db.Where("workspace_id = ? AND phone_digits = ?", workspaceID, digits).First(&c).Error
	if err == nil {
		return r.healReal(ctx, &c, workspaceID, instanceName, digits, displayName)
	}
	if !db.IsNotFound(err) {
		return nil, fmt.Errorf("failed to query contact by phone: %w", err)
	}

	avatarURL := ""
	if r.media != nil {
		avatarURL = r.media.StoreAvatar(ctx, workspaceID, instanceName, digits)
	}
	c = models.Contact{
		WorkspaceID: workspaceID,
		PhoneDigits: &digits,
		Name:        displayName,
		AvatarURL:   avatarURL,
		IsReal:      true,
		SourceType:  sourceType,
		RawIdentity: rawID,
	}
	if err := r.db.Create(&c).Error; err != nil {
		if db.IsDuplicate(err) {
			if err := r.db.Where("workspace_id = ? AND phone_digits = ?", workspaceID, digits).First(&c).Error; err != nil {
				return nil, fmt.Errorf("failed to re-read contact after duplicate insert: %w", err)
			}
			return r.healReal(ctx, &c, workspaceID, instanceName, digits, displayName)
		}
		return nil, fmt.Errorf("failed to create contact: %w", err)
	}
	log.Info().Str("workspaceID", workspaceID).Str("digits", digits).Uint("contactID", c.ID).Msg("Contact created")
	return &c, nil
}

func (r *ContactResolver) healReal(ctx context.Context, c *models.Contact, workspaceID, instanceName, digits, displayName string) (*models.Contact, error) {
	updates := map[string]interface{}{}
	if !c.IsReal {
		updates["is_real"] = true
	}
	if displayName != "" && displayName != c.Name && placeholderQuality(c.Name, c) {
		updates["name"] = displayName
		c.Name = displayName
	}
	if c.AvatarURL == "" && r.media != nil {
		if url := r.media.StoreAvatar(ctx, workspaceID, instanceName, digits); url != "" {
			updates["avatar_url"] = url
			c.AvatarURL = url
		}
	}
	if len(updates) == 0 {
		return c, nil
	}
	if err := r.db.Model(&models.Contact{}).Where("id = ?", c.ID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to heal contact: %w", err)
	}
	c.IsReal = true
	return c, nil
}

// MergePlaceholder re-points every conversation and pipeline card owned by
// the placeholder for rawID at the resolved real contact, then deletes the
// placeholder if and only if nothing references it anymore. A reference
// appearing concurrently leaves the placeholder intact; orphaning foreign
// keys is worse than a stray invisible row.
func (r *ContactResolver) MergePlaceholder(workspaceID, rawID string, real *models.Contact) error {
	key := placeholderKey(rawID)

	var ph models.Contact
	err := r.db.Where("workspace_id = ? AND placeholder_key = ?", workspaceID, key).First(&ph).Error
	if err != nil {
		if db.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to look up placeholder for merge: %w", err)
	}
	if ph.ID == real.ID {
		return nil
	}

	if err := r.db.Model(&models.Conversation{}).
		Where("workspace_id = ? AND contact_id = ?", workspaceID, ph.ID).
		Update("contact_id", real.ID).Error; err != nil {
		return fmt.Errorf("failed to re-point conversations: %w", err)
	}
	if err := r.db.Model(&models.Card{}).
		Where("workspace_id = ? AND contact_id = ?", workspaceID, ph.ID).
		Update("contact_id", real.ID).Error; err != nil {
		return fmt.Errorf("failed to re-point cards: %w", err)
	}

	// Carry over anything the placeholder knew that the real contact lacks.
	backfill := map[string]interface{}{}
	if real.Name == "" && ph.Name != "" && !placeholderQuality(ph.Name, &ph) {
		backfill["name"] = ph.Name
		real.Name = ph.Name
	}
	if len(backfill) > 0 {
		if err := r.db.Model(&models.Contact{}).Where("id = ?", real.ID).Updates(backfill).Error; err != nil {
			return fmt.Errorf("failed to backfill merged contact: %w", err)
		}
	}

	var convRefs, cardRefs int64
	if err := r.db.Model(&models.Conversation{}).Where("contact_id = ?", ph.ID).Count(&convRefs).Error; err != nil {
		return fmt.Errorf("failed to count conversation references: %w", err)
	}
	if err := r.db.Model(&models.Card{}).Where("contact_id = ?", ph.ID).Count(&cardRefs).Error; err != nil {
		return fmt.Errorf("failed to count card references: %w", err)
	}
	if convRefs+cardRefs > 0 {
		log.Warn().
			Uint("placeholderID", ph.ID).
			Int64("references", convRefs+cardRefs).
			Msg("Placeholder still referenced after merge, keeping it")
		return nil
	}

	if err := r.db.Delete(&models.Contact{}, ph.ID).Error; err != nil {
		return fmt.Errorf("failed to delete merged placeholder: %w", err)
	}
	log.Info().
		Str("workspaceID", workspaceID).
		Uint("placeholderID", ph.ID).
		Uint("contactID", real.ID).
		Msg("Placeholder merged into real contact")
	return nil
}
