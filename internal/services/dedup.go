package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"zapcrm/internal/db"
	"zapcrm/internal/models"
)

// DedupService persists a record of every received webhook call and rejects
// exact redeliveries before any side effect runs. Duplicates are an expected,
// frequent condition under at-least-once delivery, never an error.
type DedupService struct {
	db *gorm.DB
}

func NewDedupService(conn *gorm.DB) *DedupService {
	return &DedupService{db: conn}
}

// Fingerprint derives the deduplication key from the provider event id,
// instance and event type, falling back to a hash of the raw payload when
// the provider supplied no event id.
func Fingerprint(eventID, instance, eventType string, raw []byte) string {
	if eventID != "" {
		return fmt.Sprintf("evt:%s:%s:%s", instance, eventType, eventID)
	}
	sum := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Begin inserts the delivery record. fresh is false when an identical
// delivery was already recorded, in which case no record is returned and the
// caller must not run any side effects.
func (s *DedupService) Begin(workspaceID, provider, eventType, instance, fingerprint string, raw []byte) (*models.Delivery, bool, error) {
	d := &models.Delivery{
		WorkspaceID:  workspaceID,
		Provider:     provider,
		Fingerprint:  fingerprint,
		EventType:    eventType,
		InstanceName: instance,
		RawPayload:   string(raw),
		Status:       models.DeliveryReceived,
	}
	if err := s.db.Create(d).Error; err != nil {
		if db.IsDuplicate(err) {
			log.Debug().
				Str("workspaceID", workspaceID).
				Str("fingerprint", fingerprint).
				Msg("Duplicate delivery rejected")
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to record delivery: %w", err)
	}
	return d, true, nil
}

// Finish moves the delivery to its terminal status. A record stuck in
// "received" past a reasonable threshold signals a crashed worker; that is
// an operational concern, not something resolved here.
func (s *DedupService) Finish(d *models.Delivery, status, errDetail string) {
	if d == nil {
		return
	}
	updates := map[string]interface{}{"status": status}
	if errDetail != "" {
		updates["error_detail"] = errDetail
	}
	if err := s.db.Model(&models.Delivery{}).Where("id = ?", d.ID).Updates(updates).Error; err != nil {
		log.Error().Err(err).Uint("deliveryID", d.ID).Str("status", status).Msg("Failed to finalize delivery record")
		return
	}
	d.Status = status
	d.ErrorDetail = errDetail
}
