package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/vincent-petithory/dataurl"
	"gorm.io/gorm"

	"zapcrm/internal/db"
	"zapcrm/internal/models"
	"zapcrm/internal/webhook"
)

// ErrUnknownInstance means an event referenced an instance name that was
// never provisioned. Such events are ignored, not silently provisioned.
var ErrUnknownInstance = errors.New("unknown channel instance")

// InstanceRegistry looks up and mutates channel instances. Lookups are
// cached briefly since every webhook call starts with one.
type InstanceRegistry struct {
	db    *gorm.DB
	cache *gocache.Cache
}

func NewInstanceRegistry(conn *gorm.DB) *InstanceRegistry {
	return &InstanceRegistry{
		db:    conn,
		cache: gocache.New(1*time.Minute, 5*time.Minute),
	}
}

func instanceCacheKey(workspaceID, name string) string {
	return workspaceID + "/" + name
}

// Lookup finds an instance by name within a workspace.
func (r *InstanceRegistry) Lookup(workspaceID, name string) (*models.ChannelInstance, error) {
	if name == "" {
		return nil, ErrUnknownInstance
	}
	if cached, found := r.cache.Get(instanceCacheKey(workspaceID, name)); found {
		inst := cached.(models.ChannelInstance)
		return &inst, nil
	}

	var inst models.ChannelInstance
	err := r.db.Where("workspace_id = ? AND name = ?", workspaceID, name).First(&inst).Error
	if err != nil {
		if db.IsNotFound(err) {
			return nil, ErrUnknownInstance
		}
		return nil, fmt.Errorf("failed to look up instance %q: %w", name, err)
	}
	r.cache.Set(instanceCacheKey(workspaceID, name), inst, gocache.DefaultExpiration)
	return &inst, nil
}

// NormalizeConnectionState folds the provider's many case-insensitive
// synonyms into the closed state set. Unrecognized strings default to
// disconnected rather than being left null.
func NormalizeConnectionState(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "open", "connected", "online", "ready":
		return models.InstanceConnected
	case "connecting", "pairing", "qr", "qrcode", "syncing", "starting":
		return models.InstancePairing
	case "error", "failure", "failed", "conflict":
		return models.InstanceError
	default:
		return models.InstanceDisconnected
	}
}

// UpdateConnection applies a connection-state event. ownerJID, when present,
// refreshes the last-known phone number of the line.
func (r *InstanceRegistry) UpdateConnection(workspaceID, name, rawState, ownerJID string) error {
	inst, err := r.Lookup(workspaceID, name)
	if err != nil {
		return err
	}

	status := NormalizeConnectionState(rawState)
	updates := map[string]interface{}{"status": status}
	if status == models.InstanceConnected {
		now := time.Now()
		updates["last_connected_at"] = &now
		// A fresh connection invalidates the pairing QR.
		updates["last_qr_code"] = ""
		updates["qr_image_data_url"] = ""
	}
	if owner := webhook.ClassifyJID(ownerJID); owner.Kind == webhook.JIDPhone {
		updates["phone_number"] = owner.Digits
	}

	if err := r.db.Model(&models.ChannelInstance{}).Where("id = ?", inst.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update instance state: %w", err)
	}
	r.cache.Delete(instanceCacheKey(workspaceID, name))

	log.Info().
		Str("workspaceID", workspaceID).
		Str("instance", name).
		Str("rawState", rawState).
		Str("status", status).
		Msg("Channel instance state updated")
	return nil
}

// UpdateQR stores the latest pairing QR payload plus a rendered PNG data URL
// for the web UI.
func (r *InstanceRegistry) UpdateQR(workspaceID, name, code string) error {
	inst, err := r.Lookup(workspaceID, name)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"last_qr_code": code,
		"status":       models.InstancePairing,
	}
	if png, err := qrcode.Encode(code, qrcode.Medium, 256); err != nil {
		log.Warn().Err(err).Str("instance", name).Msg("Failed to render QR image")
	} else {
		updates["qr_image_data_url"] = dataurl.New(png, "image/png").String()
	}

	if err := r.db.Model(&models.ChannelInstance{}).Where("id = ?", inst.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to store QR payload: %w", err)
	}
	r.cache.Delete(instanceCacheKey(workspaceID, name))

	log.Info().Str("workspaceID", workspaceID).Str("instance", name).Msg("QR code updated")
	return nil
}
