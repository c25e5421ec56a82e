package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"zapcrm/internal/models"
	"zapcrm/internal/notify"
	"zapcrm/internal/services"
	"zapcrm/internal/webhook"
)

// Provider event types routed by the webhook endpoint.
const (
	EventConnectionUpdate = "connection.update"
	EventQRCodeUpdated    = "qrcode.updated"
	EventMessagesUpsert   = "messages.upsert"
	EventMessagesUpdate   = "messages.update"
)

const providerName = "whatsapp"

// Server wires the pipeline stages behind the HTTP surface.
type Server struct {
	db            *gorm.DB
	dedup         *services.DedupService
	instances     *services.InstanceRegistry
	contacts      *services.ContactResolver
	conversations *services.ConversationResolver
	messages      *services.MessageWriter
	media         *services.MediaService
	notifier      *notify.Notifier
}

func NewServer(
	conn *gorm.DB,
	dedup *services.DedupService,
	instances *services.InstanceRegistry,
	contacts *services.ContactResolver,
	conversations *services.ConversationResolver,
	messages *services.MessageWriter,
	media *services.MediaService,
	notifier *notify.Notifier,
) *Server {
	return &Server{
		db:            conn,
		dedup:         dedup,
		instances:     instances,
		contacts:      contacts,
		conversations: conversations,
		messages:      messages,
		media:         media,
		notifier:      notifier,
	}
}

type webhookEvent struct {
	ID       string                 `json:"id"`
	Event    string                 `json:"event"`
	Instance string                 `json:"instance"`
	Data     map[string]interface{} `json:"data"`
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// Webhook receives provider events. Deduplication runs before any side
// effect; every accepted delivery ends in a terminal status.
func (s *Server) Webhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workspaceID := mux.Vars(r)["workspaceID"]

		raw, err := io.ReadAll(r.Body)
		if err != nil {
			s.respondJSON(w, http.StatusInternalServerError, map[string]interface{}{"ok": false, "error": "failed to read request body"})
			return
		}
		var evt webhookEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			s.respondJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "invalid JSON payload"})
			return
		}

		fingerprint := services.Fingerprint(s.eventID(&evt), evt.Instance, evt.Event, raw)
		delivery, fresh, err := s.dedup.Begin(workspaceID, providerName, evt.Event, evt.Instance, fingerprint, raw)
		if err != nil {
			log.Error().Err(err).Str("workspaceID", workspaceID).Msg("Failed to record delivery")
			s.respondJSON(w, http.StatusInternalServerError, map[string]interface{}{"ok": false, "error": "failed to record delivery"})
			return
		}
		if !fresh {
			s.respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "status": "duplicate"})
			return
		}

		if strings.TrimSpace(evt.Event) == "" {
			s.dedup.Finish(delivery, models.DeliveryIgnored, "missing event type")
			s.respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "status": "ignored"})
			return
		}

		status, httpCode, procErr := s.process(r, workspaceID, &evt)
		switch status {
		case models.DeliveryProcessed:
			s.dedup.Finish(delivery, models.DeliveryProcessed, "")
			s.respondJSON(w, httpCode, map[string]interface{}{"ok": true, "status": "processed"})
		case models.DeliveryIgnored:
			detail := ""
			if procErr != nil {
				detail = procErr.Error()
			}
			s.dedup.Finish(delivery, models.DeliveryIgnored, detail)
			ok := httpCode < http.StatusBadRequest
			s.respondJSON(w, httpCode, map[string]interface{}{"ok": ok, "status": "ignored"})
		default:
			log.Error().Err(procErr).
				Str("workspaceID", workspaceID).
				Str("event", evt.Event).
				Str("instance", evt.Instance).
				Uint("deliveryID", delivery.ID).
				Msg("Delivery failed")
			s.dedup.Finish(delivery, models.DeliveryFailed, procErr.Error())
			s.respondJSON(w, http.StatusInternalServerError, map[string]interface{}{"ok": false, "status": "failed"})
		}
	}
}

// eventID picks the provider event id used for the delivery fingerprint.
// Status updates redeliver the same message id with different payloads, so
// only upserts may borrow the message key; everything else falls back to the
// content hash.
func (s *Server) eventID(evt *webhookEvent) string {
	if evt.ID != "" {
		return evt.ID
	}
	if evt.Event == EventMessagesUpsert {
		return getString(getMap(evt.Data, "key"), "id")
	}
	return ""
}

// process dispatches one fresh delivery. It returns the terminal delivery
// status, the HTTP code to answer with, and the error for failed/ignored
// detail.
func (s *Server) process(r *http.Request, workspaceID string, evt *webhookEvent) (string, int, error) {
	switch evt.Event {
	case EventConnectionUpdate:
		state := firstString(
			getString(evt.Data, "state"),
			getString(evt.Data, "status"),
			getString(evt.Data, "connection"),
		)
		owner := firstString(getString(evt.Data, "wuid"), getString(evt.Data, "ownerJid"))
		if err := s.instances.UpdateConnection(workspaceID, evt.Instance, state, owner); err != nil {
			return s.instanceFailure(err)
		}
		return models.DeliveryProcessed, http.StatusOK, nil

	case EventQRCodeUpdated:
		code := firstString(
			getString(getMap(evt.Data, "qrcode"), "code"),
			getString(evt.Data, "code"),
			getString(evt.Data, "qrcode"),
		)
		if code == "" {
			return models.DeliveryIgnored, http.StatusOK, errors.New("QR event carried no code")
		}
		if err := s.instances.UpdateQR(workspaceID, evt.Instance, code); err != nil {
			return s.instanceFailure(err)
		}
		return models.DeliveryProcessed, http.StatusOK, nil

	case EventMessagesUpsert:
		inst, err := s.instances.Lookup(workspaceID, evt.Instance)
		if err != nil {
			return s.instanceFailure(err)
		}
		return s.processMessageUpsert(r, workspaceID, inst, evt.Data)

	case EventMessagesUpdate:
		inst, err := s.instances.Lookup(workspaceID, evt.Instance)
		if err != nil {
			return s.instanceFailure(err)
		}
		return s.processMessageUpdate(workspaceID, inst, evt.Data)

	default:
		return models.DeliveryIgnored, http.StatusOK, errors.New("unsupported event type " + evt.Event)
	}
}

func (s *Server) instanceFailure(err error) (string, int, error) {
	if errors.Is(err, services.ErrUnknownInstance) {
		return models.DeliveryIgnored, http.StatusUnprocessableEntity, err
	}
	return models.DeliveryFailed, http.StatusInternalServerError, err
}

// processMessageUpsert runs the full pipeline: normalize, resolve contact,
// resolve conversation, fetch media, write message.
func (s *Server) processMessageUpsert(r *http.Request, workspaceID string, inst *models.ChannelInstance, data map[string]interface{}) (string, int, error) {
	env, err := webhook.Normalize(data)
	if err != nil {
		return models.DeliveryIgnored, http.StatusOK, err
	}
	if env.DegradedGroupSender() {
		log.Warn().
			Str("workspaceID", workspaceID).
			Str("conversationID", env.ConversationID).
			Msg("Group message without participant, attributing to the group identifier")
	}

	ctx := r.Context()
	contact, err := s.contacts.Resolve(ctx, workspaceID, inst.Name, env)
	if err != nil {
		return models.DeliveryFailed, http.StatusInternalServerError, err
	}
	conv, err := s.conversations.Resolve(workspaceID, contact.ID, inst.ID, env.ConversationID, env.AltConversationID, env.Kind == webhook.KindGroup)
	if err != nil {
		return models.DeliveryFailed, http.StatusInternalServerError, err
	}

	body := env.Text
	var mediaURL *string
	if env.HasMedia {
		mediaURL = s.media.StoreMessageMedia(ctx, workspaceID, inst.Name, env.ExternalID, env.Type)
		if mediaURL == nil && body == "" {
			body = services.PlaceholderBody(env.Type)
		}
	}

	ts := time.Now()
	if env.TimestampMS > 0 {
		ts = time.UnixMilli(env.TimestampMS)
	}
	status := services.MessageReceived
	if env.FromMe {
		status = services.MessageSent
	}
	msg := &models.Message{
		WorkspaceID:       workspaceID,
		ChannelInstanceID: inst.ID,
		ExternalID:        optional(env.ExternalID),
		ConversationID:    conv.ID,
		FromMe:            env.FromMe,
		Body:              body,
		Type:              env.Type,
		Status:            status,
		MediaURL:          mediaURL,
		SenderID:          env.SenderID,
		Timestamp:         ts,
	}
	if env.Quoted != nil {
		msg.QuotedExternalID = optional(env.Quoted.ExternalID)
	}

	inserted, err := s.messages.Write(msg)
	if err != nil {
		return models.DeliveryFailed, http.StatusInternalServerError, err
	}
	if err := s.messages.Touch(conv, ts, !env.FromMe, inserted); err != nil {
		return models.DeliveryFailed, http.StatusInternalServerError, err
	}

	if inserted {
		s.notifier.Publish(workspaceID, "message", msg.ID, "created")
		s.notifier.Publish(workspaceID, "conversation", conv.ID, "updated")
	}
	return models.DeliveryProcessed, http.StatusOK, nil
}

// processMessageUpdate applies a status-only mutation keyed purely by
// external id. It deliberately skips contact/conversation resolution: a
// status event arriving before or without its upsert must not fabricate
// records.
func (s *Server) processMessageUpdate(workspaceID string, inst *models.ChannelInstance, data map[string]interface{}) (string, int, error) {
	externalID := firstString(
		getString(getMap(data, "key"), "id"),
		getString(data, "keyId"),
		getString(data, "messageId"),
	)
	status := strings.ToLower(firstString(getString(data, "status"), getString(data, "ack")))

	touched, err := s.messages.UpdateStatus(workspaceID, inst.ID, externalID, status)
	if err != nil {
		return models.DeliveryFailed, http.StatusInternalServerError, err
	}
	if !touched {
		return models.DeliveryIgnored, http.StatusOK, errors.New("status update for unknown message " + externalID)
	}
	s.notifier.Publish(workspaceID, "message", 0, "status")
	return models.DeliveryProcessed, http.StatusOK, nil
}

// Health reports store connectivity.
func (s *Server) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := s.db.DB()
		if err == nil {
			err = sqlDB.Ping()
		}
		if err != nil {
			s.respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"ok": false, "error": err.Error()})
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func getMap(m map[string]interface{}, key string) map[string]interface{} {
	if m == nil {
		return nil
	}
	child, _ := m[key].(map[string]interface{})
	return child
}

func getString(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func firstString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
