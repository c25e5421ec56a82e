package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/nfnt/resize"
	"github.com/rs/zerolog/log"

	"zapcrm/internal/webhook"
)

// ObjectStore uploads bytes to durable object storage and returns a public,
// stable URL. Provider-hosted media URLs are time-limited and must never be
// persisted directly.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// ProviderAPI is the slice of the gateway HTTP API the pipeline consumes.
type ProviderAPI interface {
	ProfilePictureURL(ctx context.Context, instance, number string) (string, error)
	MediaBase64(ctx context.Context, instance, messageID string) (data []byte, mimeType string, err error)
	Download(ctx context.Context, url string) (data []byte, contentType string, err error)
}

// MediaService fetches media and avatars from the provider and persists them
// to object storage. Every failure here degrades gracefully: a message is
// still recorded without its media, a contact without its avatar.
type MediaService struct {
	provider ProviderAPI
	store    ObjectStore
	timeout  time.Duration
}

func NewMediaService(provider ProviderAPI, store ObjectStore) *MediaService {
	return &MediaService{provider: provider, store: store, timeout: 5 * time.Second}
}

const avatarMaxSize = 256

var placeholderBodies = map[string]string{
	webhook.MessageImage:    "[image]",
	webhook.MessageVideo:    "[video]",
	webhook.MessageAudio:    "[audio]",
	webhook.MessageDocument: "[document]",
	webhook.MessageSticker:  "[sticker]",
}

// PlaceholderBody returns the type-appropriate label used when media cannot
// be retrieved.
func PlaceholderBody(msgType string) string {
	if body, ok := placeholderBodies[msgType]; ok {
		return body
	}
	return "[media]"
}

// StoreMessageMedia retrieves a media payload by provider message reference
// and uploads it under a workspace- and kind-namespaced key. Returns nil on
// any failure; the caller records the message with a placeholder body.
func (m *MediaService) StoreMessageMedia(ctx context.Context, workspaceID, instance, externalID, msgType string) *string {
	if m == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	data, mimeType, err := m.provider.MediaBase64(ctx, instance, externalID)
	if err != nil {
		log.Warn().Err(err).
			Str("workspaceID", workspaceID).
			Str("externalID", externalID).
			Str("type", msgType).
			Msg("Media fetch failed, message will carry a placeholder body")
		return nil
	}

	key := fmt.Sprintf("workspaces/%s/media/%s/%s%s", workspaceID, mediaFolder(msgType), externalID, extensionForMime(mimeType))
	url, err := m.store.Upload(ctx, key, data, mimeType)
	if err != nil {
		log.Warn().Err(err).
			Str("workspaceID", workspaceID).
			Str("key", key).
			Msg("Media upload failed, message will carry a placeholder body")
		return nil
	}
	return &url
}

// StoreAvatar fetches a contact's profile picture once and persists a
// downscaled copy. Returns "" on any failure.
func (m *MediaService) StoreAvatar(ctx context.Context, workspaceID, instance, digits string) string {
	if m == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	pictureURL, err := m.provider.ProfilePictureURL(ctx, instance, digits)
	if err != nil || pictureURL == "" {
		log.Debug().Err(err).Str("digits", digits).Msg("No profile picture available")
		return ""
	}
	data, contentType, err := m.provider.Download(ctx, pictureURL)
	if err != nil {
		log.Warn().Err(err).Str("digits", digits).Msg("Avatar download failed")
		return ""
	}

	if thumb, err := thumbnail(data); err == nil {
		data, contentType = thumb, "image/jpeg"
	}

	key := fmt.Sprintf("workspaces/%s/avatars/%s%s", workspaceID, digits, extensionForMime(contentType))
	url, err := m.store.Upload(ctx, key, data, contentType)
	if err != nil {
		log.Warn().Err(err).Str("digits", digits).Msg("Avatar upload failed")
		return ""
	}
	return url
}

// thumbnail downscales an avatar to at most avatarMaxSize pixels and
// re-encodes it as JPEG. Undecodable images are kept as-is by the caller.
func thumbnail(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	if bounds.Dx() > avatarMaxSize || bounds.Dy() > avatarMaxSize {
		img = resize.Thumbnail(avatarMaxSize, avatarMaxSize, img, resize.Lanczos3)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func mediaFolder(msgType string) string {
	switch msgType {
	case webhook.MessageImage:
		return "images"
	case webhook.MessageVideo:
		return "videos"
	case webhook.MessageAudio:
		return "audio"
	case webhook.MessageSticker:
		return "stickers"
	default:
		return "documents"
	}
}

func extensionForMime(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "jpeg"), strings.Contains(mimeType, "jpg"):
		return ".jpg"
	case strings.Contains(mimeType, "png"):
		return ".png"
	case strings.Contains(mimeType, "gif"):
		return ".gif"
	case strings.Contains(mimeType, "webp"):
		return ".webp"
	case strings.Contains(mimeType, "mp4"):
		return ".mp4"
	case strings.Contains(mimeType, "webm"):
		return ".webm"
	case strings.Contains(mimeType, "ogg"), strings.Contains(mimeType, "opus"):
		return ".ogg"
	case strings.Contains(mimeType, "pdf"):
		return ".pdf"
	default:
		return ".bin"
	}
}
