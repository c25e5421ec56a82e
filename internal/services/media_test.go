package services

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapcrm/internal/webhook"
)

func TestStoreMessageMedia(t *testing.T) {
	provider := &fakeProvider{mediaData: []byte("jpegbytes"), mediaMime: "image/jpeg"}
	store := newFakeStore()
	m := NewMediaService(provider, store)

	url := m.StoreMessageMedia(context.Background(), "ws1", "sales", "3EB0A", webhook.MessageImage)
	require.NotNil(t, url)
	assert.Equal(t, "https://cdn.test/workspaces/ws1/media/images/3EB0A.jpg", *url)
	assert.Equal(t, []byte("jpegbytes"), store.uploads["workspaces/ws1/media/images/3EB0A.jpg"])
}

func TestStoreMessageMediaDegradesOnProviderFailure(t *testing.T) {
	provider := &fakeProvider{fail: true}
	m := NewMediaService(provider, newFakeStore())

	url := m.StoreMessageMedia(context.Background(), "ws1", "sales", "3EB0A", webhook.MessageImage)
	assert.Nil(t, url)
}

func TestStoreMessageMediaDegradesOnUploadFailure(t *testing.T) {
	provider := &fakeProvider{mediaData: []byte("x"), mediaMime: "video/mp4"}
	store := newFakeStore()
	store.fail = true
	m := NewMediaService(provider, store)

	url := m.StoreMessageMedia(context.Background(), "ws1", "sales", "3EB0A", webhook.MessageVideo)
	assert.Nil(t, url)
}

func TestNilMediaServiceDegrades(t *testing.T) {
	var m *MediaService
	assert.Nil(t, m.StoreMessageMedia(context.Background(), "ws1", "sales", "3EB0A", webhook.MessageImage))
	assert.Empty(t, m.StoreAvatar(context.Background(), "ws1", "sales", "5511999990000"))
}

func TestStoreAvatarThumbnails(t *testing.T) {
	// A large PNG avatar must come back downscaled and re-encoded as JPEG.
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 800, 600))))

	provider := &fakeProvider{pictureURL: "https://pps.test/p.png", mediaData: buf.Bytes(), mediaMime: "image/png"}
	store := newFakeStore()
	m := NewMediaService(provider, store)

	url := m.StoreAvatar(context.Background(), "ws1", "sales", "5511999990000")
	require.NotEmpty(t, url)
	assert.Contains(t, url, "workspaces/ws1/avatars/5511999990000.jpg")

	stored := store.uploads["workspaces/ws1/avatars/5511999990000.jpg"]
	require.NotEmpty(t, stored)
	img, err := jpeg.Decode(bytes.NewReader(stored))
	require.NoError(t, err)
	assert.LessOrEqual(t, img.Bounds().Dx(), avatarMaxSize)
	assert.LessOrEqual(t, img.Bounds().Dy(), avatarMaxSize)
}

func TestStoreAvatarNoPicture(t *testing.T) {
	provider := &fakeProvider{pictureURL: ""}
	m := NewMediaService(provider, newFakeStore())
	assert.Empty(t, m.StoreAvatar(context.Background(), "ws1", "sales", "5511999990000"))
}

func TestPlaceholderBody(t *testing.T) {
	assert.Equal(t, "[image]", PlaceholderBody(webhook.MessageImage))
	assert.Equal(t, "[audio]", PlaceholderBody(webhook.MessageAudio))
	assert.Equal(t, "[media]", PlaceholderBody("weird"))
}

func TestExtensionForMime(t *testing.T) {
	assert.Equal(t, ".jpg", extensionForMime("image/jpeg"))
	assert.Equal(t, ".ogg", extensionForMime("audio/ogg; codecs=opus"))
	assert.Equal(t, ".bin", extensionForMime("application/octet-stream"))
}
