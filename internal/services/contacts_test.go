package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapcrm/internal/models"
	"zapcrm/internal/webhook"
)

func directEnvelope(senderID, digits, name string) *webhook.Envelope {
	return &webhook.Envelope{
		ConversationID: senderID,
		Kind:           webhook.KindDirect,
		SenderID:       senderID,
		SenderDigits:   digits,
		DisplayName:    name,
	}
}

func TestResolveCreatesRealContact(t *testing.T) {
	conn := newTestDB(t)
	r := NewContactResolver(conn, nil)

	c, err := r.Resolve(context.Background(), "ws1", "sales",
		directEnvelope("5511999990000@s.whatsapp.net", "5511999990000", "Ana"))
	require.NoError(t, err)
	assert.True(t, c.IsReal)
	require.NotNil(t, c.PhoneDigits)
	assert.Equal(t, "5511999990000", *c.PhoneDigits)
	assert.Equal(t, "Ana", c.Name)
	assert.Nil(t, c.PlaceholderKey)

	// Same phone again resolves to the same row.
	again, err := r.Resolve(context.Background(), "ws1", "sales",
		directEnvelope("5511999990000@s.whatsapp.net", "5511999990000", "Ana"))
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)
}

func TestResolveCreatesPlaceholderForOpaqueID(t *testing.T) {
	conn := newTestDB(t)
	r := NewContactResolver(conn, nil)

	c, err := r.Resolve(context.Background(), "ws1", "sales",
		directEnvelope("81896604192873@lid", "", "Mystery"))
	require.NoError(t, err)
	assert.False(t, c.IsReal)
	assert.Nil(t, c.PhoneDigits)
	require.NotNil(t, c.PlaceholderKey)
	assert.Equal(t, "lid:81896604192873@lid", *c.PlaceholderKey)
	assert.Equal(t, "Mystery", c.Name)
}

func TestPlaceholderNameUpgrade(t *testing.T) {
	conn := newTestDB(t)
	r := NewContactResolver(conn, nil)
	ctx := context.Background()

	// First sighting without a push name defaults to the local part.
	c, err := r.Resolve(ctx, "ws1", "sales", directEnvelope("81896604192873@lid", "", ""))
	require.NoError(t, err)
	assert.Equal(t, "81896604192873", c.Name)

	// A later sighting with a real name overwrites the low-information default.
	c, err = r.Resolve(ctx, "ws1", "sales", directEnvelope("81896604192873@lid", "", "Carlos"))
	require.NoError(t, err)
	assert.Equal(t, "Carlos", c.Name)

	// But a good name is never clobbered by a different one.
	c, err = r.Resolve(ctx, "ws1", "sales", directEnvelope("81896604192873@lid", "", "Impostor"))
	require.NoError(t, err)
	assert.Equal(t, "Carlos", c.Name)
}

func TestResolveHealsContactToReal(t *testing.T) {
	conn := newTestDB(t)
	r := NewContactResolver(conn, nil)
	digits := "5511999990000"

	require.NoError(t, conn.Create(&models.Contact{
		WorkspaceID: "ws1",
		PhoneDigits: &digits,
		Name:        digits,
		IsReal:      false,
		SourceType:  models.SourceDirect,
		RawIdentity: "5511999990000@s.whatsapp.net",
	}).Error)

	c, err := r.Resolve(context.Background(), "ws1", "sales",
		directEnvelope("5511999990000@s.whatsapp.net", digits, "Ana"))
	require.NoError(t, err)
	assert.True(t, c.IsReal)
	assert.Equal(t, "Ana", c.Name)

	var stored models.Contact
	require.NoError(t, conn.First(&stored, c.ID).Error)
	assert.True(t, stored.IsReal)
	assert.Equal(t, "Ana", stored.Name)
}

func TestMergePlaceholderRepointsAndDeletes(t *testing.T) {
	conn := newTestDB(t)
	r := NewContactResolver(conn, nil)
	ctx := context.Background()
	rawID := "81896604192873@lid"

	ph, err := r.Resolve(ctx, "ws1", "sales", directEnvelope(rawID, "", "Carlos"))
	require.NoError(t, err)

	inst := seedInstance(t, conn, "ws1", "sales")
	remote := rawID
	conv := models.Conversation{
		WorkspaceID:       "ws1",
		ChannelInstanceID: inst.ID,
		RemoteID:          &remote,
		ContactID:         ph.ID,
	}
	require.NoError(t, conn.Create(&conv).Error)
	card := models.Card{WorkspaceID: "ws1", ContactID: ph.ID, Title: "Lead"}
	require.NoError(t, conn.Create(&card).Error)

	// The same person now shows up with a resolvable phone number.
	real, err := r.Resolve(ctx, "ws1", "sales",
		directEnvelope(rawID, "5511999990000", ""))
	require.NoError(t, err)
	assert.True(t, real.IsReal)
	assert.NotEqual(t, ph.ID, real.ID)

	var gotConv models.Conversation
	require.NoError(t, conn.First(&gotConv, conv.ID).Error)
	assert.Equal(t, real.ID, gotConv.ContactID)

	var gotCard models.Card
	require.NoError(t, conn.First(&gotCard, card.ID).Error)
	assert.Equal(t, real.ID, gotCard.ContactID)

	// The placeholder's history is folded in, including its better name.
	var merged models.Contact
	require.NoError(t, conn.First(&merged, real.ID).Error)
	assert.Equal(t, "Carlos", merged.Name)

	// Nothing references the placeholder anymore, so it is gone.
	var count int64
	require.NoError(t, conn.Model(&models.Contact{}).Where("id = ?", ph.ID).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}

func TestMergePlaceholderNoopWithoutPlaceholder(t *testing.T) {
	conn := newTestDB(t)
	r := NewContactResolver(conn, nil)

	real, err := r.Resolve(context.Background(), "ws1", "sales",
		directEnvelope("5511999990000@s.whatsapp.net", "5511999990000", "Ana"))
	require.NoError(t, err)

	require.NoError(t, r.MergePlaceholder("ws1", "404@lid", real))

	var count int64
	require.NoError(t, conn.Model(&models.Contact{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestResolveGroupParticipantSourceType(t *testing.T) {
	conn := newTestDB(t)
	r := NewContactResolver(conn, nil)

	env := &webhook.Envelope{
		ConversationID: "120363025246125486@g.us",
		Kind:           webhook.KindGroup,
		SenderID:       "5521888880000@s.whatsapp.net",
		SenderDigits:   "5521888880000",
		DisplayName:    "Bruno",
	}
	c, err := r.Resolve(context.Background(), "ws1", "sales", env)
	require.NoError(t, err)
	assert.Equal(t, models.SourceGroup, c.SourceType)
}

func TestResolveRealStoresAvatarOnce(t *testing.T) {
	conn := newTestDB(t)
	provider := &fakeProvider{pictureURL: "https://pps.test/p.jpg", mediaData: []byte("notanimage"), mediaMime: "image/jpeg"}
	store := newFakeStore()
	r := NewContactResolver(conn, NewMediaService(provider, store))
	ctx := context.Background()

	c, err := r.Resolve(ctx, "ws1", "sales",
		directEnvelope("5511999990000@s.whatsapp.net", "5511999990000", "Ana"))
	require.NoError(t, err)
	assert.NotEmpty(t, c.AvatarURL)
	assert.Equal(t, 1, provider.avatarCalls)

	// A contact that already has an avatar is not refetched.
	_, err = r.Resolve(ctx, "ws1", "sales",
		directEnvelope("5511999990000@s.whatsapp.net", "5511999990000", "Ana"))
	require.NoError(t, err)
	assert.Equal(t, 1, provider.avatarCalls)
}
