package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapcrm/internal/models"
)

func TestWriteIgnoresDuplicateExternalID(t *testing.T) {
	conn := newTestDB(t)
	inst := seedInstance(t, conn, "ws1", "sales")
	w := NewMessageWriter(conn)

	ext := "3EB0A"
	msg := &models.Message{
		WorkspaceID:       "ws1",
		ChannelInstanceID: inst.ID,
		ExternalID:        &ext,
		ConversationID:    1,
		Body:              "Oi",
		Type:              "text",
		Status:            MessageReceived,
		Timestamp:         time.Now(),
	}
	inserted, err := w.Write(msg)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := *msg
	dup.ID = 0
	inserted, err = w.Write(&dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	var count int64
	require.NoError(t, conn.Model(&models.Message{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestWriteAllowsMessagesWithoutExternalID(t *testing.T) {
	conn := newTestDB(t)
	inst := seedInstance(t, conn, "ws1", "sales")
	w := NewMessageWriter(conn)

	for i := 0; i < 2; i++ {
		inserted, err := w.Write(&models.Message{
			WorkspaceID:       "ws1",
			ChannelInstanceID: inst.ID,
			ConversationID:    1,
			Body:              "no id",
			Type:              "text",
			Status:            MessageReceived,
			Timestamp:         time.Now(),
		})
		require.NoError(t, err)
		assert.True(t, inserted)
	}
}

func TestTouchMonotonicAndUnread(t *testing.T) {
	conn := newTestDB(t)
	inst := seedInstance(t, conn, "ws1", "sales")
	w := NewMessageWriter(conn)

	remote := "5511999990000@s.whatsapp.net"
	conv := models.Conversation{
		WorkspaceID:       "ws1",
		ChannelInstanceID: inst.ID,
		RemoteID:          &remote,
		ContactID:         1,
	}
	require.NoError(t, conn.Create(&conv).Error)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, w.Touch(&conv, now, true, true))

	var stored models.Conversation
	require.NoError(t, conn.First(&stored, conv.ID).Error)
	require.NotNil(t, stored.LastMessageAt)
	assert.Equal(t, 1, stored.UnreadCount)

	// An out-of-order older message never rewinds last activity.
	require.NoError(t, w.Touch(&stored, now.Add(-time.Hour), true, true))
	var after models.Conversation
	require.NoError(t, conn.First(&after, conv.ID).Error)
	assert.False(t, after.LastMessageAt.Before(*stored.LastMessageAt))
	assert.Equal(t, 2, after.UnreadCount)

	// Outgoing and redelivered messages do not bump the unread counter.
	require.NoError(t, w.Touch(&after, now.Add(time.Hour), false, true))
	require.NoError(t, w.Touch(&after, now.Add(time.Hour), true, false))
	var final models.Conversation
	require.NoError(t, conn.First(&final, conv.ID).Error)
	assert.Equal(t, 2, final.UnreadCount)
	assert.True(t, final.LastMessageAt.After(now))
}

func TestUpdateStatus(t *testing.T) {
	conn := newTestDB(t)
	inst := seedInstance(t, conn, "ws1", "sales")
	w := NewMessageWriter(conn)

	ext := "3EB0A"
	require.NoError(t, conn.Create(&models.Message{
		WorkspaceID:       "ws1",
		ChannelInstanceID: inst.ID,
		ExternalID:        &ext,
		ConversationID:    1,
		Status:            MessageSent,
		Timestamp:         time.Now(),
	}).Error)

	touched, err := w.UpdateStatus("ws1", inst.ID, "3EB0A", MessageRead)
	require.NoError(t, err)
	assert.True(t, touched)

	var stored models.Message
	require.NoError(t, conn.Where("external_id = ?", ext).First(&stored).Error)
	assert.Equal(t, MessageRead, stored.Status)
}

func TestUpdateStatusNeverCreates(t *testing.T) {
	conn := newTestDB(t)
	inst := seedInstance(t, conn, "ws1", "sales")
	w := NewMessageWriter(conn)

	touched, err := w.UpdateStatus("ws1", inst.ID, "NEVERSEEN", MessageDelivered)
	require.NoError(t, err)
	assert.False(t, touched)

	var count int64
	require.NoError(t, conn.Model(&models.Message{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)

	// Blank identifiers are rejected up front.
	touched, err = w.UpdateStatus("ws1", inst.ID, "", MessageDelivered)
	require.NoError(t, err)
	assert.False(t, touched)
}
