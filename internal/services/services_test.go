package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"zapcrm/internal/db"
	"zapcrm/internal/models"
)

var testDBSeq int64

// newTestDB opens a fresh in-memory database per test. A named shared-cache
// DSN is required because gorm pools connections and a bare :memory: DSN
// would give each pooled connection its own empty database.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	conn, err := db.Open(dsn)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn, models.All()...))
	return conn
}

func seedInstance(t *testing.T, conn *gorm.DB, workspaceID, name string) *models.ChannelInstance {
	t.Helper()
	inst := &models.ChannelInstance{
		WorkspaceID: workspaceID,
		Name:        name,
		Status:      models.InstanceConnected,
		Active:      true,
	}
	require.NoError(t, conn.Create(inst).Error)
	return inst
}

// fakeProvider is a canned ProviderAPI for media tests.
type fakeProvider struct {
	pictureURL string
	mediaData  []byte
	mediaMime  string
	fail       bool

	mediaCalls  int
	avatarCalls int
}

func (f *fakeProvider) ProfilePictureURL(_ context.Context, _, _ string) (string, error) {
	f.avatarCalls++
	if f.fail {
		return "", errors.New("provider unavailable")
	}
	return f.pictureURL, nil
}

func (f *fakeProvider) MediaBase64(_ context.Context, _, _ string) ([]byte, string, error) {
	f.mediaCalls++
	if f.fail {
		return nil, "", errors.New("provider unavailable")
	}
	return f.mediaData, f.mediaMime, nil
}

func (f *fakeProvider) Download(_ context.Context, _ string) ([]byte, string, error) {
	if f.fail {
		return nil, "", errors.New("provider unavailable")
	}
	return f.mediaData, f.mediaMime, nil
}

// fakeStore records uploads and returns deterministic URLs.
type fakeStore struct {
	uploads map[string][]byte
	fail    bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{uploads: map[string][]byte{}}
}

func (f *fakeStore) Upload(_ context.Context, key string, data []byte, _ string) (string, error) {
	if f.fail {
		return "", errors.New("bucket unavailable")
	}
	f.uploads[key] = data
	return "https://cdn.test/" + key, nil
}
