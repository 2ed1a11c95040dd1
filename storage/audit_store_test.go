package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendEvent(t *testing.T, store *AuditStore, service string, keyID uint, action AuditAction) {
	t.Helper()
	id := keyID
	require.NoError(t, store.Append(&AuditLog{
		EventID: fmt.Sprintf("evt-%s-%d-%s-%d", service, keyID, action, time.Now().UnixNano()),
		Service: service,
		KeyID:   &id,
		Action:  action,
	}))
}

func TestAuditStoreQueryFilters(t *testing.T) {
	store := NewAuditStore(openTestDB(t))
	appendEvent(t, store, ServiceSpeech, 1, ActionGetKey)
	appendEvent(t, store, ServiceSpeech, 1, ActionCooldownStart)
	appendEvent(t, store, ServiceSpeech, 2, ActionGetKey)
	appendEvent(t, store, ServiceTranslation, 3, ActionDisableKey)

	// 无过滤条件返回全部，按时间倒序。
	events, total, err := store.Query(AuditFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	require.Len(t, events, 4)
	assert.Equal(t, ActionDisableKey, events[0].Action, "最新事件在最前")

	// 按服务类别过滤。
	_, total, err = store.Query(AuditFilter{Service: ServiceSpeech})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	// 按密钥过滤。
	keyID := uint(1)
	events, total, err = store.Query(AuditFilter{KeyID: &keyID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	for _, e := range events {
		assert.Equal(t, keyID, *e.KeyID)
	}

	// 按动作过滤。
	_, total, err = store.Query(AuditFilter{Action: ActionGetKey})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	// 分页。
	events, total, err = store.Query(AuditFilter{Offset: 3, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Len(t, events, 1)
}

func TestAuditStorePruneOlderThan(t *testing.T) {
	db := openTestDB(t)
	store := NewAuditStore(db)

	appendEvent(t, store, ServiceSpeech, 1, ActionGetKey)
	appendEvent(t, store, ServiceSpeech, 1, ActionGetKey)

	// 把第一条事件改为 10 天前。
	var oldest AuditLog
	require.NoError(t, db.Order("id asc").First(&oldest).Error)
	require.NoError(t, db.Model(&AuditLog{}).Where("id = ?", oldest.ID).
		Update("created_at", time.Now().Add(-10*24*time.Hour)).Error)

	removed, err := store.PruneOlderThan(7 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, total, err := store.Query(AuditFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	// 保留时长为 0 表示永久保留。
	removed, err = store.PruneOlderThan(0)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
