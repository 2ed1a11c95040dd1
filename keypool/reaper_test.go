package keypool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/config"
	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/storage"
)

func TestReaperRehabilitatesExpiredCooldown(t *testing.T) {
	pool, store, _ := newTestPool(t)
	config.AppSettings.CooldownDuration = 20 * time.Millisecond
	config.AppSettings.ReaperInterval = 10 * time.Millisecond

	rec := mustAdd(t, pool, "key-a", "eastasia", 1)
	_, err := pool.ReportOutcome(rec.Key, 429, "", Caller{})
	require.NoError(t, err)
	require.Equal(t, storage.StatusCooldown, store.get(rec.ID).Status)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reaper := NewReaper(pool, pool.log)
	go reaper.Run(ctx)

	require.Eventually(t, func() bool {
		return store.get(rec.ID).Status == storage.StatusEnabled
	}, 2*time.Second, 5*time.Millisecond, "冷却到期后回收任务应自动恢复密钥")

	persisted := store.get(rec.ID)
	require.Equal(t, 0, persisted.ErrorCount)
	require.Nil(t, persisted.CooldownUntil)
}
