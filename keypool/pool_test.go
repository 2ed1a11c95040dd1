package keypool

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/config"
	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/storage"
)

var errStoreDown = errors.New("store down")

// memStore 是 KeyStore 的内存实现，failWrites 置位后所有写操作失败，
// 用于验证失败关闭与降级行为。
type memStore struct {
	mu         sync.Mutex
	nextID     uint
	records    map[uint]*storage.KeyRecord
	failWrites bool
}

func newMemStore() *memStore {
	return &memStore{records: make(map[uint]*storage.KeyRecord)}
}

func (m *memStore) setFailWrites(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = fail
}

func (m *memStore) get(id uint) storage.KeyRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.records[id]
}

func (m *memStore) ListByService(service string) ([]*storage.KeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*storage.KeyRecord
	for _, rec := range m.records {
		if rec.Service == service {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) Create(rec *storage.KeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errStoreDown
	}
	for _, r := range m.records {
		if r.Service == rec.Service && r.Key == rec.Key {
			return storage.ErrKeyAlreadyExists
		}
	}
	m.nextID++
	rec.ID = m.nextID
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *memStore) UpdateFields(id uint, updates map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errStoreDown
	}
	rec, ok := m.records[id]
	if !ok {
		return storage.ErrKeyNotFound
	}
	applyUpdates(rec, updates)
	return nil
}

func (m *memStore) UpdateFieldsWithAudit(id uint, updates map[string]interface{}, _ *storage.AuditLog) error {
	return m.UpdateFields(id, updates)
}

func (m *memStore) Delete(id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errStoreDown
	}
	if _, ok := m.records[id]; !ok {
		return storage.ErrKeyNotFound
	}
	delete(m.records, id)
	return nil
}

func applyUpdates(rec *storage.KeyRecord, updates map[string]interface{}) {
	for field, value := range updates {
		switch field {
		case "status":
			rec.Status = value.(string)
		case "usage_count":
			rec.UsageCount = value.(int64)
		case "error_count":
			rec.ErrorCount = value.(int)
		case "last_used_at":
			ts := value.(time.Time)
			rec.LastUsedAt = &ts
		case "cooldown_until":
			if value == nil {
				rec.CooldownUntil = nil
			} else {
				ts := value.(time.Time)
				rec.CooldownUntil = &ts
			}
		case "region":
			rec.Region = value.(string)
		case "key_name":
			rec.KeyName = value.(string)
		case "priority_weight":
			rec.PriorityWeight = value.(int)
		}
	}
}

// memAudit 收集审计事件。Append 在池锁内被调用，必须无阻塞。
type memAudit struct {
	mu     sync.Mutex
	events []*storage.AuditLog
}

func (m *memAudit) Append(event *storage.AuditLog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *memAudit) countAction(action storage.AuditAction) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Action == action {
			n++
		}
	}
	return n
}

func (m *memAudit) lastAction() storage.AuditAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return ""
	}
	return m.events[len(m.events)-1].Action
}

func newTestPool(t *testing.T) (*Pool, *memStore, *memAudit) {
	t.Helper()
	config.AppSettings = config.Settings{
		CooldownDuration:     2 * time.Minute,
		CooldownTriggerCodes: []int{429},
		DisableTriggerCodes:  []int{401, 403},
		ErrorThreshold:       3,
		ReaperInterval:       10 * time.Millisecond,
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := newMemStore()
	audit := &memAudit{}
	pool := NewPool(storage.ServiceSpeech, store, audit, logger)
	require.NoError(t, pool.Reload())
	return pool, store, audit
}

func mustAdd(t *testing.T, pool *Pool, key, region string, weight int) *storage.KeyRecord {
	t.Helper()
	rec := &storage.KeyRecord{Key: key, Region: region, PriorityWeight: weight}
	require.NoError(t, pool.AddKey(rec, Caller{}))
	return rec
}

func TestSelectPrefersHigherWeight(t *testing.T) {
	pool, _, _ := newTestPool(t)
	mustAdd(t, pool, "key-low", "eastasia", 1)
	heavy := mustAdd(t, pool, "key-heavy", "eastasia", 5)

	rec, degraded, err := pool.Select("eastasia", nil, Caller{})
	require.NoError(t, err)
	assert.False(t, degraded)
	assert.Equal(t, heavy.ID, rec.ID)
}

func TestSelectFallbackOnlyWhenNoNormalKey(t *testing.T) {
	pool, _, _ := newTestPool(t)
	fallback := mustAdd(t, pool, "key-fallback", "", 0)
	normal := mustAdd(t, pool, "key-normal", "eastasia", 1)

	rec, _, err := pool.Select("eastasia", nil, Caller{})
	require.NoError(t, err)
	assert.Equal(t, normal.ID, rec.ID, "普通密钥存在时不得选中兜底密钥")

	require.NoError(t, pool.Disable(normal.ID, "", Caller{}))
	rec, _, err = pool.Select("eastasia", nil, Caller{})
	require.NoError(t, err)
	assert.Equal(t, fallback.ID, rec.ID, "普通密钥全部不可用时回落到兜底密钥")
}

func TestSelectExactRegionBeforeWildcard(t *testing.T) {
	pool, _, _ := newTestPool(t)
	mustAdd(t, pool, "key-wildcard", "", 1)
	exact := mustAdd(t, pool, "key-exact", "japaneast", 1)

	rec, _, err := pool.Select("japaneast", nil, Caller{})
	require.NoError(t, err)
	assert.Equal(t, exact.ID, rec.ID)

	// 请求其他区域时通配密钥是唯一候选。
	rec, _, err = pool.Select("westeurope", nil, Caller{})
	require.NoError(t, err)
	assert.Equal(t, "key-wildcard", rec.Key)

	// 区域不匹配且无通配密钥时无候选。
	require.NoError(t, pool.DeleteKey(rec.ID, Caller{}))
	_, _, err = pool.Select("westeurope", nil, Caller{})
	assert.ErrorIs(t, err, ErrNoEligibleKey)
}

func TestSelectLeastRecentlyUsedTiebreak(t *testing.T) {
	pool, _, _ := newTestPool(t)
	a := mustAdd(t, pool, "key-a", "eastasia", 1)
	b := mustAdd(t, pool, "key-b", "eastasia", 1)

	// 同权重同区域：从未使用的密钥优先，之后在两者间轮转。
	rec1, _, err := pool.Select("eastasia", nil, Caller{})
	require.NoError(t, err)
	rec2, _, err := pool.Select("eastasia", nil, Caller{})
	require.NoError(t, err)
	assert.NotEqual(t, rec1.ID, rec2.ID)

	rec3, _, err := pool.Select("eastasia", nil, Caller{})
	require.NoError(t, err)
	assert.Equal(t, rec1.ID, rec3.ID, "最久未使用的密钥应再次被选中")

	assert.ElementsMatch(t, []uint{a.ID, b.ID}, []uint{rec1.ID, rec2.ID})
}

func TestSelectExclude(t *testing.T) {
	pool, _, _ := newTestPool(t)
	a := mustAdd(t, pool, "key-a", "eastasia", 5)
	b := mustAdd(t, pool, "key-b", "eastasia", 1)

	rec, _, err := pool.Select("eastasia", map[string]bool{a.Key: true}, Caller{})
	require.NoError(t, err)
	assert.Equal(t, b.ID, rec.ID)

	_, _, err = pool.Select("eastasia", map[string]bool{a.Key: true, b.Key: true}, Caller{})
	assert.ErrorIs(t, err, ErrNoEligibleKey)
}

func TestSelectUpdatesCounters(t *testing.T) {
	pool, store, audit := newTestPool(t)
	rec := mustAdd(t, pool, "key-a", "eastasia", 1)

	_, _, err := pool.Select("eastasia", nil, Caller{IP: "10.0.0.1", Agent: "test"})
	require.NoError(t, err)

	persisted := store.get(rec.ID)
	assert.Equal(t, int64(1), persisted.UsageCount)
	assert.NotNil(t, persisted.LastUsedAt)
	assert.Equal(t, 1, audit.countAction(storage.ActionGetKey))
}

func TestSelectDegradedOnStoreFailure(t *testing.T) {
	pool, store, _ := newTestPool(t)
	rec := mustAdd(t, pool, "key-a", "eastasia", 1)

	store.setFailWrites(true)
	got, degraded, err := pool.Select("eastasia", nil, Caller{})
	require.NoError(t, err, "读路径在存储不可用时仍然服务")
	assert.True(t, degraded)
	assert.Equal(t, rec.Key, got.Key)
	assert.True(t, pool.Degraded())

	// 计数未递增：索引保持最后一次已知良好的状态。
	cached, err := pool.GetByID(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cached.UsageCount)

	// 存储恢复后下一次成功写入清除降级标志。
	store.setFailWrites(false)
	_, degraded, err = pool.Select("eastasia", nil, Caller{})
	require.NoError(t, err)
	assert.False(t, degraded)
	assert.False(t, pool.Degraded())
}

func TestReportCooldownTransition(t *testing.T) {
	pool, store, audit := newTestPool(t)
	rec := mustAdd(t, pool, "key-a", "eastasia", 1)

	status, err := pool.ReportOutcome(rec.Key, 429, "rate limited", Caller{})
	require.NoError(t, err)
	assert.Equal(t, StatusCooldown, status)

	persisted := store.get(rec.ID)
	assert.Equal(t, storage.StatusCooldown, persisted.Status)
	require.NotNil(t, persisted.CooldownUntil)
	assert.WithinDuration(t, time.Now().Add(2*time.Minute), *persisted.CooldownUntil, 5*time.Second)
	assert.Equal(t, 1, persisted.ErrorCount)
	assert.Equal(t, storage.ActionCooldownStart, audit.lastAction())

	// 冷却中的密钥不再是候选。
	_, _, err = pool.Select("eastasia", nil, Caller{})
	assert.ErrorIs(t, err, ErrNoEligibleKey)

	// 冷却中再次收到 429 只计数，不重置冷却截止时间。
	until := *persisted.CooldownUntil
	status, err = pool.ReportOutcome(rec.Key, 429, "", Caller{})
	require.NoError(t, err)
	assert.Equal(t, StatusCooldown, status)
	persisted = store.get(rec.ID)
	assert.Equal(t, 2, persisted.ErrorCount)
	assert.Equal(t, until, *persisted.CooldownUntil)
	assert.Equal(t, 1, audit.countAction(storage.ActionCooldownStart))
}

func TestReportDisableThreshold(t *testing.T) {
	pool, store, audit := newTestPool(t)
	rec := mustAdd(t, pool, "key-a", "eastasia", 1)

	// 前两次禁用触发码只计数。
	for i := 1; i <= 2; i++ {
		status, err := pool.ReportOutcome(rec.Key, 401, "", Caller{})
		require.NoError(t, err)
		assert.Equal(t, StatusEnabled, status)
		assert.Equal(t, i, store.get(rec.ID).ErrorCount)
	}
	assert.Equal(t, 0, audit.countAction(storage.ActionDisableKey))

	// 第三次达到阈值，禁用。
	status, err := pool.ReportOutcome(rec.Key, 401, "", Caller{})
	require.NoError(t, err)
	assert.Equal(t, StatusDisabled, status)
	persisted := store.get(rec.ID)
	assert.Equal(t, storage.StatusDisabled, persisted.Status)
	assert.Equal(t, 3, persisted.ErrorCount)
	assert.Equal(t, 1, audit.countAction(storage.ActionDisableKey))

	// disabled 是终态：继续报告不再变化。
	status, err = pool.ReportOutcome(rec.Key, 401, "", Caller{})
	require.NoError(t, err)
	assert.Equal(t, StatusDisabled, status)
	assert.Equal(t, 1, audit.countAction(storage.ActionDisableKey))
}

func TestReportUnlistedFailureOnlyCounts(t *testing.T) {
	pool, store, _ := newTestPool(t)
	rec := mustAdd(t, pool, "key-a", "eastasia", 1)

	status, err := pool.ReportOutcome(rec.Key, 500, "", Caller{})
	require.NoError(t, err)
	assert.Equal(t, StatusEnabled, status)
	assert.Equal(t, 1, store.get(rec.ID).ErrorCount)
}

func TestReportSuccessDoesNotResetErrorCount(t *testing.T) {
	pool, store, _ := newTestPool(t)
	rec := mustAdd(t, pool, "key-a", "eastasia", 1)

	_, err := pool.ReportOutcome(rec.Key, 401, "", Caller{})
	require.NoError(t, err)
	_, err = pool.ReportOutcome(rec.Key, 200, "", Caller{})
	require.NoError(t, err)
	// 错误计数只在恢复 enabled 转换时清零，成功报告不清零。
	assert.Equal(t, 1, store.get(rec.ID).ErrorCount)
}

func TestReportUnknownKey(t *testing.T) {
	pool, _, _ := newTestPool(t)
	_, err := pool.ReportOutcome("no-such-key", 429, "", Caller{})
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestReportFailsClosedOnStoreFailure(t *testing.T) {
	pool, store, _ := newTestPool(t)
	rec := mustAdd(t, pool, "key-a", "eastasia", 1)

	store.setFailWrites(true)
	_, err := pool.ReportOutcome(rec.Key, 429, "", Caller{})
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	// 内存状态未变更，密钥仍可被选取逻辑看到。
	cached, gerr := pool.GetByID(rec.ID)
	require.NoError(t, gerr)
	assert.Equal(t, storage.StatusEnabled, cached.Status)
	assert.Equal(t, 0, cached.ErrorCount)
}

func TestAddKeyDuplicate(t *testing.T) {
	pool, _, _ := newTestPool(t)
	mustAdd(t, pool, "key-a", "eastasia", 1)

	err := pool.AddKey(&storage.KeyRecord{Key: "key-a", Region: "japaneast"}, Caller{})
	assert.ErrorIs(t, err, ErrKeyAlreadyExists)
	assert.Equal(t, 1, pool.TotalKeys())
}

func TestDeleteKey(t *testing.T) {
	pool, _, audit := newTestPool(t)
	rec := mustAdd(t, pool, "key-a", "eastasia", 1)

	require.NoError(t, pool.DeleteKey(rec.ID, Caller{}))
	assert.Equal(t, 0, pool.TotalKeys())
	assert.Equal(t, storage.ActionDeleteKey, audit.lastAction())

	assert.ErrorIs(t, pool.DeleteKey(rec.ID, Caller{}), ErrKeyNotFound)
	_, _, err := pool.Select("eastasia", nil, Caller{})
	assert.ErrorIs(t, err, ErrNoEligibleKey)
}

func TestEnableDisableRoundTrip(t *testing.T) {
	pool, store, audit := newTestPool(t)
	rec := mustAdd(t, pool, "key-a", "eastasia", 1)

	// 原地启用是无效转换。
	assert.ErrorIs(t, pool.Enable(rec.ID, Caller{}), ErrInvalidTransition)

	require.NoError(t, pool.Disable(rec.ID, "manual", Caller{}))
	assert.Equal(t, storage.StatusDisabled, store.get(rec.ID).Status)

	// 累积一些错误计数后再启用，计数应清零。
	_, err := pool.ReportOutcome(rec.Key, 429, "", Caller{})
	require.NoError(t, err) // disabled 终态，只计数
	require.NoError(t, pool.Enable(rec.ID, Caller{}))

	persisted := store.get(rec.ID)
	assert.Equal(t, storage.StatusEnabled, persisted.Status)
	assert.Equal(t, 0, persisted.ErrorCount)
	assert.Nil(t, persisted.CooldownUntil)
	assert.Equal(t, 1, audit.countAction(storage.ActionEnableKey))
	assert.GreaterOrEqual(t, audit.countAction(storage.ActionDisableKey), 1)
}

func TestSetStatus(t *testing.T) {
	pool, store, _ := newTestPool(t)
	rec := mustAdd(t, pool, "key-a", "eastasia", 1)

	require.NoError(t, pool.SetStatus(rec.ID, StatusCooldown, "manual cooldown", Caller{}))
	persisted := store.get(rec.ID)
	assert.Equal(t, storage.StatusCooldown, persisted.Status)
	require.NotNil(t, persisted.CooldownUntil)

	require.NoError(t, pool.SetStatus(rec.ID, StatusEnabled, "", Caller{}))
	persisted = store.get(rec.ID)
	assert.Equal(t, storage.StatusEnabled, persisted.Status)
	assert.Nil(t, persisted.CooldownUntil)

	assert.ErrorIs(t, pool.SetStatus(rec.ID, StatusEnabled, "", Caller{}), ErrInvalidTransition)
	assert.ErrorIs(t, pool.SetStatus(rec.ID, Status("bogus"), "", Caller{}), ErrInvalidTransition)
}

func TestEdit(t *testing.T) {
	pool, store, _ := newTestPool(t)
	rec := mustAdd(t, pool, "key-a", "eastasia", 1)

	region := "japaneast"
	name := "renamed"
	weight := 7
	require.NoError(t, pool.Edit(rec.ID, EditRequest{Region: &region, KeyName: &name, PriorityWeight: &weight}))

	persisted := store.get(rec.ID)
	assert.Equal(t, "japaneast", persisted.Region)
	assert.Equal(t, "renamed", persisted.KeyName)
	assert.Equal(t, 7, persisted.PriorityWeight)

	// 空编辑是无副作用的成功。
	require.NoError(t, pool.Edit(rec.ID, EditRequest{}))
	assert.ErrorIs(t, pool.Edit(999, EditRequest{Region: &region}), ErrKeyNotFound)
}

func TestReapExpired(t *testing.T) {
	pool, store, audit := newTestPool(t)
	expired := mustAdd(t, pool, "key-expired", "eastasia", 1)
	active := mustAdd(t, pool, "key-active", "eastasia", 1)

	_, err := pool.ReportOutcome(expired.Key, 429, "", Caller{})
	require.NoError(t, err)
	_, err = pool.ReportOutcome(active.Key, 429, "", Caller{})
	require.NoError(t, err)

	// 只有第一把密钥的冷却到期。
	reaped := pool.ReapExpired(time.Now().Add(3*time.Minute), Caller{Agent: "cooldown-reaper"})
	require.Equal(t, 2, reaped, "两把密钥的冷却都已到期")

	// 重新构造：到期与未到期并存。
	_, err = pool.ReportOutcome(expired.Key, 429, "", Caller{})
	require.NoError(t, err)
	reaped = pool.ReapExpired(time.Now(), Caller{})
	assert.Equal(t, 0, reaped, "未到期的冷却不得恢复")

	reaped = pool.ReapExpired(time.Now().Add(3*time.Minute), Caller{})
	assert.Equal(t, 1, reaped)

	persisted := store.get(expired.ID)
	assert.Equal(t, storage.StatusEnabled, persisted.Status)
	assert.Equal(t, 0, persisted.ErrorCount)
	assert.Nil(t, persisted.CooldownUntil)
	assert.Equal(t, 3, audit.countAction(storage.ActionCooldownEnd))
}

func TestReapExpiredSelfHealsOnStoreFailure(t *testing.T) {
	pool, store, audit := newTestPool(t)
	rec := mustAdd(t, pool, "key-a", "eastasia", 1)
	_, err := pool.ReportOutcome(rec.Key, 429, "", Caller{})
	require.NoError(t, err)

	store.setFailWrites(true)
	reaped := pool.ReapExpired(time.Now().Add(3*time.Minute), Caller{})
	assert.Equal(t, 0, reaped)
	assert.True(t, pool.Degraded())
	assert.Equal(t, 0, audit.countAction(storage.ActionCooldownEnd))

	// 存储恢复后下一轮扫描抓到同一把逾期密钥。
	store.setFailWrites(false)
	reaped = pool.ReapExpired(time.Now().Add(3*time.Minute), Caller{})
	assert.Equal(t, 1, reaped)
	assert.Equal(t, storage.StatusEnabled, store.get(rec.ID).Status)
}

func TestReapExpiredAfterManualEnable(t *testing.T) {
	pool, _, audit := newTestPool(t)
	rec := mustAdd(t, pool, "key-a", "eastasia", 1)
	_, err := pool.ReportOutcome(rec.Key, 429, "", Caller{})
	require.NoError(t, err)

	// 管理员在冷却到期前手动启用，随后的回收扫描不得产生重复事件。
	require.NoError(t, pool.Enable(rec.ID, Caller{}))
	reaped := pool.ReapExpired(time.Now().Add(3*time.Minute), Caller{})
	assert.Equal(t, 0, reaped)
	assert.Equal(t, 0, audit.countAction(storage.ActionCooldownEnd))
	assert.Equal(t, 1, audit.countAction(storage.ActionEnableKey))
}

func TestRecordTest(t *testing.T) {
	pool, store, audit := newTestPool(t)
	rec := mustAdd(t, pool, "key-a", "eastasia", 1)

	// 成功探测只留审计，不驱动状态机。
	status, err := pool.RecordTest(rec.ID, 200, Caller{})
	require.NoError(t, err)
	assert.Equal(t, StatusEnabled, status)
	assert.Equal(t, 0, store.get(rec.ID).ErrorCount)

	// 失败探测走与线上失败报告相同的路径。
	status, err = pool.RecordTest(rec.ID, 429, Caller{})
	require.NoError(t, err)
	assert.Equal(t, StatusCooldown, status)
	assert.Equal(t, 2, audit.countAction(storage.ActionTestKey))
	assert.Equal(t, 1, audit.countAction(storage.ActionCooldownStart))

	_, err = pool.RecordTest(999, 200, Caller{})
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestSnapshotAndReload(t *testing.T) {
	pool, _, _ := newTestPool(t)
	a := mustAdd(t, pool, "key-a", "eastasia", 1)
	b := mustAdd(t, pool, "key-b", "japaneast", 2)

	safe := pool.Snapshot()
	require.Len(t, safe, 2)
	assert.Equal(t, a.ID, safe[0].ID)
	assert.Equal(t, b.ID, safe[1].ID)
	for _, s := range safe {
		assert.NotContains(t, s.KeySuffix, "key-", "快照不得泄露完整密钥")
	}

	// 重建索引后内容一致。
	require.NoError(t, pool.Reload())
	assert.Equal(t, 2, pool.TotalKeys())
	rec, err := pool.GetByKey("key-b")
	require.NoError(t, err)
	assert.Equal(t, b.ID, rec.ID)
}

func TestConcurrentSelectAndReport(t *testing.T) {
	pool, store, _ := newTestPool(t)
	for _, key := range []string{"key-a", "key-b", "key-c"} {
		mustAdd(t, pool, key, "eastasia", 1)
	}

	var wg sync.WaitGroup
	var selected sync.Map
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				rec, _, err := pool.Select("eastasia", nil, Caller{})
				if err != nil {
					continue
				}
				selected.Store(rec.Key, true)
				// 混入成功与集合外失败的报告，不应触发任何转换。
				code := 200
				if j%5 == 0 {
					code = 500
				}
				_, _ = pool.ReportOutcome(rec.Key, code, "", Caller{})
			}
		}()
	}
	wg.Wait()

	// 所有密钥都仍然 enabled，使用计数总和等于成功选取次数。
	var total int64
	for id := uint(1); id <= 3; id++ {
		persisted := store.get(id)
		assert.Equal(t, storage.StatusEnabled, persisted.Status)
		total += persisted.UsageCount
	}
	assert.Equal(t, int64(8*50), total)
}
