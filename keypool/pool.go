package keypool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/config"
	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/storage"
	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/utils"
)

// 定义一些包级别的错误，方便调用者进行类型检查。
var (
	ErrNoEligibleKey     = errors.New("no eligible key for the requested service class and region") // 没有可选密钥，正常可报告的结果而非故障
	ErrKeyNotFound       = errors.New("key not found in the pool")                                   // 操作的密钥不存在
	ErrKeyAlreadyExists  = errors.New("key already exists in the pool")                              // 同一服务类别下密钥重复
	ErrInvalidTransition = errors.New("invalid key status transition")                               // 违反状态机的转换请求
	ErrStoreUnavailable  = errors.New("key record store unavailable")                                // 持久层不可用，所有写操作失败关闭
)

// KeyStore 是池对持久层的全部要求。*storage.KeyStore 实现了该接口。
type KeyStore interface {
	ListByService(service string) ([]*storage.KeyRecord, error)
	Create(rec *storage.KeyRecord) error
	UpdateFields(id uint, updates map[string]interface{}) error
	UpdateFieldsWithAudit(id uint, updates map[string]interface{}, event *storage.AuditLog) error
	Delete(id uint) error
}

// AuditSink 接收审计事件。写入相对于触发它的操作是 fire-and-forget 的：
// 实现不得阻塞调用方，写入失败也不得影响已提交的状态变更。
type AuditSink interface {
	Append(event *storage.AuditLog)
}

// Caller 是审计事件中记录的调用方元数据。
type Caller struct {
	IP    string
	Agent string
}

// Pool 维护单个服务类别的密钥池：内存索引、选取算法与状态机的唯一入口。
// 所有对同一密钥的变更都经由池锁线性化；不同服务类别的池相互独立。
// 索引只持有派生状态，数据库是唯一真实来源，先提交存储再发布到索引。
type Pool struct {
	service string
	store   KeyStore
	audit   AuditSink
	log     *logrus.Logger

	lock     sync.Mutex
	keys     map[uint]*KeyState // 按记录 ID 索引的全部密钥（含 cooldown/disabled）
	byKey    map[string]uint    // 密钥字符串 -> 记录 ID
	degraded bool               // 上次持久化失败后置位，成功写入或重建后清除
}

// NewPool 创建一个服务类别的密钥池。调用 Reload 填充索引后方可服务请求。
func NewPool(service string, store KeyStore, audit AuditSink, logger *logrus.Logger) *Pool {
	return &Pool{
		service: service,
		store:   store,
		audit:   audit,
		log:     logger,
		keys:    make(map[uint]*KeyState),
		byKey:   make(map[string]uint),
	}
}

// Service 返回该池所属的服务类别。
func (p *Pool) Service() string { return p.service }

// Degraded 报告池当前是否处于降级状态（上次存储写入失败）。
func (p *Pool) Degraded() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.degraded
}

// Reload 从密钥记录存储全量重建内存索引。
// 启动时调用一次；索引与存储分歧（例如崩溃恢复）时再次调用即可自愈。
func (p *Pool) Reload() error {
	records, err := p.store.ListByService(p.service)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	p.lock.Lock()
	defer p.lock.Unlock()

	p.keys = make(map[uint]*KeyState, len(records))
	p.byKey = make(map[string]uint, len(records))
	for _, rec := range records {
		p.keys[rec.ID] = newKeyStateFromRecord(rec)
		p.byKey[rec.Key] = rec.ID
	}
	p.degraded = false

	if p.log != nil {
		p.log.Infof("密钥池 [%s] 索引已重建，共加载 %d 个密钥。", p.service, len(records))
	}
	return nil
}

// candidateLess 定义同一候选集内两个密钥的优先顺序：
// 普通密钥先于兜底密钥；普通密钥中权重大者优先；同一层级内区域精确匹配
// 先于通配；其后按最久未使用（从未使用最优先）、最低使用次数、最小 ID
// 决出确定性的最终顺序。
func candidateLess(a, b *KeyState, region string) bool {
	af, bf := a.IsFallback(), b.IsFallback()
	if af != bf {
		return !af
	}
	if !af && a.PriorityWeight != b.PriorityWeight {
		return a.PriorityWeight > b.PriorityWeight
	}
	if region != "" {
		ae, be := a.Region == region, b.Region == region
		if ae != be {
			return ae
		}
	}
	switch {
	case a.LastUsedAt == nil && b.LastUsedAt != nil:
		return true
	case a.LastUsedAt != nil && b.LastUsedAt == nil:
		return false
	case a.LastUsedAt != nil && b.LastUsedAt != nil && !a.LastUsedAt.Equal(*b.LastUsedAt):
		return a.LastUsedAt.Before(*b.LastUsedAt)
	}
	if a.UsageCount != b.UsageCount {
		return a.UsageCount < b.UsageCount
	}
	return a.ID < b.ID
}

// Select 按请求约束从池中选出一个健康密钥。
// exclude 是调用方本次逻辑请求中已尝试过的密钥字符串集合，可为 nil。
// 成功选中时递增 usage_count、刷新 last_used_at 并写入 get_key 审计事件。
// 返回值 degraded 为 true 表示存储不可用、结果来自最后一次已知良好的索引
// 快照（计数未持久化）。没有候选密钥时返回 ErrNoEligibleKey，调用方不应阻塞
// 等待，这是一个正常的可报告结果。
func (p *Pool) Select(region string, exclude map[string]bool, caller Caller) (*storage.KeyRecord, bool, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	var best *KeyState
	for _, ks := range p.keys {
		if exclude != nil && exclude[ks.Key] {
			continue
		}
		if !ks.eligible(region) {
			continue
		}
		if best == nil || candidateLess(ks, best, region) {
			best = ks
		}
	}

	if best == nil {
		if p.log != nil {
			p.log.Debugf("密钥池 [%s]: 区域 '%s' 当前没有可选密钥。", p.service, region)
		}
		return nil, p.degraded, ErrNoEligibleKey
	}

	now := time.Now()
	updates := map[string]interface{}{
		"usage_count":  best.UsageCount + 1,
		"last_used_at": now,
	}
	if err := p.store.UpdateFields(best.ID, updates); err != nil {
		// 存储不可用：选取结果仍然可用（来自最后已知良好的索引），
		// 但计数不更新，响应必须标记为降级。
		p.degraded = true
		if p.log != nil {
			p.log.Warnf("密钥池 [%s]: 持久化密钥 %s 的使用计数失败，以降级模式返回: %v",
				p.service, utils.SafeSuffix(best.Key), err)
		}
		p.emit(best, storage.ActionGetKey, nil, "store unavailable; served from cached index", caller)
		rec := best.KeyRecord
		return &rec, true, nil
	}

	best.UsageCount++
	best.LastUsedAt = &now
	p.degraded = false

	p.emit(best, storage.ActionGetKey, nil, "", caller)
	if p.log != nil {
		p.log.Debugf("密钥池 [%s]: 选定密钥 %s (权重 %d, 区域 '%s')。",
			p.service, utils.SafeSuffix(best.Key), best.PriorityWeight, best.Region)
	}

	rec := best.KeyRecord
	return &rec, false, nil
}

// ReportOutcome 接收一次密钥使用结果并驱动状态机。
// 失败结果码（>= 400）累计错误计数；是否转换以及转换到哪个状态由
// Evaluate 裁决。返回报告处理后密钥的状态。
func (p *Pool) ReportOutcome(keyStr string, code int, note string, caller Caller) (Status, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	id, ok := p.byKey[keyStr]
	if !ok {
		return "", ErrKeyNotFound
	}
	return p.reportLocked(p.keys[id], code, note, caller)
}

// RecordTest 记录一次主动探测的结果：写入 test_key 审计事件，
// 失败结果码随后走与 ReportOutcome 完全相同的状态机路径。
func (p *Pool) RecordTest(id uint, code int, caller Caller) (Status, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	ks, ok := p.keys[id]
	if !ok {
		return "", ErrKeyNotFound
	}
	p.emit(ks, storage.ActionTestKey, &code, "", caller)
	if code < 400 {
		return Status(ks.Status), nil
	}
	return p.reportLocked(ks, code, "probe failure", caller)
}

// reportLocked 在持有池锁的前提下处理一次失败/成功结果报告。
func (p *Pool) reportLocked(ks *KeyState, code int, note string, caller Caller) (Status, error) {
	keyStr := ks.Key

	if code < 400 {
		// 成功结果只做确认，不重置计数：错误计数仅在转换回 enabled 时清零。
		if p.log != nil {
			p.log.Debugf("密钥池 [%s]: 密钥 %s 报告成功结果码 %d。", p.service, utils.SafeSuffix(keyStr), code)
		}
		return Status(ks.Status), nil
	}

	newCount := ks.ErrorCount + 1
	triggers := TriggersFromSettings(config.GetSettings())
	decision := Evaluate(Status(ks.Status), newCount, code, triggers)

	updates := map[string]interface{}{"error_count": newCount}
	var cooldownUntil *time.Time
	if decision.Transition {
		updates["status"] = string(decision.Next)
		switch decision.Next {
		case StatusCooldown:
			until := time.Now().Add(triggers.CooldownDuration)
			cooldownUntil = &until
			updates["cooldown_until"] = until
		case StatusDisabled:
			updates["cooldown_until"] = nil
		}
	}

	if err := p.store.UpdateFields(ks.ID, updates); err != nil {
		// 失败关闭：存储不可用时不改变内存状态，下一次报告重新裁决。
		p.degraded = true
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	p.degraded = false

	ks.ErrorCount = newCount
	if decision.Transition {
		ks.Status = string(decision.Next)
		ks.CooldownUntil = cooldownUntil
		p.emit(ks, decision.Action, &code, note, caller)
		if p.log != nil {
			p.log.Warnf("密钥池 [%s]: 密钥 %s 因结果码 %d 转换为 %s (错误计数 %d)。",
				p.service, utils.SafeSuffix(keyStr), code, ks.Status, newCount)
		}
	} else if p.log != nil {
		p.log.Debugf("密钥池 [%s]: 密钥 %s 记录失败结果码 %d (错误计数 %d)，状态保持 %s。",
			p.service, utils.SafeSuffix(keyStr), code, newCount, ks.Status)
	}

	return Status(ks.Status), nil
}

// AddKey 向池中添加一个新密钥。状态默认为 enabled。
func (p *Pool) AddKey(rec *storage.KeyRecord, caller Caller) error {
	if rec.Key == "" {
		return fmt.Errorf("%w: key string is empty", ErrInvalidTransition)
	}
	rec.Service = p.service
	if rec.Status == "" {
		rec.Status = storage.StatusEnabled
	}

	p.lock.Lock()
	defer p.lock.Unlock()

	if _, exists := p.byKey[rec.Key]; exists {
		return ErrKeyAlreadyExists
	}
	if err := p.store.Create(rec); err != nil {
		if errors.Is(err, storage.ErrKeyAlreadyExists) {
			return ErrKeyAlreadyExists
		}
		p.degraded = true
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	p.degraded = false

	ks := newKeyStateFromRecord(rec)
	p.keys[rec.ID] = ks
	p.byKey[rec.Key] = rec.ID

	p.emit(ks, storage.ActionAddKey, nil, "", caller)
	if p.log != nil {
		p.log.Infof("密钥池 [%s]: 新增密钥 %s (区域 '%s', 权重 %d)。当前总密钥数: %d",
			p.service, utils.SafeSuffix(rec.Key), rec.Region, rec.PriorityWeight, len(p.keys))
	}
	return nil
}

// DeleteKey 从池中删除一个密钥（存储层为软删除，审计历史保留）。
func (p *Pool) DeleteKey(id uint, caller Caller) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	ks, ok := p.keys[id]
	if !ok {
		return ErrKeyNotFound
	}
	if err := p.store.Delete(id); err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return ErrKeyNotFound
		}
		p.degraded = true
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	p.degraded = false

	delete(p.keys, id)
	delete(p.byKey, ks.Key)

	p.emit(ks, storage.ActionDeleteKey, nil, "", caller)
	if p.log != nil {
		p.log.Infof("密钥池 [%s]: 已删除密钥 %s。当前总密钥数: %d", p.service, utils.SafeSuffix(ks.Key), len(p.keys))
	}
	return nil
}

// Enable 管理员手动启用一个密钥：错误计数清零，冷却截止时间清除。
// 对已是 enabled 的密钥返回 ErrInvalidTransition。
func (p *Pool) Enable(id uint, caller Caller) error {
	return p.adminTransition(id, StatusEnabled, storage.ActionEnableKey, "", caller)
}

// Disable 管理员手动禁用一个密钥。禁用后仅手动启用可恢复。
func (p *Pool) Disable(id uint, note string, caller Caller) error {
	return p.adminTransition(id, StatusDisabled, storage.ActionDisableKey, note, caller)
}

// adminTransition 执行一次管理员触发的状态转换，经由与其他路径相同的
// 锁与先存储后索引的提交顺序。
func (p *Pool) adminTransition(id uint, target Status, action storage.AuditAction, note string, caller Caller) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	ks, ok := p.keys[id]
	if !ok {
		return ErrKeyNotFound
	}
	if !CanTransition(Status(ks.Status), target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, ks.Status, target)
	}

	updates := map[string]interface{}{
		"status":         string(target),
		"cooldown_until": nil,
	}
	if target == StatusEnabled {
		updates["error_count"] = 0
	}
	if err := p.store.UpdateFields(id, updates); err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return ErrKeyNotFound
		}
		p.degraded = true
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	p.degraded = false

	ks.Status = string(target)
	ks.CooldownUntil = nil
	if target == StatusEnabled {
		ks.ErrorCount = 0
	}

	p.emit(ks, action, nil, note, caller)
	if p.log != nil {
		p.log.Infof("密钥池 [%s]: 密钥 %s 由管理员转换为 %s。", p.service, utils.SafeSuffix(ks.Key), target)
	}
	return nil
}

// SetStatus 管理员直接设置密钥状态。与 Enable/Disable 不同，该路径使用
// 存储层的事务单元：状态变更与 set_status 审计事件要么同时提交要么同时
// 失败。目标为 cooldown 时按当前配置设置冷却截止时间。
func (p *Pool) SetStatus(id uint, target Status, note string, caller Caller) error {
	if !target.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, target)
	}

	p.lock.Lock()
	defer p.lock.Unlock()

	ks, ok := p.keys[id]
	if !ok {
		return ErrKeyNotFound
	}
	if !CanTransition(Status(ks.Status), target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, ks.Status, target)
	}

	updates := map[string]interface{}{"status": string(target)}
	var cooldownUntil *time.Time
	switch target {
	case StatusCooldown:
		until := time.Now().Add(config.GetSettings().CooldownDuration)
		cooldownUntil = &until
		updates["cooldown_until"] = until
	case StatusEnabled:
		updates["error_count"] = 0
		updates["cooldown_until"] = nil
	case StatusDisabled:
		updates["cooldown_until"] = nil
	}

	event := p.newEvent(ks, storage.ActionSetStatus, nil, note, caller)
	if err := p.store.UpdateFieldsWithAudit(id, updates, event); err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return ErrKeyNotFound
		}
		p.degraded = true
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	p.degraded = false

	ks.Status = string(target)
	ks.CooldownUntil = cooldownUntil
	if target == StatusEnabled {
		ks.ErrorCount = 0
	}

	if p.log != nil {
		p.log.Infof("密钥池 [%s]: 密钥 %s 状态被直接设置为 %s。", p.service, utils.SafeSuffix(ks.Key), target)
	}
	return nil
}

// EditRequest 描述对密钥非状态字段的编辑。nil 字段表示不修改。
type EditRequest struct {
	Region         *string
	KeyName        *string
	PriorityWeight *int
}

// Edit 更新密钥的区域、显示名称或优先级权重。
func (p *Pool) Edit(id uint, req EditRequest) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	ks, ok := p.keys[id]
	if !ok {
		return ErrKeyNotFound
	}

	updates := map[string]interface{}{}
	if req.Region != nil {
		updates["region"] = *req.Region
	}
	if req.KeyName != nil {
		updates["key_name"] = *req.KeyName
	}
	if req.PriorityWeight != nil {
		updates["priority_weight"] = *req.PriorityWeight
	}
	if len(updates) == 0 {
		return nil
	}

	if err := p.store.UpdateFields(id, updates); err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return ErrKeyNotFound
		}
		p.degraded = true
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	p.degraded = false

	if req.Region != nil {
		ks.Region = *req.Region
	}
	if req.KeyName != nil {
		ks.KeyName = *req.KeyName
	}
	if req.PriorityWeight != nil {
		ks.PriorityWeight = *req.PriorityWeight
	}
	return nil
}

// GetByID 返回一个密钥记录的副本（含完整密钥字符串，供管理员接口使用）。
func (p *Pool) GetByID(id uint) (*storage.KeyRecord, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	ks, ok := p.keys[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	rec := ks.KeyRecord
	return &rec, nil
}

// GetByKey 通过密钥字符串返回记录副本。
func (p *Pool) GetByKey(keyStr string) (*storage.KeyRecord, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	id, ok := p.byKey[keyStr]
	if !ok {
		return nil, ErrKeyNotFound
	}
	rec := p.keys[id].KeyRecord
	return &rec, nil
}

// Snapshot 返回池中全部密钥的安全状态列表，按 ID 升序。
func (p *Pool) Snapshot() []KeySafe {
	p.lock.Lock()
	defer p.lock.Unlock()

	safe := make([]KeySafe, 0, len(p.keys))
	for _, ks := range p.keys {
		safe = append(safe, ks.ToSafe())
	}
	sort.Slice(safe, func(i, j int) bool { return safe[i].ID < safe[j].ID })
	return safe
}

// TotalKeys 返回池中当前的密钥总数。
func (p *Pool) TotalKeys() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.keys)
}

// ReapExpired 将所有冷却已到期的密钥恢复为 enabled：错误计数清零、冷却
// 截止时间清除，并写入一条 cooldown_end 审计事件。由冷却回收任务周期性
// 调用；在锁内重新检查状态，与手动启用并发时不会产生重复事件。单个密钥
// 的存储写入失败只记录并跳过，下一轮扫描自愈。返回本轮恢复的密钥数。
func (p *Pool) ReapExpired(now time.Time, caller Caller) int {
	p.lock.Lock()
	defer p.lock.Unlock()

	reaped := 0
	for _, ks := range p.keys {
		if !ks.cooldownExpired(now) {
			continue
		}

		updates := map[string]interface{}{
			"status":         storage.StatusEnabled,
			"error_count":    0,
			"cooldown_until": nil,
		}
		if err := p.store.UpdateFields(ks.ID, updates); err != nil {
			p.degraded = true
			if p.log != nil {
				p.log.Warnf("密钥池 [%s]: 恢复冷却到期密钥 %s 失败，留待下一轮扫描: %v",
					p.service, utils.SafeSuffix(ks.Key), err)
			}
			continue
		}
		p.degraded = false

		until := *ks.CooldownUntil
		ks.Status = storage.StatusEnabled
		ks.ErrorCount = 0
		ks.CooldownUntil = nil
		reaped++

		p.emit(ks, storage.ActionCooldownEnd, nil, "cooldown expired at "+until.Format(time.RFC3339), caller)
		if p.log != nil {
			p.log.Infof("密钥池 [%s]: 密钥 %s 冷却到期 (截止 %s)，已恢复为 enabled。",
				p.service, utils.SafeSuffix(ks.Key), until.Format(time.RFC3339))
		}
	}
	return reaped
}

// newEvent 构建一条关联到密钥的审计事件。
func (p *Pool) newEvent(ks *KeyState, action storage.AuditAction, code *int, note string, caller Caller) *storage.AuditLog {
	keyID := ks.ID
	return &storage.AuditLog{
		EventID:    uuid.NewString(),
		Service:    p.service,
		KeyID:      &keyID,
		KeySuffix:  utils.SafeSuffix(ks.Key),
		Action:     action,
		StatusCode: code,
		Note:       note,
		IPAddress:  caller.IP,
		UserAgent:  caller.Agent,
	}
}

// emit 将审计事件交给异步写入器。池持有锁时调用也安全：Append 不阻塞。
func (p *Pool) emit(ks *KeyState, action storage.AuditAction, code *int, note string, caller Caller) {
	if p.audit == nil {
		return
	}
	p.audit.Append(p.newEvent(ks, action, code, note, caller))
}
