package keypool

import (
	"time"

	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/config"
	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/storage"
)

// Status 是密钥的健康状态。底层取值与数据库中的 status 列一致。
type Status string

const (
	StatusEnabled  Status = storage.StatusEnabled
	StatusCooldown Status = storage.StatusCooldown
	StatusDisabled Status = storage.StatusDisabled
)

// Valid 判断状态取值是否合法。
func (s Status) Valid() bool {
	switch s {
	case StatusEnabled, StatusCooldown, StatusDisabled:
		return true
	}
	return false
}

// CanTransition 判断一次管理员直接设置状态的转换是否允许。
// 管理员可以在任意两个不同状态间切换；原地转换视为无效操作。
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	return from != to
}

// Triggers 汇总驱动状态机的全部调优参数。
// 由配置构建，作为纯函数 Evaluate 的输入，便于单独测试。
type Triggers struct {
	CooldownDuration time.Duration
	ErrorThreshold   int
	cooldownCodes    map[int]bool
	disableCodes     map[int]bool
}

// NewTriggers 从显式参数构建 Triggers。
func NewTriggers(cooldown time.Duration, threshold int, cooldownCodes, disableCodes []int) Triggers {
	t := Triggers{
		CooldownDuration: cooldown,
		ErrorThreshold:   threshold,
		cooldownCodes:    make(map[int]bool, len(cooldownCodes)),
		disableCodes:     make(map[int]bool, len(disableCodes)),
	}
	for _, c := range cooldownCodes {
		t.cooldownCodes[c] = true
	}
	for _, c := range disableCodes {
		t.disableCodes[c] = true
	}
	return t
}

// TriggersFromSettings 从当前应用配置构建 Triggers。
// 每次状态评估时重新构建，保证配置热更新立即生效。
func TriggersFromSettings(s config.Settings) Triggers {
	return NewTriggers(s.CooldownDuration, s.ErrorThreshold, s.CooldownTriggerCodes, s.DisableTriggerCodes)
}

// IsCooldownCode 判断结果码是否在冷却触发集合中。
func (t Triggers) IsCooldownCode(code int) bool { return t.cooldownCodes[code] }

// IsDisableCode 判断结果码是否计入禁用阈值。
func (t Triggers) IsDisableCode(code int) bool { return t.disableCodes[code] }

// Decision 是状态机对一次失败报告的裁决结果。
type Decision struct {
	Transition bool                // 是否发生状态转换
	Next       Status              // 转换后的状态，仅 Transition 为 true 时有意义
	Action     storage.AuditAction // 对应的审计动作
}

// Evaluate 是状态机的唯一裁决入口：给定密钥当前状态、累加后的错误计数和
// 本次报告的结果码，决定是否转换以及转换到哪个状态。纯函数，不产生副作用。
//
// 规则（禁用判定优先于冷却判定，可抢占冷却计时器）：
//   - disabled 为终态，任何报告都不再转换；
//   - 结果码在禁用触发集合中且错误计数达到阈值时，enabled/cooldown -> disabled；
//   - 结果码在冷却触发集合中且当前为 enabled 时，enabled -> cooldown；
//   - 其余失败报告只累计错误计数，不转换。
func Evaluate(current Status, errorCount int, code int, t Triggers) Decision {
	if current == StatusDisabled {
		return Decision{}
	}
	if t.IsDisableCode(code) && t.ErrorThreshold > 0 && errorCount >= t.ErrorThreshold {
		return Decision{Transition: true, Next: StatusDisabled, Action: storage.ActionDisableKey}
	}
	if t.IsCooldownCode(code) && current == StatusEnabled {
		return Decision{Transition: true, Next: StatusCooldown, Action: storage.ActionCooldownStart}
	}
	return Decision{}
}
