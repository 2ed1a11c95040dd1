package keypool

import (
	"time"

	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/storage"
	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/utils"
)

// KeyState 是池索引中单个密钥的内存视图。
// 它嵌入数据库模型 storage.KeyRecord，是可重建的派生状态：
// 数据库始终是唯一真实来源，索引与之分歧时整体重建即可恢复一致。
type KeyState struct {
	storage.KeyRecord
}

// newKeyStateFromRecord 从数据库记录创建内存状态。
func newKeyStateFromRecord(rec *storage.KeyRecord) *KeyState {
	return &KeyState{KeyRecord: *rec}
}

// eligible 判断密钥是否可作为本次选取的候选：
// 状态为 enabled，且区域精确匹配或一方为通配（空串）。
func (ks *KeyState) eligible(region string) bool {
	if Status(ks.Status) != StatusEnabled {
		return false
	}
	return region == "" || ks.Region == "" || ks.Region == region
}

// cooldownExpired 判断密钥的冷却是否已到期。
func (ks *KeyState) cooldownExpired(now time.Time) bool {
	return Status(ks.Status) == StatusCooldown &&
		ks.CooldownUntil != nil && !now.Before(*ks.CooldownUntil)
}

// KeySafe 是 KeyState 的“安全”版本，用于 API 响应与管理界面。
// 不暴露完整密钥，只显示后缀。
type KeySafe struct {
	ID             uint       `json:"id"`
	KeySuffix      string     `json:"key_suffix"`
	Region         string     `json:"region"`
	KeyName        string     `json:"keyname"`
	Status         string     `json:"status"`
	PriorityWeight int        `json:"priority_weight"`
	UsageCount     int64      `json:"usage_count"`
	ErrorCount     int        `json:"error_count"`
	LastUsedAt     *time.Time `json:"last_used_at"`
	CooldownUntil  *time.Time `json:"cooldown_until"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ToSafe 将 KeyState 转换为 KeySafe DTO。
func (ks *KeyState) ToSafe() KeySafe {
	return KeySafe{
		ID:             ks.ID,
		KeySuffix:      utils.SafeSuffix(ks.Key),
		Region:         ks.Region,
		KeyName:        ks.KeyName,
		Status:         ks.Status,
		PriorityWeight: ks.PriorityWeight,
		UsageCount:     ks.UsageCount,
		ErrorCount:     ks.ErrorCount,
		LastUsedAt:     ks.LastUsedAt,
		CooldownUntil:  ks.CooldownUntil,
		CreatedAt:      ks.CreatedAt,
		UpdatedAt:      ks.UpdatedAt,
	}
}
