package storage

import (
	"time"

	"gorm.io/gorm"
)

// 服务类别。speech 与 translation 的密钥池相互独立，共用同一套实现。
const (
	ServiceSpeech      = "speech"
	ServiceTranslation = "translation"
)

// Services 列出全部受支持的服务类别。
var Services = []string{ServiceSpeech, ServiceTranslation}

// ValidService 判断服务类别是否受支持。
func ValidService(s string) bool {
	for _, svc := range Services {
		if s == svc {
			return true
		}
	}
	return false
}

// 密钥健康状态。任一时刻一个密钥恰好处于其中一种状态。
const (
	StatusEnabled  = "enabled"  // 正常服务流量
	StatusCooldown = "cooldown" // 临时冷却，到期后由回收任务自动恢复
	StatusDisabled = "disabled" // 禁用，仅管理员手动启用可恢复
)

// KeyRecord 定义了存储在数据库中的 API 密钥记录。
// 这个模型是密钥持久化状态的唯一真实来源；内存中的池索引只是它的派生视图。
type KeyRecord struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"` // 软删除：密钥删除后审计历史仍可回溯

	Service        string     `gorm:"type:varchar(32);uniqueIndex:idx_service_key;not null" json:"service"` // speech / translation
	Key            string     `gorm:"type:varchar(255);uniqueIndex:idx_service_key;not null" json:"key"`    // 密钥字符串，同一服务类别内唯一
	Region         string     `gorm:"type:varchar(64);index" json:"region"`                                 // 地理区域代码，空串表示任意区域
	KeyName        string     `gorm:"type:varchar(255)" json:"keyname"`                                     // 显示名称
	Status         string     `gorm:"type:varchar(16);not null;default:enabled;index" json:"status"`        // enabled / cooldown / disabled
	PriorityWeight int        `gorm:"not null;default:1" json:"priority_weight"`                            // 0 为兜底密钥，>0 为普通密钥，值越大越优先
	UsageCount     int64      `gorm:"not null;default:0" json:"usage_count"`                                // 成功选中次数，单调递增
	ErrorCount     int        `gorm:"not null;default:0" json:"error_count"`                                // 累计失败次数，恢复 enabled 时清零
	LastUsedAt     *time.Time `json:"last_used_at"`                                                         // 上次被选中的时间
	CooldownUntil  *time.Time `json:"cooldown_until"`                                                       // 冷却截止时间，仅 cooldown 状态非空
}

// TableName 自定义 KeyRecord 模型的表名。
func (KeyRecord) TableName() string {
	return "api_keys"
}

// IsFallback 判断是否为兜底密钥（仅当没有任何普通密钥可用时才会被选中）。
func (k *KeyRecord) IsFallback() bool {
	return k.PriorityWeight <= 0
}

// AuditAction 是审计事件的动作类别。
type AuditAction string

const (
	ActionGetKey        AuditAction = "get_key"        // 密钥被选中服务一次请求
	ActionAddKey        AuditAction = "add_key"        // 新增密钥
	ActionDeleteKey     AuditAction = "delete_key"     // 删除密钥
	ActionDisableKey    AuditAction = "disable_key"    // 密钥被禁用（阈值触发或管理员操作）
	ActionEnableKey     AuditAction = "enable_key"     // 管理员手动启用
	ActionTestKey       AuditAction = "test_key"       // 主动探测密钥有效性
	ActionCooldownStart AuditAction = "cooldown_start" // 进入冷却
	ActionCooldownEnd   AuditAction = "cooldown_end"   // 冷却到期恢复
	ActionSetStatus     AuditAction = "set_status"     // 管理员直接设置状态
)

// AuditLog 是仅追加的审计事件，每个影响状态的动作写入一条。
// KeyID 允许为空：密钥被删除后其历史事件必须保留。
// 事件创建后不会被修改或删除，只有基于时间的批量保留清理例外。
type AuditLog struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	EventID    string      `gorm:"type:varchar(36);uniqueIndex" json:"event_id"`    // 事件唯一标识 (UUID)
	Service    string      `gorm:"type:varchar(32);index" json:"service"`           // 所属服务类别
	KeyID      *uint       `gorm:"index" json:"key_id"`                             // 关联的密钥记录，可为空
	KeySuffix  string      `gorm:"type:varchar(16)" json:"key_suffix"`              // 密钥后缀，密钥删除后仍可辨识
	Action     AuditAction `gorm:"type:varchar(32);index;not null" json:"action"`   // 动作类别
	StatusCode *int        `json:"status_code"`                                     // 触发该动作的结果码（如 429）
	Note       string      `gorm:"type:varchar(512)" json:"note"`                   // 自由文本备注
	IPAddress  string      `gorm:"type:varchar(64)" json:"ip_address"`              // 调用方地址
	UserAgent  string      `gorm:"type:varchar(255)" json:"user_agent"`             // 调用方 UA
}

// TableName 自定义 AuditLog 模型的表名。
func (AuditLog) TableName() string {
	return "audit_logs"
}
