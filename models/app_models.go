package models

import "time"

// ErrorDetail 错误详情结构，用于在 API 响应中提供统一的错误信息。
type ErrorDetail struct {
	Message string `json:"message"`         // 必需：可读的错误描述。
	Type    string `json:"type"`            // 必需：错误类型，例如 "not_found_error", "invalid_request_error", "store_unavailable"。
	Code    any    `json:"code,omitempty"`  // 可选：机器可读的错误代码。
	Param   string `json:"param,omitempty"` // 可选：导致错误的参数名称。
}

// ErrorResponse 统一的错误响应结构，包装了 ErrorDetail。
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// AddKeyRequest 添加密钥的请求体。
type AddKeyRequest struct {
	Key            string `json:"key" binding:"required"` // 完整密钥字符串
	Region         string `json:"region"`                 // 区域代码，空串表示通配
	KeyName        string `json:"keyname"`                // 显示名称
	PriorityWeight *int   `json:"priority_weight"`        // 0 为兜底密钥；缺省为 1
}

// EditKeyRequest 编辑密钥非状态字段的请求体。nil 字段表示不修改。
type EditKeyRequest struct {
	Region         *string `json:"region"`
	KeyName        *string `json:"keyname"`
	PriorityWeight *int    `json:"priority_weight"`
}

// ReportStatusRequest 报告一次密钥使用结果的请求体。
// 与请求服务面约定一致：{key, code, note}。
type ReportStatusRequest struct {
	Key  string `json:"key" binding:"required"`
	Code *int   `json:"code" binding:"required"` // 指针以区分缺失与 0
	Note string `json:"note"`
}

// SetStatusRequest 管理员直接设置密钥状态的请求体。
type SetStatusRequest struct {
	Status string `json:"status" binding:"required"` // enabled / cooldown / disabled
	Note   string `json:"note"`
}

// SelectedKeyResponse 是成功选取密钥的响应。
// Degraded 为 true 表示存储不可用、结果来自缓存索引且计数未持久化。
type SelectedKeyResponse struct {
	ID       uint   `json:"id"`
	Key      string `json:"key"`
	Region   string `json:"region"`
	KeyName  string `json:"keyname"`
	Degraded bool   `json:"degraded,omitempty"`
}

// PagedResponse 通用分页响应包装。
type PagedResponse struct {
	Data       any   `json:"data"`
	TotalCount int64 `json:"total_count"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
}

// AppStatusInfo /admin/app-status 端点的响应，提供运行时与配置状态。
type AppStatusInfo struct {
	StartTime              time.Time      `json:"start_time"`
	Uptime                 string         `json:"uptime"`
	GoVersion              string         `json:"go_version"`
	NumGoroutines          int            `json:"num_goroutines"`
	MemAllocatedMB         float64        `json:"mem_allocated_mb"`
	MemSysMB               float64        `json:"mem_sys_mb"`
	NumGC                  uint32         `json:"num_gc"`
	KeyCounts              map[string]int `json:"key_counts"`     // 每个服务类别的密钥总数
	PoolDegraded           map[string]bool `json:"pool_degraded"` // 每个服务类别的降级标志
	AuditDropped           int64          `json:"audit_dropped"`  // 审计写入器累计丢弃的事件数
	CooldownSeconds        float64        `json:"cooldown_duration_seconds"`
	CooldownTriggerCodes   []int          `json:"cooldown_trigger_codes"`
	DisableTriggerCodes    []int          `json:"disable_trigger_codes"`
	ErrorThreshold         int            `json:"error_threshold"`
	ReaperIntervalSeconds  float64        `json:"reaper_interval_seconds"`
	AuditRetentionDays     float64        `json:"audit_retention_days"`
	BillingEnabled         bool           `json:"billing_enabled"`
	Port                   string         `json:"port"`
	LogLevel               string         `json:"log_level"`
	GinMode                string         `json:"gin_mode"`
	AppAPIKeyConfigured    bool           `json:"app_api_key_configured"`
}
