package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/config"
)

// settingsView 是配置的对外视图，不包含数据库口令等敏感项。
type settingsView struct {
	CooldownSeconds       float64 `json:"cooldown_duration_seconds"`
	CooldownTriggerCodes  []int   `json:"cooldown_trigger_codes"`
	DisableTriggerCodes   []int   `json:"disable_trigger_codes"`
	ErrorThreshold        int     `json:"error_threshold"`
	ReaperIntervalSeconds float64 `json:"reaper_interval_seconds"`
	AuditRetentionDays    float64 `json:"audit_retention_days"`
	AuditQueueSize        int     `json:"audit_queue_size"`
	RequestTimeoutSecs    float64 `json:"request_timeout_seconds"`
	BillingEnabled        bool    `json:"billing_enabled"`
	BillingIntervalSecs   float64 `json:"billing_interval_seconds"`
	LogLevel              string  `json:"log_level"`
	AppAPIKeyConfigured   bool    `json:"app_api_key_configured"`
}

func currentSettingsView() settingsView {
	s := config.GetSettings()
	return settingsView{
		CooldownSeconds:       s.CooldownDuration.Seconds(),
		CooldownTriggerCodes:  s.CooldownTriggerCodes,
		DisableTriggerCodes:   s.DisableTriggerCodes,
		ErrorThreshold:        s.ErrorThreshold,
		ReaperIntervalSeconds: s.ReaperInterval.Seconds(),
		AuditRetentionDays:    s.AuditRetention.Hours() / 24,
		AuditQueueSize:        s.AuditQueueSize,
		RequestTimeoutSecs:    s.RequestTimeout.Seconds(),
		BillingEnabled:        s.BillingEnabled,
		BillingIntervalSecs:   s.BillingInterval.Seconds(),
		LogLevel:              s.LogLevel,
		AppAPIKeyConfigured:   s.AppAPIKey != "",
	}
}

// GetSettingsHandler 处理 GET /admin/settings。
func GetSettingsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, currentSettingsView())
}

// UpdateSettingsHandler 处理 PUT /admin/settings，热更新可调配置。
// 所有字段立即生效：密钥池与周期任务在每次操作时读取最新配置。
func UpdateSettingsHandler(c *gin.Context) {
	var req config.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest,
			"无效的请求体: "+err.Error(), "invalid_request_error", "invalid_body")
		return
	}
	config.UpdateSettings(req)
	c.JSON(http.StatusOK, currentSettingsView())
}
