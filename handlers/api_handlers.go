// Package handlers 实现 HTTP 层：请求服务面（密钥选取与结果报告）
// 与管理面（密钥 CRUD、状态管理、审计查询、配置热更新）。
// 所有依赖由 main.go 在启动时注入包级变量。
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/auditlog"
	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/billing"
	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/keypool"
	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/keytest"
	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/models"
	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/storage"
)

// --- 由 main.go 注入的依赖 ---
var (
	Log          *logrus.Logger
	Pools        map[string]*keypool.Pool // 服务类别 -> 密钥池
	KeyStore     *storage.KeyStore
	AuditStore   *storage.AuditStore
	AuditWriter  *auditlog.Writer
	Tester       *keytest.Tester
	Billing      *billing.AutoQuery
	AppStartTime time.Time
)

// poolForService 解析路径参数 :service 并返回对应的密钥池。
// 服务类别非法时写入 404 响应并返回 nil。
func poolForService(c *gin.Context) *keypool.Pool {
	service := c.Param("service")
	pool, ok := Pools[service]
	if !ok {
		respondError(c, http.StatusNotFound,
			"未知的服务类别: "+service, "not_found_error", "unknown_service")
		return nil
	}
	return pool
}

// callerFrom 从请求中提取审计用的调用方元数据。
func callerFrom(c *gin.Context) keypool.Caller {
	return keypool.Caller{IP: c.ClientIP(), Agent: c.Request.UserAgent()}
}

// respondError 写入统一格式的错误响应。
func respondError(c *gin.Context, status int, message, errType string, code any) {
	c.JSON(status, models.ErrorResponse{
		Error: models.ErrorDetail{Message: message, Type: errType, Code: code},
	})
}

// GetKeyHandler 处理 GET /api/:service/keys/get。
// 查询参数: region（可选，空串匹配任意区域）、exclude（可选，逗号分隔的
// 本次逻辑请求中已尝试过的密钥字符串集合）。
func GetKeyHandler(c *gin.Context) {
	pool := poolForService(c)
	if pool == nil {
		return
	}

	region := c.Query("region")
	if !keypool.ValidRegion(region) {
		respondError(c, http.StatusBadRequest,
			"不支持的区域代码: "+region, "invalid_request_error", "invalid_region")
		return
	}

	var exclude map[string]bool
	if raw := c.Query("exclude"); raw != "" {
		exclude = make(map[string]bool)
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				exclude[k] = true
			}
		}
	}

	rec, degraded, err := pool.Select(region, exclude, callerFrom(c))
	if err != nil {
		if errors.Is(err, keypool.ErrNoEligibleKey) {
			// 无可选密钥是正常的可报告结果：调用方应走自身的回退逻辑而非重试等待。
			respondError(c, http.StatusNotFound,
				"当前没有满足条件的可用密钥。", "not_found_error", "no_eligible_key")
			return
		}
		respondError(c, http.StatusServiceUnavailable, err.Error(), "store_unavailable", nil)
		return
	}

	c.JSON(http.StatusOK, models.SelectedKeyResponse{
		ID:       rec.ID,
		Key:      rec.Key,
		Region:   rec.Region,
		KeyName:  rec.KeyName,
		Degraded: degraded,
	})
}

// ReportKeyStatusHandler 处理 POST /api/:service/keys/status。
// 请求体: {key, code, note}。code 是调用方使用该密钥得到的上游结果码，
// >= 400 视为失败并驱动状态机。响应返回报告处理后密钥的状态。
func ReportKeyStatusHandler(c *gin.Context) {
	pool := poolForService(c)
	if pool == nil {
		return
	}

	var req models.ReportStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest,
			"无效的请求体: "+err.Error(), "invalid_request_error", "invalid_body")
		return
	}

	status, err := pool.ReportOutcome(req.Key, *req.Code, req.Note, callerFrom(c))
	if err != nil {
		switch {
		case errors.Is(err, keypool.ErrKeyNotFound):
			respondError(c, http.StatusNotFound,
				"密钥不存在于该服务类别的池中。", "not_found_error", "key_not_found")
		case errors.Is(err, keypool.ErrStoreUnavailable):
			// 失败关闭：状态未变更，调用方可稍后重试报告。
			respondError(c, http.StatusServiceUnavailable, err.Error(), "store_unavailable", nil)
		default:
			respondError(c, http.StatusInternalServerError, err.Error(), "server_error", nil)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(status)})
}
