package handlers

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/config"
	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/keypool"
	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/models"
	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/storage"
	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/utils"
)

// idParam 解析路径参数 :id。非法时写入 400 响应并返回 (0, false)。
func idParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		respondError(c, http.StatusBadRequest,
			"无效的密钥 ID: "+c.Param("id"), "invalid_request_error", "invalid_id")
		return 0, false
	}
	return uint(id), true
}

// pageParams 解析分页查询参数，返回 (page, pageSize, offset)。
func pageParams(c *gin.Context) (int, int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}
	return page, pageSize, (page - 1) * pageSize
}

// writeKeyError 把池层错误映射为 HTTP 响应。
func writeKeyError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, keypool.ErrKeyNotFound):
		respondError(c, http.StatusNotFound, "密钥不存在。", "not_found_error", "key_not_found")
	case errors.Is(err, keypool.ErrKeyAlreadyExists):
		respondError(c, http.StatusConflict, "该服务类别下已存在相同的密钥。", "conflict_error", "key_already_exists")
	case errors.Is(err, keypool.ErrInvalidTransition):
		respondError(c, http.StatusConflict, err.Error(), "conflict_error", "invalid_transition")
	case errors.Is(err, keypool.ErrStoreUnavailable):
		respondError(c, http.StatusServiceUnavailable, err.Error(), "store_unavailable", nil)
	default:
		respondError(c, http.StatusInternalServerError, err.Error(), "server_error", nil)
	}
}

// safeFromRecord 把数据库记录转换为不含完整密钥的安全视图。
func safeFromRecord(rec *storage.KeyRecord) keypool.KeySafe {
	return keypool.KeySafe{
		ID:             rec.ID,
		KeySuffix:      utils.SafeSuffix(rec.Key),
		Region:         rec.Region,
		KeyName:        rec.KeyName,
		Status:         rec.Status,
		PriorityWeight: rec.PriorityWeight,
		UsageCount:     rec.UsageCount,
		ErrorCount:     rec.ErrorCount,
		LastUsedAt:     rec.LastUsedAt,
		CooldownUntil:  rec.CooldownUntil,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}

// ListKeysHandler 处理 GET /admin/:service/keys，分页返回安全视图。
func ListKeysHandler(c *gin.Context) {
	pool := poolForService(c)
	if pool == nil {
		return
	}
	page, pageSize, offset := pageParams(c)

	records, total, err := KeyStore.ListPaginated(pool.Service(), offset, pageSize)
	if err != nil {
		respondError(c, http.StatusServiceUnavailable, err.Error(), "store_unavailable", nil)
		return
	}

	safe := make([]keypool.KeySafe, 0, len(records))
	for _, rec := range records {
		safe = append(safe, safeFromRecord(rec))
	}
	c.JSON(http.StatusOK, models.PagedResponse{
		Data: safe, TotalCount: total, Page: page, PageSize: pageSize,
	})
}

// AddKeyHandler 处理 POST /admin/:service/keys。
func AddKeyHandler(c *gin.Context) {
	pool := poolForService(c)
	if pool == nil {
		return
	}

	var req models.AddKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest,
			"无效的请求体: "+err.Error(), "invalid_request_error", "invalid_body")
		return
	}
	if !keypool.ValidRegion(req.Region) {
		respondError(c, http.StatusBadRequest,
			"不支持的区域代码: "+req.Region, "invalid_request_error", "invalid_region")
		return
	}

	weight := utils.DerefInt(req.PriorityWeight, 1)
	if weight < 0 {
		respondError(c, http.StatusBadRequest,
			"priority_weight 不能为负数。", "invalid_request_error", "invalid_weight")
		return
	}

	rec := &storage.KeyRecord{
		Key:            req.Key,
		Region:         req.Region,
		KeyName:        req.KeyName,
		PriorityWeight: weight,
	}
	if err := pool.AddKey(rec, callerFrom(c)); err != nil {
		writeKeyError(c, err)
		return
	}
	c.JSON(http.StatusCreated, safeFromRecord(rec))
}

// DeleteKeyHandler 处理 DELETE /admin/:service/keys/:id。
func DeleteKeyHandler(c *gin.Context) {
	pool := poolForService(c)
	if pool == nil {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := pool.DeleteKey(id, callerFrom(c)); err != nil {
		writeKeyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// EditKeyHandler 处理 PUT /admin/:service/keys/:id，更新非状态字段。
func EditKeyHandler(c *gin.Context) {
	pool := poolForService(c)
	if pool == nil {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}

	var req models.EditKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest,
			"无效的请求体: "+err.Error(), "invalid_request_error", "invalid_body")
		return
	}
	if req.Region != nil && !keypool.ValidRegion(*req.Region) {
		respondError(c, http.StatusBadRequest,
			"不支持的区域代码: "+*req.Region, "invalid_request_error", "invalid_region")
		return
	}

	if err := pool.Edit(id, keypool.EditRequest{
		Region:         req.Region,
		KeyName:        req.KeyName,
		PriorityWeight: req.PriorityWeight,
	}); err != nil {
		writeKeyError(c, err)
		return
	}

	rec, err := pool.GetByID(id)
	if err != nil {
		writeKeyError(c, err)
		return
	}
	c.JSON(http.StatusOK, safeFromRecord(rec))
}

// EnableKeyHandler 处理 POST /admin/:service/keys/:id/enable。
func EnableKeyHandler(c *gin.Context) {
	pool := poolForService(c)
	if pool == nil {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := pool.Enable(id, callerFrom(c)); err != nil {
		writeKeyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": storage.StatusEnabled})
}

// DisableKeyHandler 处理 POST /admin/:service/keys/:id/disable。
func DisableKeyHandler(c *gin.Context) {
	pool := poolForService(c)
	if pool == nil {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := pool.Disable(id, "disabled by administrator", callerFrom(c)); err != nil {
		writeKeyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": storage.StatusDisabled})
}

// SetKeyStatusHandler 处理 PUT /admin/:service/keys/:id/status，
// 管理员直接设置密钥状态。状态变更与审计事件在同一事务中提交。
func SetKeyStatusHandler(c *gin.Context) {
	pool := poolForService(c)
	if pool == nil {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}

	var req models.SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest,
			"无效的请求体: "+err.Error(), "invalid_request_error", "invalid_body")
		return
	}

	if err := pool.SetStatus(id, keypool.Status(req.Status), req.Note, callerFrom(c)); err != nil {
		writeKeyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": req.Status})
}

// TestKeyHandler 处理 POST /admin/:service/keys/:id/test：用真实请求探测
// 密钥有效性，失败结果码走与线上失败报告相同的状态机路径。
func TestKeyHandler(c *gin.Context) {
	pool := poolForService(c)
	if pool == nil {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}

	rec, err := pool.GetByID(id)
	if err != nil {
		writeKeyError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), config.GetSettings().RequestTimeout)
	defer cancel()

	code, err := Tester.TestKey(ctx, rec)
	if err != nil {
		// 网络层失败说明不了密钥本身的有效性，不驱动状态机。
		respondError(c, http.StatusBadGateway,
			"密钥探测请求失败: "+err.Error(), "upstream_error", "probe_failed")
		return
	}

	status, err := pool.RecordTest(id, code, callerFrom(c))
	if err != nil {
		writeKeyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": code, "status": string(status)})
}

// AuditLogsHandler 处理 GET /admin/audit-logs，分页查询审计事件。
// 查询参数: service、key_id、action、page、page_size。
func AuditLogsHandler(c *gin.Context) {
	page, pageSize, offset := pageParams(c)

	filter := storage.AuditFilter{
		Service: c.Query("service"),
		Action:  storage.AuditAction(c.Query("action")),
		Offset:  offset,
		Limit:   pageSize,
	}
	if raw := c.Query("key_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			respondError(c, http.StatusBadRequest,
				"无效的 key_id: "+raw, "invalid_request_error", "invalid_key_id")
			return
		}
		keyID := uint(id)
		filter.KeyID = &keyID
	}
	if filter.Service != "" && !storage.ValidService(filter.Service) {
		respondError(c, http.StatusBadRequest,
			"未知的服务类别: "+filter.Service, "invalid_request_error", "unknown_service")
		return
	}

	events, total, err := AuditStore.Query(filter)
	if err != nil {
		respondError(c, http.StatusServiceUnavailable, err.Error(), "store_unavailable", nil)
		return
	}
	c.JSON(http.StatusOK, models.PagedResponse{
		Data: events, TotalCount: total, Page: page, PageSize: pageSize,
	})
}

// AppStatusHandler 处理 GET /admin/app-status，返回运行时与配置状态。
func AppStatusHandler(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	settings := config.GetSettings()

	keyCounts := make(map[string]int, len(Pools))
	degraded := make(map[string]bool, len(Pools))
	for service, pool := range Pools {
		keyCounts[service] = pool.TotalKeys()
		degraded[service] = pool.Degraded()
	}

	var auditDropped int64
	if AuditWriter != nil {
		auditDropped = AuditWriter.Dropped()
	}

	c.JSON(http.StatusOK, models.AppStatusInfo{
		StartTime:             AppStartTime,
		Uptime:                time.Since(AppStartTime).Round(time.Second).String(),
		GoVersion:             runtime.Version(),
		NumGoroutines:         runtime.NumGoroutine(),
		MemAllocatedMB:        float64(mem.Alloc) / 1024 / 1024,
		MemSysMB:              float64(mem.Sys) / 1024 / 1024,
		NumGC:                 mem.NumGC,
		KeyCounts:             keyCounts,
		PoolDegraded:          degraded,
		AuditDropped:          auditDropped,
		CooldownSeconds:       settings.CooldownDuration.Seconds(),
		CooldownTriggerCodes:  settings.CooldownTriggerCodes,
		DisableTriggerCodes:   settings.DisableTriggerCodes,
		ErrorThreshold:        settings.ErrorThreshold,
		ReaperIntervalSeconds: settings.ReaperInterval.Seconds(),
		AuditRetentionDays:    settings.AuditRetention.Hours() / 24,
		BillingEnabled:        settings.BillingEnabled,
		Port:                  settings.Port,
		LogLevel:              settings.LogLevel,
		GinMode:               settings.GinMode,
		AppAPIKeyConfigured:   settings.AppAPIKey != "",
	})
}

// BillingStatusHandler 处理 GET /admin/billing/status。
func BillingStatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, Billing.Status())
}

// RunBillingHandler 处理 POST /admin/billing/run，异步触发一轮成本查询。
func RunBillingHandler(c *gin.Context) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		_ = Billing.RunOnce(ctx)
	}()
	c.JSON(http.StatusAccepted, gin.H{"message": "账单查询已触发，结果可通过 /admin/billing/status 查看。"})
}
