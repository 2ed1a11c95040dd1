package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/config"
	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/models"
	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/utils"
)

// Log 由 main.go 注入。
var Log *logrus.Logger

// VerifyAPIKey 校验请求的 Authorization 头部携带与配置 AppAPIKey 一致的
// Bearer Token。AppAPIKey 未配置时 main.go 不会注册该中间件；若意外执行
// 到且密钥为空，出于安全考虑直接拒绝请求。
func VerifyAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if config.GetSettings().AppAPIKey == "" {
			Log.Error("VerifyAPIKey 中间件被调用，但 AppAPIKey 未配置。拒绝请求。")
			c.AbortWithStatusJSON(http.StatusInternalServerError, models.ErrorResponse{
				Error: models.ErrorDetail{Message: "服务配置错误，无法验证 API 密钥。", Type: "server_error", Code: "app_api_key_missing"},
			})
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			Log.Warn("VerifyAPIKey: 请求缺少 Authorization 头部。")
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Error: models.ErrorDetail{Message: "需要提供 API 密钥才能访问此服务。", Type: "authentication_error", Code: "missing_api_key"},
			})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			Log.Warnf("VerifyAPIKey: Authorization 头部格式无效。收到: '%s'", authHeader)
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Error: models.ErrorDetail{Message: "无效的授权方案，请使用 'Bearer <token>' 格式。", Type: "authentication_error", Code: "invalid_auth_scheme"},
			})
			return
		}

		if parts[1] != config.GetSettings().AppAPIKey {
			Log.Warnf("VerifyAPIKey: 无效的服务 API 密钥。收到 token 后缀: %s", utils.SafeSuffix(parts[1]))
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Error: models.ErrorDetail{Message: "提供的 API 密钥无效。", Type: "authentication_error", Code: "invalid_api_key"},
			})
			return
		}

		c.Next()
	}
}
