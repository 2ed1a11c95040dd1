// main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/auditlog"
	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/billing"
	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/config"
	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/handlers"
	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/keypool"
	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/keytest"
	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/middleware"
	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/scheduler"
	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/storage"
)

// 全局变量声明
var (
	log          *logrus.Logger // 全局日志记录器实例
	appStartTime = time.Now()   // 记录应用程序启动时间
)

func main() {
	// 1. 初始化日志记录器
	log = logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)

	// 2. 加载应用程序配置
	config.Init(log)
	if level, err := logrus.ParseLevel(config.AppSettings.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.Warnf("无效的 LOG_LEVEL 配置 '%s', 将使用默认 Info 级别。", config.AppSettings.LogLevel)
	}
	log.Infof("日志级别已设置为: %s", log.GetLevel().String())

	if config.AppSettings.AppAPIKey == "" {
		log.Warn("安全警告: APP_API_KEY 未设置，请求与管理接口将不做认证。仅建议在内网部署时如此配置。")
	}

	// 3. 初始化数据库与存储层
	db, err := storage.InitDB(log)
	if err != nil {
		log.Fatalf("数据库初始化失败: %v", err)
	}
	keyStore := storage.NewKeyStore(db)
	auditStore := storage.NewAuditStore(db)

	// 4. 启动异步审计写入器
	auditWriter := auditlog.NewWriter(auditStore, config.AppSettings.AuditQueueSize, log)
	auditWriter.Start()

	// 5. 为每个服务类别构建密钥池并加载索引
	pools := make(map[string]*keypool.Pool, len(storage.Services))
	for _, service := range storage.Services {
		pool := keypool.NewPool(service, keyStore, auditWriter, log)
		if err := pool.Reload(); err != nil {
			log.Fatalf("密钥池 [%s] 索引加载失败: %v", service, err)
		}
		pools[service] = pool
	}

	// 6. 注入各包依赖
	middleware.Log = log
	handlers.Log = log
	handlers.Pools = pools
	handlers.KeyStore = keyStore
	handlers.AuditStore = auditStore
	handlers.AuditWriter = auditWriter
	handlers.AppStartTime = appStartTime

	httpClient := &http.Client{
		Timeout: config.AppSettings.RequestTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	handlers.Tester = keytest.NewTester(httpClient, log)
	handlers.Billing = billing.NewAutoQuery(billing.NewClient(httpClient, log), log)

	// 7. 启动后台任务：冷却回收、审计保留清理、配置文件监视、账单自动查询。
	// 统一的 context 控制全部后台 goroutine 的生命周期。
	backgroundCtx, cancelBackground := context.WithCancel(context.Background())

	for _, pool := range pools {
		reaper := keypool.NewReaper(pool, log)
		go reaper.Run(backgroundCtx)
	}

	auditPrune := scheduler.New(
		"audit-retention-prune",
		func() time.Duration { return 12 * time.Hour },
		func(_ context.Context) {
			removed, perr := auditStore.PruneOlderThan(config.GetSettings().AuditRetention)
			if perr != nil {
				log.Warnf("审计日志保留清理失败: %v", perr)
			} else if removed > 0 {
				log.Infof("审计日志保留清理: 删除了 %d 条过期事件。", removed)
			}
		},
		log,
	).WithInitialDelay(time.Minute)
	go auditPrune.Run(backgroundCtx)

	if config.AppSettings.BillingEnabled {
		go handlers.Billing.Run(backgroundCtx)
		log.Info("账单自动查询任务已启动。")
	}
	log.Info("密钥池与后台任务已全部启动。")

	// 8. 设置 Gin 路由器
	if strings.ToLower(config.AppSettings.GinMode) == "release" {
		gin.SetMode(gin.ReleaseMode)
		log.Info("Gin 运行模式: release")
	} else {
		gin.SetMode(gin.DebugMode)
		log.Info("Gin 运行模式: debug")
	}

	router := gin.New()
	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s | %s | %3d | %13v | %15s | %-7s %#v %s\n%s",
			param.TimeStamp.Format("2006/01/02 - 15:04:05"),
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.ClientIP,
			param.Method,
			param.Path,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	}))
	router.Use(gin.Recovery())

	// --- 请求服务面 (/api) ---
	apiGroup := router.Group("/api")
	if config.AppSettings.AppAPIKey != "" {
		apiGroup.Use(middleware.VerifyAPIKey())
		log.Info("'/api/*' 路由组已启用 API 密钥认证 (APP_API_KEY)。")
	}
	{
		apiGroup.GET("/:service/keys/get", handlers.GetKeyHandler)
		apiGroup.POST("/:service/keys/status", handlers.ReportKeyStatusHandler)
	}

	// --- 管理面 (/admin) ---
	adminGroup := router.Group("/admin")
	if config.AppSettings.AppAPIKey != "" {
		adminGroup.Use(middleware.VerifyAPIKey())
		log.Info("'/admin/*' 路由组已启用 API 密钥认证 (APP_API_KEY)。")
	}
	{
		adminGroup.GET("/:service/keys", handlers.ListKeysHandler)
		adminGroup.POST("/:service/keys", handlers.AddKeyHandler)
		adminGroup.PUT("/:service/keys/:id", handlers.EditKeyHandler)
		adminGroup.DELETE("/:service/keys/:id", handlers.DeleteKeyHandler)
		adminGroup.POST("/:service/keys/:id/enable", handlers.EnableKeyHandler)
		adminGroup.POST("/:service/keys/:id/disable", handlers.DisableKeyHandler)
		adminGroup.PUT("/:service/keys/:id/status", handlers.SetKeyStatusHandler)
		adminGroup.POST("/:service/keys/:id/test", handlers.TestKeyHandler)

		adminGroup.GET("/audit-logs", handlers.AuditLogsHandler)
		adminGroup.GET("/app-status", handlers.AppStatusHandler)
		adminGroup.GET("/settings", handlers.GetSettingsHandler)
		adminGroup.PUT("/settings", handlers.UpdateSettingsHandler)
		adminGroup.GET("/billing/status", handlers.BillingStatusHandler)
		adminGroup.POST("/billing/run", handlers.RunBillingHandler)
	}
	log.Info("所有应用路由已设置完成。")

	// 9. 启动 HTTP 服务器
	serverAddr := ":" + config.AppSettings.Port
	log.Infof("服务即将启动，监听地址: http://localhost%s (或配置的域名/IP)", serverAddr)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 配置文件监视器最后启动：此后对配置的读取一律经过 config.GetSettings，
	// 启动期间的直接读取不会与热重载并发。
	go func() {
		if werr := config.WatchEnvFile(backgroundCtx, ".env"); werr != nil {
			log.Warnf("配置文件监视器退出: %v", werr)
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务器启动失败: %s\n", err)
		}
	}()
	log.Infof("服务器正在运行中... 按 CTRL+C 关闭。")

	// 10. 实现优雅关闭
	quitChannel := make(chan os.Signal, 1)
	signal.Notify(quitChannel, syscall.SIGINT, syscall.SIGTERM)
	<-quitChannel

	log.Println("收到关闭信号，服务器正在优雅关闭...")

	// 先停后台任务，再关 HTTP 服务器，最后冲刷审计队列。
	cancelBackground()

	shutdownCtx, shutdownCancelFunc := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancelFunc()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("服务器优雅关闭失败: %v", err)
	}

	auditWriter.Stop()
	log.Println("服务器已成功优雅关闭。")
}
