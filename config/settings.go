package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// --- 默认配置值 ---
const (
	DefaultCooldownSeconds        = 300           // 密钥冷却时长（秒）
	DefaultErrorThreshold         = 3             // 触发禁用的累计错误次数
	DefaultReaperIntervalSeconds  = 10            // 冷却回收任务的扫描间隔（秒）
	DefaultCooldownTriggerCodes   = "429"         // 触发冷却的结果码集合（逗号分隔）
	DefaultDisableTriggerCodes    = "401,403"     // 计入禁用阈值的结果码集合（逗号分隔）
	DefaultAuditRetentionDays     = 90            // 审计日志保留天数，0 表示不清理
	DefaultAuditQueueSize         = 1024          // 审计异步写入队列长度
	DefaultRequestTimeoutSeconds  = 30            // 出站 HTTP 请求（密钥探测、账单查询）超时
	DefaultBillingIntervalSeconds = 6 * 3600      // 账单自动查询间隔（秒）
	DefaultBillingOutputDir       = "uploads"     // 账单查询结果输出目录
	DefaultBillingCredentialsFile = "azure_credentials.json"
	DefaultPort                   = "3019"
	DefaultLogLevel               = "info"
	DefaultGinMode                = "debug"
	DefaultDBType                 = "sqlite"
	DefaultDBConnectionStringSqlite = "azure_key_manager.db"
	DefaultMySQLHost              = "127.0.0.1"
	DefaultMySQLPort              = "3306"
	DefaultMySQLDBName            = "azure_key_manager"
	DefaultMySQLUser              = "root"
)

// Settings 存储应用配置。
// 密钥池的调优项（冷却时长、触发码集合、错误阈值、回收间隔）支持热更新，
// 池在每次操作时通过 GetSettings 读取最新值。
type Settings struct {
	AppAPIKey string // 保护 /api 与 /admin 路由的共享密钥，为空时不启用认证

	// 密钥池调优项
	CooldownDuration     time.Duration // 进入 cooldown 状态后的冷却时长
	CooldownTriggerCodes []int         // 触发 enabled -> cooldown 的结果码
	DisableTriggerCodes  []int         // 计入禁用阈值的结果码
	ErrorThreshold       int           // 错误计数达到该值时禁用密钥
	ReaperInterval       time.Duration // 冷却回收任务扫描间隔

	// 审计日志
	AuditRetention time.Duration // 审计日志保留时长，0 表示永久保留
	AuditQueueSize int           // 异步审计写入的队列长度

	// 出站请求
	RequestTimeout time.Duration

	// 账单自动查询
	BillingEnabled         bool
	BillingCredentialsFile string
	BillingInterval        time.Duration
	BillingOutputDir       string

	// 服务与存储
	Port                     string
	LogLevel                 string
	GinMode                  string
	DBType                   string
	DBConnectionStringSqlite string
	MySQLHost                string
	MySQLPort                string
	MySQLDBName              string
	MySQLUser                string
	MySQLPassword            string
}

// --- 配置热加载支持 ---
var (
	AppSettings Settings
	configLock  = &sync.RWMutex{}
	Log         *logrus.Logger // 由 main.go 注入
)

// Init 初始化配置：加载 .env 文件（如果存在）并读取环境变量。
func Init(logger *logrus.Logger) {
	Log = logger
	_ = godotenv.Load()
	AppSettings = loadConfig()
}

// GetSettings 安全地获取当前配置的副本。
func GetSettings() Settings {
	configLock.RLock()
	defer configLock.RUnlock()
	return AppSettings
}

// Reload 重新从指定的 env 文件和环境变量加载全部配置。
// 由 fsnotify 文件监视器在配置文件变化时调用。
func Reload(envFile string) {
	configLock.Lock()
	defer configLock.Unlock()
	if envFile != "" {
		if err := godotenv.Overload(envFile); err != nil && Log != nil {
			Log.Warnf("重新加载配置文件 '%s' 失败: %v", envFile, err)
		}
	}
	AppSettings = loadConfig()
	if Log != nil {
		Log.Infof("配置已从 '%s' 重新加载。", envFile)
	}
}

// UpdateSettingsRequest 定义了可以从管理 API 热更新的配置字段。
// 使用指针类型可以区分 "未提供" 和 "设置为空值"。
type UpdateSettingsRequest struct {
	CooldownSeconds       *int    `json:"cooldown_duration_seconds"`
	CooldownTriggerCodes  *[]int  `json:"cooldown_trigger_codes"`
	DisableTriggerCodes   *[]int  `json:"disable_trigger_codes"`
	ErrorThreshold        *int    `json:"error_threshold"`
	ReaperIntervalSeconds *int    `json:"reaper_interval_seconds"`
	AuditRetentionDays    *int    `json:"audit_retention_days"`
	RequestTimeoutSeconds *int    `json:"request_timeout_seconds"`
	BillingEnabled        *bool   `json:"billing_enabled"`
	BillingIntervalSecs   *int    `json:"billing_interval_seconds"`
	LogLevel              *string `json:"log_level"`
	AppAPIKey             *string `json:"app_api_key"`
}

// UpdateSettings 安全地更新全局配置。所有字段立即生效：
// 密钥池与回收任务在每次操作/每个周期读取最新配置。
func UpdateSettings(req UpdateSettingsRequest) {
	configLock.Lock()
	defer configLock.Unlock()

	if req.CooldownSeconds != nil && *req.CooldownSeconds >= 0 {
		AppSettings.CooldownDuration = time.Duration(*req.CooldownSeconds) * time.Second
		Log.Infof("配置热更新: CooldownDuration -> %v", AppSettings.CooldownDuration)
	}
	if req.CooldownTriggerCodes != nil {
		AppSettings.CooldownTriggerCodes = append([]int(nil), (*req.CooldownTriggerCodes)...)
		Log.Infof("配置热更新: CooldownTriggerCodes -> %v", AppSettings.CooldownTriggerCodes)
	}
	if req.DisableTriggerCodes != nil {
		AppSettings.DisableTriggerCodes = append([]int(nil), (*req.DisableTriggerCodes)...)
		Log.Infof("配置热更新: DisableTriggerCodes -> %v", AppSettings.DisableTriggerCodes)
	}
	if req.ErrorThreshold != nil && *req.ErrorThreshold > 0 {
		AppSettings.ErrorThreshold = *req.ErrorThreshold
		Log.Infof("配置热更新: ErrorThreshold -> %d", AppSettings.ErrorThreshold)
	}
	if req.ReaperIntervalSeconds != nil && *req.ReaperIntervalSeconds > 0 {
		AppSettings.ReaperInterval = time.Duration(*req.ReaperIntervalSeconds) * time.Second
		Log.Infof("配置热更新: ReaperInterval -> %v", AppSettings.ReaperInterval)
	}
	if req.AuditRetentionDays != nil && *req.AuditRetentionDays >= 0 {
		AppSettings.AuditRetention = time.Duration(*req.AuditRetentionDays) * 24 * time.Hour
		Log.Infof("配置热更新: AuditRetention -> %v", AppSettings.AuditRetention)
	}
	if req.RequestTimeoutSeconds != nil && *req.RequestTimeoutSeconds > 0 {
		AppSettings.RequestTimeout = time.Duration(*req.RequestTimeoutSeconds) * time.Second
		Log.Infof("配置热更新: RequestTimeout -> %v", AppSettings.RequestTimeout)
	}
	if req.BillingEnabled != nil {
		AppSettings.BillingEnabled = *req.BillingEnabled
		Log.Infof("配置热更新: BillingEnabled -> %t", AppSettings.BillingEnabled)
	}
	if req.BillingIntervalSecs != nil && *req.BillingIntervalSecs > 0 {
		AppSettings.BillingInterval = time.Duration(*req.BillingIntervalSecs) * time.Second
		Log.Infof("配置热更新: BillingInterval -> %v", AppSettings.BillingInterval)
	}
	if req.LogLevel != nil {
		if level, err := logrus.ParseLevel(*req.LogLevel); err == nil {
			AppSettings.LogLevel = *req.LogLevel
			Log.SetLevel(level)
			Log.Infof("配置热更新: LogLevel -> %s", AppSettings.LogLevel)
		} else {
			Log.Warnf("尝试热更新为无效的日志级别 '%s'，忽略此项更改。", *req.LogLevel)
		}
	}
	if req.AppAPIKey != nil {
		AppSettings.AppAPIKey = *req.AppAPIKey
		Log.Info("配置热更新: AppAPIKey 已更新。")
	}
}

// loadConfig 从环境变量加载配置。
func loadConfig() Settings {
	return Settings{
		AppAPIKey:                os.Getenv("APP_API_KEY"),
		CooldownDuration:         getDurationEnv("COOLDOWN_DURATION_SECONDS", DefaultCooldownSeconds),
		CooldownTriggerCodes:     getIntListEnv("COOLDOWN_TRIGGER_CODES", DefaultCooldownTriggerCodes),
		DisableTriggerCodes:      getIntListEnv("DISABLE_TRIGGER_CODES", DefaultDisableTriggerCodes),
		ErrorThreshold:           getIntEnv("ERROR_THRESHOLD", DefaultErrorThreshold),
		ReaperInterval:           getDurationEnv("REAPER_INTERVAL_SECONDS", DefaultReaperIntervalSeconds),
		AuditRetention:           time.Duration(getIntEnv("AUDIT_RETENTION_DAYS", DefaultAuditRetentionDays)) * 24 * time.Hour,
		AuditQueueSize:           getIntEnv("AUDIT_QUEUE_SIZE", DefaultAuditQueueSize),
		RequestTimeout:           getDurationEnv("REQUEST_TIMEOUT_SECONDS", DefaultRequestTimeoutSeconds),
		BillingEnabled:           getBoolEnv("BILLING_ENABLED", false),
		BillingCredentialsFile:   getStringEnv("BILLING_CREDENTIALS_FILE", DefaultBillingCredentialsFile),
		BillingInterval:          getDurationEnv("BILLING_INTERVAL_SECONDS", DefaultBillingIntervalSeconds),
		BillingOutputDir:         getStringEnv("BILLING_OUTPUT_DIR", DefaultBillingOutputDir),
		Port:                     getStringEnv("PORT", DefaultPort),
		LogLevel:                 getStringEnv("LOG_LEVEL", DefaultLogLevel),
		GinMode:                  getStringEnv("GIN_MODE", DefaultGinMode),
		DBType:                   getStringEnv("DB_TYPE", DefaultDBType),
		DBConnectionStringSqlite: getStringEnv("DB_CONNECTION_STRING_SQLITE", DefaultDBConnectionStringSqlite),
		MySQLHost:                getStringEnv("DB_HOST", DefaultMySQLHost),
		MySQLPort:                getStringEnv("DB_PORT", DefaultMySQLPort),
		MySQLDBName:              getStringEnv("DB_NAME", DefaultMySQLDBName),
		MySQLUser:                getStringEnv("DB_USER", DefaultMySQLUser),
		MySQLPassword:            os.Getenv("DB_PASSWORD"), // 密码可以为空
	}
}

func getStringEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntEnv(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getBoolEnv(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getDurationEnv(key string, defaultValueInSeconds int) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return time.Duration(defaultValueInSeconds) * time.Second
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil || value < 0 {
		return time.Duration(defaultValueInSeconds) * time.Second
	}
	return time.Duration(value) * time.Second
}

// getIntListEnv 解析逗号分隔的整数列表环境变量，例如 "401,403"。
// 解析失败的条目会被跳过；变量为空时使用默认值字符串。
func getIntListEnv(key, defaultValue string) []int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}
	parts := strings.Split(valueStr, ",")
	codes := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		code, err := strconv.Atoi(p)
		if err != nil {
			continue
		}
		codes = append(codes, code)
	}
	return codes
}
