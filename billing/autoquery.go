package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/config"
	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/scheduler"
)

// 自动查询的运行状态。
const (
	StatusIdle    = "idle"    // 尚未运行过
	StatusOK      = "ok"      // 上次运行成功
	StatusFailed  = "failed"  // 上次运行失败
	StatusRunning = "running" // 正在运行
)

// AutoQuery 按周期执行账单成本查询，并记录 "间隔 + 下次运行 + 状态"。
// 间隔在每个周期从配置重新读取，billing_interval 热更新即时生效。
type AutoQuery struct {
	client *Client
	log    *logrus.Logger
	runner *scheduler.Runner

	mu        sync.Mutex
	lastRun   *time.Time
	nextRun   *time.Time
	lastState string
	lastError string
}

// StatusInfo 是自动查询状态的只读快照，用于管理接口。
type StatusInfo struct {
	Enabled   bool       `json:"enabled"`
	LastRun   *time.Time `json:"last_run"`
	NextRun   *time.Time `json:"next_run"`
	LastState string     `json:"last_state"`
	LastError string     `json:"last_error,omitempty"`
}

// NewAutoQuery 创建账单自动查询任务。
func NewAutoQuery(client *Client, logger *logrus.Logger) *AutoQuery {
	a := &AutoQuery{client: client, log: logger, lastState: StatusIdle}
	a.runner = scheduler.New(
		"billing-autoquery",
		func() time.Duration { return config.GetSettings().BillingInterval },
		func(ctx context.Context) { _ = a.RunOnce(ctx) },
		logger,
	)
	return a
}

// Run 阻塞运行自动查询循环，直到 ctx 被取消。
func (a *AutoQuery) Run(ctx context.Context) {
	a.runner.Run(ctx)
}

// Status 返回当前运行状态的快照。
func (a *AutoQuery) Status() StatusInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return StatusInfo{
		Enabled:   config.GetSettings().BillingEnabled,
		LastRun:   a.lastRun,
		NextRun:   a.nextRun,
		LastState: a.lastState,
		LastError: a.lastError,
	}
}

// RunOnce 立即执行一轮成本查询：加载凭据、获取令牌、枚举订阅并逐个
// 查询认知服务成本，结果以 JSON 写入输出目录。可由管理接口手动触发。
func (a *AutoQuery) RunOnce(ctx context.Context) error {
	settings := config.GetSettings()
	a.begin(settings.BillingInterval)

	err := a.query(ctx, settings)
	a.finish(err)
	return err
}

func (a *AutoQuery) begin(interval time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	next := now.Add(interval)
	a.lastRun = &now
	a.nextRun = &next
	a.lastState = StatusRunning
}

func (a *AutoQuery) finish(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.lastState = StatusFailed
		a.lastError = err.Error()
		if a.log != nil {
			a.log.Warnf("账单自动查询失败: %v", err)
		}
		return
	}
	a.lastState = StatusOK
	a.lastError = ""
}

func (a *AutoQuery) query(ctx context.Context, settings config.Settings) error {
	creds, err := LoadCredentials(settings.BillingCredentialsFile)
	if err != nil {
		return err
	}

	token, err := a.client.GetAccessToken(ctx, creds)
	if err != nil {
		return fmt.Errorf("get access token: %w", err)
	}

	subs, err := a.client.ListSubscriptions(ctx, token)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return fmt.Errorf("no visible subscriptions for credentials %q", creds.DisplayName)
	}

	if err := os.MkdirAll(settings.BillingOutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	summary := make(map[string]json.RawMessage, len(subs))
	var firstErr error
	for _, sub := range subs {
		result, qerr := a.client.QueryCognitiveCosts(ctx, token, sub.SubscriptionID)
		if qerr != nil {
			if firstErr == nil {
				firstErr = qerr
			}
			if a.log != nil {
				a.log.Warnf("账单查询: 订阅 %s (%s) 查询失败: %v", sub.DisplayName, sub.SubscriptionID, qerr)
			}
			continue
		}
		summary[sub.SubscriptionID] = result

		// 每个订阅单独保存一份明细文件。
		short := sub.SubscriptionID
		if len(short) > 8 {
			short = short[:8]
		}
		path := filepath.Join(settings.BillingOutputDir, fmt.Sprintf("cognitive_costs_%s.json", short))
		if werr := os.WriteFile(path, result, 0o644); werr != nil && a.log != nil {
			a.log.Warnf("账单查询: 写入 %s 失败: %v", path, werr)
		}
	}

	if len(summary) > 0 {
		data, merr := json.MarshalIndent(summary, "", "  ")
		if merr == nil {
			path := filepath.Join(settings.BillingOutputDir, "cognitive_costs_summary.json")
			if werr := os.WriteFile(path, data, 0o644); werr != nil && a.log != nil {
				a.log.Warnf("账单查询: 写入汇总文件失败: %v", werr)
			}
		}
		if a.log != nil {
			a.log.Infof("账单查询完成: 成功查询 %d/%d 个订阅。", len(summary), len(subs))
		}
		return nil
	}
	return firstErr
}
