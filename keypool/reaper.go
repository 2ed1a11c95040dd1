package keypool

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/config"
	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/scheduler"
)

// reaperAgent 是回收任务写入审计事件时使用的调用方标识。
const reaperAgent = "cooldown-reaper"

// Reaper 是冷却回收后台任务：周期性扫描池中处于 cooldown 的密钥，
// 将冷却已到期的密钥经由状态机的同一变更路径恢复为 enabled。
// 错过的扫描（例如进程重启）是自愈的：下一轮扫描会抓到所有逾期密钥，
// 无论逾期多久。每个服务类别一个实例。
type Reaper struct {
	pool   *Pool
	runner *scheduler.Runner
	log    *logrus.Logger
}

// NewReaper 为一个密钥池创建冷却回收任务。
// 扫描间隔在每个周期从配置重新读取，reaper_interval 热更新即时生效。
func NewReaper(pool *Pool, logger *logrus.Logger) *Reaper {
	r := &Reaper{pool: pool, log: logger}
	r.runner = scheduler.New(
		"cooldown-reaper-"+pool.Service(),
		func() time.Duration { return config.GetSettings().ReaperInterval },
		r.sweep,
		logger,
	)
	return r
}

// Run 阻塞运行回收循环，直到 ctx 被取消。在独立的 goroutine 中调用。
func (r *Reaper) Run(ctx context.Context) {
	r.runner.Run(ctx)
}

// sweep 执行一轮扫描。
func (r *Reaper) sweep(_ context.Context) {
	reaped := r.pool.ReapExpired(time.Now(), Caller{Agent: reaperAgent})
	if reaped > 0 && r.log != nil {
		r.log.Infof("冷却回收 [%s]: 本轮恢复了 %d 个冷却到期的密钥。", r.pool.Service(), reaped)
	}
}
