// Package scheduler 提供一个可取消的通用周期任务运行器。
// 冷却回收、审计日志保留清理与账单自动查询共用这一套计时逻辑，
// 避免各自维护漂移的 ticker 循环。
package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Runner 周期性地执行一个任务。间隔由 provider 函数在每个周期重新读取，
// 因此配置热更新后的新间隔会在下一个周期自动生效，无需重启任务。
type Runner struct {
	name         string
	interval     func() time.Duration
	task         func(ctx context.Context)
	initialDelay time.Duration
	log          *logrus.Logger
}

// New 创建一个周期任务运行器。
// interval 每个周期被调用一次以获取下一次执行的等待时长。
func New(name string, interval func() time.Duration, task func(ctx context.Context), logger *logrus.Logger) *Runner {
	return &Runner{
		name:     name,
		interval: interval,
		task:     task,
		log:      logger,
	}
}

// WithInitialDelay 设置首次执行前的额外等待，返回自身便于链式构建。
func (r *Runner) WithInitialDelay(d time.Duration) *Runner {
	r.initialDelay = d
	return r
}

// Run 阻塞运行周期循环，直到 ctx 被取消。通常在独立的 goroutine 中调用。
// 任务内部的 panic 会被捕获并记录，不会终止循环。
func (r *Runner) Run(ctx context.Context) {
	if r.initialDelay > 0 {
		select {
		case <-time.After(r.initialDelay):
		case <-ctx.Done():
			if r.log != nil {
				r.log.Infof("周期任务 [%s] 在初始延迟期间被取消。", r.name)
			}
			return
		}
	}

	if r.log != nil {
		r.log.Infof("周期任务 [%s] 已启动，当前间隔 %v。", r.name, r.nextInterval())
	}

	timer := time.NewTimer(r.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if r.log != nil {
				r.log.Infof("周期任务 [%s] 因上下文取消而停止。", r.name)
			}
			return
		case <-timer.C:
			r.invoke(ctx)
			timer.Reset(r.nextInterval())
		}
	}
}

// nextInterval 读取当前间隔，非法值回退为 1 秒，防止忙循环。
func (r *Runner) nextInterval() time.Duration {
	d := r.interval()
	if d <= 0 {
		d = time.Second
	}
	return d
}

// invoke 执行一次任务并捕获 panic。
func (r *Runner) invoke(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil && r.log != nil {
			r.log.Errorf("周期任务 [%s] 发生 panic: %v", r.name, rec)
		}
	}()
	r.task(ctx)
}
