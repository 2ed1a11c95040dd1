package config

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// 配置文件变化后的去抖间隔。编辑器保存时往往产生多个连续事件，
// 等待最后一次写入结束后再重新加载。
const reloadDebounce = 500 * time.Millisecond

// WatchEnvFile 监视 env 配置文件的变化并在写入后热重载全部配置。
// 文件不存在时直接返回（配置完全来自环境变量的部署场景）。
// 阻塞直到 ctx 被取消，通常在独立的 goroutine 中运行。
func WatchEnvFile(ctx context.Context, envFile string) error {
	if envFile == "" {
		return nil
	}
	if _, err := os.Stat(envFile); err != nil {
		if Log != nil {
			Log.Debugf("配置文件 '%s' 不存在，跳过文件监视。", envFile)
		}
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(envFile); err != nil {
		return err
	}
	if Log != nil {
		Log.Infof("已启动配置文件监视: %s", envFile)
	}

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, func() {
					Reload(envFile)
				})
			}

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if Log != nil {
				Log.Warnf("配置文件监视器错误: %v", werr)
			}
		}
	}
}
