package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"quantlab/logger"
)

// ReloadFunc 配置重载回调，传入重新加载后的配置
type ReloadFunc func(cfg *Config)

// Watcher 配置文件监控器（热重载安全字段）
type Watcher struct {
	configPath string
	watcher    *fsnotify.Watcher
	onReload   ReloadFunc
	mu         sync.Mutex
	isWatching bool
	lastReload time.Time
}

// NewWatcher 创建配置监控器
func NewWatcher(configPath string, onReload ReloadFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	return &Watcher{
		configPath: configPath,
		watcher:    fw,
		onReload:   onReload,
	}, nil
}

// Start 开始监控配置文件
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isWatching {
		w.mu.Unlock()
		return fmt.Errorf("配置监控器已经在运行")
	}
	w.isWatching = true
	w.mu.Unlock()

	// 监控配置文件所在目录（编辑器保存常见做法是重命名替换，监控目录更可靠）
	configDir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(configDir); err != nil {
		return fmt.Errorf("添加监控目录失败: %w", err)
	}

	go w.loop(ctx)
	logger.Info("✅ 配置热重载监控已启动: %s", w.configPath)
	return nil
}

// Stop 停止监控
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.isWatching {
		return
	}
	w.isWatching = false
	w.watcher.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			// 去抖：编辑器保存会连续触发多个事件
			w.mu.Lock()
			if time.Since(w.lastReload) < time.Second {
				w.mu.Unlock()
				continue
			}
			w.lastReload = time.Now()
			w.mu.Unlock()

			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("⚠️ 配置监控错误: %v", err)
		}
	}
}

// reload 重新加载配置并通知回调
func (w *Watcher) reload() {
	cfg, err := LoadConfig(w.configPath)
	if err != nil {
		logger.Error("❌ 配置重载失败，保留旧配置: %v", err)
		return
	}

	logger.Info("🔄 配置文件已变更，重载安全字段")
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
