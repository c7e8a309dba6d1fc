package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"clipvault/backup"
	"clipvault/clipboard"
	"clipvault/config"
	"clipvault/crypto"
	"clipvault/history"
	"clipvault/storage"

	"github.com/sirupsen/logrus"
)

// Options 创建应用时可覆盖的依赖
type Options struct {
	ConfigPath   string               // 为空时使用默认路径
	KeystorePath string               // 为空时与配置文件放在同一目录
	Pasteboard   clipboard.Pasteboard // 为空时使用系统剪贴板
}

// Application 应用程序核心，持有所有服务实例
type Application struct {
	configPath string
	pasteboard clipboard.Pasteboard

	mu     sync.Mutex
	config *config.AppConfig

	storage   storage.Storage
	engine    *crypto.Engine
	store     *history.Store
	backup    *backup.Service
	processor *clipboard.Processor
	monitor   *clipboard.Monitor
	scheduler *scheduler

	alerts    chan error
	closeOnce sync.Once
}

// New 创建应用实例：加载配置、打开存储、创建加密引擎和历史记录
//
// 历史记录尚未加载，加密启用时需要先 Unlock 再 Load。
func New(opts Options) (*Application, error) {
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = config.Path()
	}
	keystorePath := opts.KeystorePath
	if keystorePath == "" {
		keystorePath = filepath.Join(filepath.Dir(configPath), filepath.Base(config.KeystorePath()))
	}

	// 加载配置
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return nil, err
	}
	setLogLevel(cfg.LogLevel)

	engine, err := crypto.NewEngine(config.NewKeystore(keystorePath))
	if err != nil {
		return nil, fmt.Errorf("初始化加密引擎失败: %w", err)
	}

	// 创建存储
	st, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		return nil, err
	}

	a := &Application{
		configPath: configPath,
		pasteboard: opts.Pasteboard,
		config:     cfg,
		storage:    st,
		engine:     engine,
		processor:  clipboard.NewProcessor(),
		alerts:     make(chan error, 8),
	}
	a.store = history.New(history.Options{
		Storage: st,
		Cipher:  engine,
		Config:  cfg.Store,
		OnAlert: a.alert,
	})
	a.backup = backup.NewService(a.store, engine)
	return a, nil
}

// Store 历史记录
func (a *Application) Store() *history.Store { return a.store }

// Backup 备份服务
func (a *Application) Backup() *backup.Service { return a.backup }

// Engine 加密引擎
func (a *Application) Engine() *crypto.Engine { return a.engine }

// Processor 内容处理器
func (a *Application) Processor() *clipboard.Processor { return a.processor }

// Config 当前配置
func (a *Application) Config() config.AppConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return *a.config
}

// Alerts 需要提醒用户的严重错误（保存或加密失败）
func (a *Application) Alerts() <-chan error { return a.alerts }

// NeedsUnlock 加密已启用但当前会话还没有密钥
func (a *Application) NeedsUnlock() bool {
	return a.engine.Enabled() && !a.engine.Unlocked()
}

// Unlock 用密码解锁
func (a *Application) Unlock(password string) bool {
	return a.engine.Unlock(password)
}

// Load 加载历史记录
func (a *Application) Load() error {
	return a.store.Load()
}

// ChangePassword 设置或更换密码，已有数据用新密钥重新加密
func (a *Application) ChangePassword(ctx context.Context, password string) error {
	if password == "" {
		return crypto.ErrEmptyPassword
	}
	if a.NeedsUnlock() {
		return history.ErrLocked
	}
	return a.store.RotateKey(ctx, func() error {
		return a.engine.SetPassword(password)
	})
}

// DisableEncryption 删除密码，已有数据改为明文保存
func (a *Application) DisableEncryption(ctx context.Context) error {
	if !a.engine.Enabled() {
		return nil
	}
	if !a.engine.Unlocked() {
		return history.ErrLocked
	}
	return a.store.RotateKey(ctx, a.engine.RemovePassword)
}

// Copy 把记录写回剪贴板（不启动监听）
func (a *Application) Copy(id string) error {
	if err := a.attachClipboard(); err != nil {
		return err
	}
	return a.store.Select(id)
}

// attachClipboard 创建监听器并注册为历史记录写回剪贴板的实现
func (a *Application) attachClipboard() error {
	if a.monitor != nil {
		return nil
	}
	board := a.pasteboard
	if board == nil {
		var err error
		if board, err = clipboard.NewSystemPasteboard(); err != nil {
			return err
		}
	}
	a.monitor = clipboard.NewMonitor(board, a.processor, a.store)
	a.store.SetClipboard(a.monitor)
	return nil
}

// Run 启动剪贴板监听、定时清理和配置热加载，直到 ctx 结束
func (a *Application) Run(ctx context.Context) error {
	if err := a.attachClipboard(); err != nil {
		return err
	}
	if err := a.monitor.Start(); err != nil {
		return fmt.Errorf("启动剪贴板监控失败: %w", err)
	}

	sched, err := newScheduler(a.store)
	if err != nil {
		return err
	}
	a.scheduler = sched
	a.scheduler.Start()

	if err := config.Watch(ctx, a.configPath, a.applyConfig); err != nil {
		logrus.WithError(err).Warn("配置热加载不可用")
	}

	logrus.WithField("entries", a.store.Len()).Info("剪贴板监听已启动")
	<-ctx.Done()
	return nil
}

// Close 停止后台任务并保存历史记录
func (a *Application) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if a.monitor != nil {
			a.monitor.Stop()
		}
		if a.scheduler != nil {
			a.scheduler.Shutdown()
		}
		err = a.store.Close()
		if cerr := a.storage.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

// applyConfig 应用重新加载的配置；存储位置的变化需要重启后生效
func (a *Application) applyConfig(cfg *config.AppConfig) {
	a.mu.Lock()
	storageChanged := cfg.Storage != a.config.Storage
	a.config.Store = cfg.Store
	a.config.LogLevel = cfg.LogLevel
	a.mu.Unlock()

	setLogLevel(cfg.LogLevel)
	a.store.SetConfig(cfg.Store)
	if storageChanged {
		logrus.Warn("存储配置已修改，重启后生效")
	}
}

// SaveConfig 保存策略配置并立即应用
func (a *Application) SaveConfig(store config.StoreConfig) error {
	a.mu.Lock()
	a.config.Store = store
	cfg := *a.config
	a.mu.Unlock()

	if err := config.SaveTo(a.configPath, &cfg); err != nil {
		return err
	}
	a.store.SetConfig(store)
	return nil
}

func (a *Application) alert(err error) {
	logrus.WithError(err).Error("历史记录保存失败，数据可能丢失")
	select {
	case a.alerts <- err:
	default:
	}
}

func setLogLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}
