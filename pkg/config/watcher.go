package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher 配置监听器（用于热更新）
// 只有当新文件能完整解析时才会替换当前配置并触发回调
type Watcher[T any] struct {
	loader     *Loader
	configPath string
	configType string
	key        string
	callbacks  []func(*T)
	onError    func(error)
	mu         sync.RWMutex
	config     *T
}

// NewWatcher 创建配置监听器
// key 为空时解析整个文件，否则只解析指定路径（如 "routing"）
func NewWatcher[T any](configPath, configType, key string) (*Watcher[T], error) {
	w := &Watcher[T]{
		configPath: configPath,
		configType: configType,
		key:        key,
		onError:    func(error) {},
	}

	loader, cfg, err := w.load()
	if err != nil {
		return nil, err
	}
	w.loader = loader
	w.config = cfg

	w.watch()
	return w, nil
}

// GetConfig 获取当前配置
func (w *Watcher[T]) GetConfig() *T {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// OnChange 注册配置变化回调
func (w *Watcher[T]) OnChange(callback func(*T)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// OnError 注册重载失败回调
func (w *Watcher[T]) OnError(fn func(error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if fn != nil {
		w.onError = fn
	}
}

// Reload 手动重新加载配置并触发回调
func (w *Watcher[T]) Reload() error {
	loader, cfg, err := w.load()
	if err != nil {
		w.mu.RLock()
		onError := w.onError
		w.mu.RUnlock()
		onError(err)
		return err
	}

	w.mu.Lock()
	w.config = cfg
	w.loader = loader
	callbacks := append([]func(*T){}, w.callbacks...)
	w.mu.Unlock()

	for _, callback := range callbacks {
		callback(cfg)
	}
	return nil
}

func (w *Watcher[T]) load() (*Loader, *T, error) {
	loader := NewLoader()
	if err := loader.LoadFile(w.configPath, w.configType); err != nil {
		return nil, nil, err
	}

	var cfg T
	var err error
	if w.key == "" {
		err = loader.Unmarshal(&cfg)
	} else {
		err = loader.UnmarshalKey(w.key, &cfg)
	}
	if err != nil {
		return nil, nil, err
	}
	return loader, &cfg, nil
}

func (w *Watcher[T]) watch() {
	w.loader.viper.WatchConfig()
	w.loader.viper.OnConfigChange(func(e fsnotify.Event) {
		_ = w.Reload()
	})
}
