// 配置文件变更监听器实现。
//
// 监听配置文件所在目录的 fsnotify 事件（兼容编辑器的原子替换写入），
// 防抖后触发回调。
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// --- 文件监听器类型定义 ---

// FileWatcher watches configuration files for changes
type FileWatcher struct {
	mu sync.RWMutex

	// 配置
	paths         []string
	debounceDelay time.Duration

	// 状态
	watcher *fsnotify.Watcher
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	timers  map[string]*time.Timer
	pending map[string]FileEvent

	// 回调
	callbacks []func(event FileEvent)

	logger *zap.Logger
}

// FileEvent represents a file change event
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// FileOp represents file operation types
type FileOp int

const (
	// FileOpCreate 表示文件已创建
	FileOpCreate FileOp = iota
	// FileOpWrite 指示文件已被修改
	FileOpWrite
	// FileOpRemove 表示文件已被删除
	FileOpRemove
	// FileOpRename 表示文件已重命名
	FileOpRename
	// FileOpChmod 表示文件权限已更改
	FileOpChmod
)

// String returns the string representation of FileOp
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	case FileOpRename:
		return "RENAME"
	case FileOpChmod:
		return "CHMOD"
	default:
		return "UNKNOWN"
	}
}

func fileOpFrom(op fsnotify.Op) FileOp {
	switch {
	case op.Has(fsnotify.Create):
		return FileOpCreate
	case op.Has(fsnotify.Write):
		return FileOpWrite
	case op.Has(fsnotify.Remove):
		return FileOpRemove
	case op.Has(fsnotify.Rename):
		return FileOpRename
	default:
		return FileOpChmod
	}
}

// --- 文件监听器选项 ---

// WatcherOption configures the FileWatcher
type WatcherOption func(*FileWatcher)

// WithDebounceDelay sets the debounce delay for file events
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		w.debounceDelay = d
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// --- 文件监听器实现 ---

// NewFileWatcher creates a new file watcher. Paths are resolved to absolute
// form; a missing file is watched for creation.
func NewFileWatcher(paths []string, opts ...WatcherOption) (*FileWatcher, error) {
	w := &FileWatcher{
		debounceDelay: 100 * time.Millisecond,
		timers:        make(map[string]*time.Timer),
		pending:       make(map[string]FileEvent),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path %s: %w", p, err)
		}
		if _, err := os.Stat(abs); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to stat path %s: %w", abs, err)
			}
			w.logger.Warn("config file does not exist, will watch for creation",
				zap.String("path", abs))
		}
		w.paths = append(w.paths, abs)
	}

	return w, nil
}

// OnChange registers a callback for file change events
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching for file changes. It returns once the directories
// are registered; events are delivered until Stop or ctx is done.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	// 监听父目录：编辑器通常以 rename 覆盖文件，直接监听文件会丢失后续事件
	dirs := make(map[string]struct{})
	for _, p := range w.paths {
		dirs[filepath.Dir(p)] = struct{}{}
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	w.watcher = fw
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	go w.eventLoop(ctx, fw, w.stopCh, w.doneCh)

	w.logger.Info("file watcher started",
		zap.Strings("paths", w.paths),
		zap.Duration("debounce_delay", w.debounceDelay))

	return nil
}

// Stop stops the file watcher and waits for the event loop to exit.
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	doneCh := w.doneCh
	fw := w.watcher
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()

	<-doneCh
	err := fw.Close()

	w.logger.Info("file watcher stopped")
	return err
}

func (w *FileWatcher) eventLoop(ctx context.Context, fw *fsnotify.Watcher, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			path := filepath.Clean(ev.Name)
			if !w.watches(path) {
				continue
			}
			w.schedule(FileEvent{Path: path, Op: fileOpFrom(ev.Op), Timestamp: time.Now()})
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

func (w *FileWatcher) watches(path string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, p := range w.paths {
		if p == path {
			return true
		}
	}
	return false
}

// schedule 合并防抖窗口内同一路径的事件，只投递最后一个
func (w *FileWatcher) schedule(event FileEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}

	w.pending[event.Path] = event
	if t, ok := w.timers[event.Path]; ok {
		t.Stop()
	}
	w.timers[event.Path] = time.AfterFunc(w.debounceDelay, func() {
		w.fire(event.Path)
	})
}

func (w *FileWatcher) fire(path string) {
	w.mu.Lock()
	event, ok := w.pending[path]
	delete(w.pending, path)
	delete(w.timers, path)
	running := w.running
	callbacks := make([]func(FileEvent), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	if !ok || !running {
		return
	}

	w.logger.Debug("dispatching file event",
		zap.String("path", path),
		zap.String("op", event.Op.String()))

	for _, cb := range callbacks {
		cb(event)
	}
}

// Paths returns the list of watched paths
func (w *FileWatcher) Paths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	paths := make([]string, len(w.paths))
	copy(paths, w.paths)
	return paths
}

// IsRunning returns whether the watcher is running
func (w *FileWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// =============================================================================
// 🔄 配置重载
// =============================================================================

// ReloadFunc 在新配置通过校验后调用
type ReloadFunc func(old, updated *Config)

// Reloader 重新执行 Loader 并分发新配置。校验失败时保留当前配置。
type Reloader struct {
	loader *Loader
	logger *zap.Logger

	mu        sync.RWMutex
	current   *Config
	callbacks []ReloadFunc
}

// NewReloader 以已加载的配置为初始值
func NewReloader(loader *Loader, initial *Config, logger *zap.Logger) *Reloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reloader{
		loader:  loader,
		current: initial,
		logger:  logger.With(zap.String("component", "config_reloader")),
	}
}

// Current 返回当前配置
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// OnReload 注册重载回调
func (r *Reloader) OnReload(fn ReloadFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, fn)
}

// Reload 重新加载配置
func (r *Reloader) Reload() error {
	updated, err := r.loader.Load()
	if err != nil {
		r.logger.Warn("config reload rejected, keeping current config", zap.Error(err))
		return err
	}

	r.mu.Lock()
	old := r.current
	r.current = updated
	callbacks := make([]ReloadFunc, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	for _, cb := range callbacks {
		cb(old, updated)
	}
	r.logger.Info("config reloaded")
	return nil
}

// Watch 监听 Loader 的配置文件并在变更时重载；未设置文件路径时返回错误
func (r *Reloader) Watch(ctx context.Context, opts ...WatcherOption) (*FileWatcher, error) {
	if r.loader.ConfigPath() == "" {
		return nil, fmt.Errorf("no config file to watch")
	}
	w, err := NewFileWatcher([]string{r.loader.ConfigPath()}, append([]WatcherOption{WithWatcherLogger(r.logger)}, opts...)...)
	if err != nil {
		return nil, err
	}
	w.OnChange(func(ev FileEvent) {
		if ev.Op == FileOpRemove || ev.Op == FileOpChmod {
			return
		}
		_ = r.Reload()
	})
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}
