package medialib

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher 监听库目录变化并增量更新索引
type Watcher struct {
	lib   *Library
	delay time.Duration

	// 每个路径一个延迟任务，文件还在写入时不断重置
	mu      sync.Mutex
	pending map[string]*time.Timer

	// OnChange 索引更新后回调，参数为相对路径
	OnChange func(rel string)
}

// NewWatcher 创建监听器，delay 为文件稳定等待时间
func NewWatcher(lib *Library, delay time.Duration) *Watcher {
	if delay <= 0 {
		delay = 2 * time.Second
	}
	return &Watcher{
		lib:     lib,
		delay:   delay,
		pending: make(map[string]*time.Timer),
	}
}

// Run 阻塞监听直到 ctx 结束
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := w.addTree(watcher, w.lib.Root()); err != nil {
		return err
	}
	logger().Info().Str("root", w.lib.Root()).Msg("Watching media library")

	defer w.stopPending()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger().Warn().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) handle(ctx context.Context, watcher *fsnotify.Watcher, event fsnotify.Event) {
	logger().Debug().Str("op", event.Op.String()).Str("path", event.Name).Msg("Watcher event")

	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		w.cancel(event.Name)
		rel, err := w.lib.relPath(event.Name)
		if err != nil {
			return
		}
		if err := w.lib.Remove(ctx, rel); err != nil {
			logger().Warn().Err(err).Str("path", rel).Msg("Failed to remove from library")
			return
		}
		w.notify(rel)

	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		if isDirectory(event.Name) {
			if err := w.addTree(watcher, event.Name); err != nil {
				logger().Warn().Err(err).Str("path", event.Name).Msg("Failed to watch new directory")
			}
			w.scheduleTree(ctx, event.Name)
			return
		}
		if IsAudioFile(event.Name) {
			w.schedule(ctx, event.Name)
		}
	}
}

// schedule 延迟索引，期间再次变化会重置计时
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(w.delay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		changed, err := w.lib.IndexFile(ctx, path)
		if err != nil {
			logger().Warn().Err(err).Str("path", path).Msg("Failed to index file")
			return
		}
		if changed {
			if rel, err := w.lib.relPath(path); err == nil {
				w.notify(rel)
			}
		}
	})
}

// scheduleTree 新目录可能是整体移入的，里面的文件不会再产生事件
func (w *Watcher) scheduleTree(ctx context.Context, dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && IsAudioFile(path) {
			w.schedule(ctx, path)
		}
		return nil
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, timer := range w.pending {
		if p == path || strings.HasPrefix(p, path+string(filepath.Separator)) {
			timer.Stop()
			delete(w.pending, p)
		}
	}
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, timer := range w.pending {
		timer.Stop()
		delete(w.pending, p)
	}
}

func (w *Watcher) notify(rel string) {
	if w.OnChange != nil {
		w.OnChange(rel)
	}
}

// addTree fsnotify 不递归，逐个目录添加
func (w *Watcher) addTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func isDirectory(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
