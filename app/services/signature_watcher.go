package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jaecopzm/trakpilot/utils"
)

const signatureReloadDebounce = 200 * time.Millisecond

// SignatureWatcher calls reload whenever the watched file is written, created or renamed into place.
// The parent directory is watched so editors that replace the file are seen too.
type SignatureWatcher struct {
	path    string
	reload  func(path string) error
	watcher *fsnotify.Watcher
}

func NewSignatureWatcher(path string, reload func(path string) error) (*SignatureWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	return &SignatureWatcher{path: abs, reload: reload, watcher: fsw}, nil
}

// Start processes events until the returned stop func is called or parent ends
func (w *SignatureWatcher) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)
	var wg sync.WaitGroup
	wg.Go(func() { w.loop(ctx) })
	return func() {
		cancel()
		_ = w.watcher.Close()
		wg.Wait()
	}
}

func (w *SignatureWatcher) loop(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(signatureReloadDebounce)
			} else {
				timer.Reset(signatureReloadDebounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			utils.LogError("signature_watcher", err, map[string]any{"path": w.path})
		case <-fire:
			fire = nil
			if err := w.reload(w.path); err != nil {
				utils.LogError("signature_reload", err, map[string]any{"path": w.path})
				continue
			}
			utils.LogEvent("signature_reloaded", map[string]any{"path": w.path})
		}
	}
}
