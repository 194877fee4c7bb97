package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"taleweaver/internal/logging"
)

// Watcher reloads logging settings when config.yaml changes on disk, so a
// long-running play session can flip debug logging without a restart.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	dataDir     string
	lastReload  time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewWatcher creates a watcher over dataDir/config.yaml.
func NewWatcher(dataDir string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     w,
		dataDir:     dataDir,
		debounceDur: 500 * time.Millisecond, // Editors fire several events per save
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; events are handled in a goroutine.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	// Watch the directory, not the file: editors replace files on save and
	// a file watch dies with the old inode.
	if err := w.watcher.Add(w.dataDir); err != nil {
		return err
	}

	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	defer close(w.doneCh)
	target := filepath.Join(w.dataDir, "config.yaml")

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.mu.Lock()
			if time.Since(w.lastReload) < w.debounceDur {
				w.mu.Unlock()
				continue
			}
			w.lastReload = time.Now()
			w.mu.Unlock()

			cfg, err := Load(w.dataDir)
			if err != nil {
				logging.Get(logging.CategoryBoot).Warn("config reload failed: %v", err)
				continue
			}
			logging.Configure(cfg.LoggingSettings())
			logging.Get(logging.CategoryBoot).Info("config reloaded (debug=%v level=%s)",
				cfg.Logging.DebugMode, cfg.Logging.Level)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryBoot).Warn("config watcher error: %v", err)

		case <-w.stopCh:
			return
		}
	}
}

// Stop shuts the watcher down and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	_ = w.watcher.Close()
	<-w.doneCh
}
