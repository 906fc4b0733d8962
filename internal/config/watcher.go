package config

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/flowctl/workflowrouter/internal/registry"
)

// Watcher watches the route configuration file and invokes a callback
// with the freshly loaded route set on every change. Events are
// debounced because editors and config mounts produce bursts of writes
// for a single logical update.
type Watcher struct {
	watcher    *fsnotify.Watcher
	configPath string
	debounce   time.Duration
}

func NewWatcher(configPath string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: atomic-rename updates (the way
	// most config management rewrites files) replace the inode.
	if err := fsWatcher.Add(filepath.Dir(configPath)); err != nil {
		fsWatcher.Close()
		return nil, err
	}
	return &Watcher{
		watcher:    fsWatcher,
		configPath: configPath,
		debounce:   500 * time.Millisecond,
	}, nil
}

// Start runs the watch loop until ctx is cancelled. onChange receives
// the parsed route set; load or validation failures are logged and the
// previous configuration stays in effect.
func (w *Watcher) Start(ctx context.Context, onChange func([]registry.RouteConfig) error) {
	go w.loop(ctx, onChange)
}

func (w *Watcher) loop(ctx context.Context, onChange func([]registry.RouteConfig) error) {
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Config: watch error: %v", err)

		case <-fire:
			routes, err := Load(w.configPath)
			if err != nil {
				log.Printf("⚠️ Config: reload of %s failed, keeping previous routes: %v", w.configPath, err)
				continue
			}
			if err := onChange(routes); err != nil {
				log.Printf("⚠️ Config: new routes rejected, keeping previous: %v", err)
				continue
			}
			log.Printf("Config: reloaded %d routes from %s", len(routes), w.configPath)
		}
	}
}
