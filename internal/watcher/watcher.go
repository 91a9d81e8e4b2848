// Package watcher hot-reloads endpoint ladders when the config file
// changes, so rule tweaks apply without restarting the gate.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rankgate/rankgate/internal/config"
	"github.com/rankgate/rankgate/internal/rule"
	log "github.com/sirupsen/logrus"
)

// debounce coalesces editor write bursts into one reload.
const debounce = 200 * time.Millisecond

// LadderSet holds the current ladders and swaps them atomically on reload.
type LadderSet struct {
	mu      sync.RWMutex
	ladders map[string]rule.Ladder
	login   rule.Ladder
}

// NewLadderSet seeds the set from a loaded config.
func NewLadderSet(cfg config.Config) *LadderSet {
	return &LadderSet{ladders: cfg.Ladders(), login: cfg.LoginLadder()}
}

// Ladders returns the current endpoint ladders.
func (s *LadderSet) Ladders() map[string]rule.Ladder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ladders
}

// LoginLadder returns the current admin login ladder.
func (s *LadderSet) LoginLadder() rule.Ladder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.login
}

func (s *LadderSet) swap(cfg config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ladders = cfg.Ladders()
	s.login = cfg.LoginLadder()
}

// Watch reloads the ladder set whenever the config file is rewritten.
// Invalid configs are logged and skipped; the previous ladders stay active.
// Watch blocks until the context is canceled.
func Watch(ctx context.Context, configPath string, set *LadderSet) error {
	fsWatcher, errNew := fsnotify.NewWatcher()
	if errNew != nil {
		return errNew
	}
	defer func() { _ = fsWatcher.Close() }()

	// Watch the directory: editors and orchestrators replace the file, which
	// drops a watch set on the file itself.
	dir := filepath.Dir(configPath)
	if errAdd := fsWatcher.Add(dir); errAdd != nil {
		return errAdd
	}

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(configPath) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case errWatch, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(errWatch).Warn("watcher: filesystem watch error")
		case <-reload:
			cfg, errLoad := config.Load(configPath)
			if errLoad != nil {
				log.WithError(errLoad).Warn("watcher: config reload skipped")
				continue
			}
			set.swap(cfg)
			log.WithField("endpoints", len(cfg.Endpoints)).Info("watcher: ladders reloaded")
		}
	}
}
