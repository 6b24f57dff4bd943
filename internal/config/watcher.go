package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/straja-ai/straja-dlp/internal/logging"
)

// Store holds the current Snapshot. Readers call Current once per request
// and keep using what they got.
type Store struct {
	cur atomic.Pointer[Snapshot]
}

// NewStore seeds the store with snap.
func NewStore(snap *Snapshot) *Store {
	s := &Store{}
	s.cur.Store(snap)
	return s
}

// Current returns the active snapshot.
func (s *Store) Current() *Snapshot { return s.cur.Load() }

// Swap installs snap and returns the previous snapshot.
func (s *Store) Swap(snap *Snapshot) *Snapshot { return s.cur.Swap(snap) }

const defaultDebounce = 150 * time.Millisecond

// Watcher reloads a config file when it changes and swaps the store's
// snapshot. An invalid file is logged and the previous snapshot stays.
type Watcher struct {
	path     string
	store    *Store
	log      *zap.Logger
	debounce time.Duration
	fsw      *fsnotify.Watcher

	// OnReload, when set, is called after every reload attempt.
	OnReload func(*Snapshot, error)

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher watches the directory holding path so editor rename-and-replace
// saves are seen.
func NewWatcher(path string, store *Store, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		path:     abs,
		store:    store,
		log:      log.Named("config"),
		debounce: defaultDebounce,
		fsw:      fsw,
	}, nil
}

// Run processes file events until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	w.log.Info("watching config", zap.String("path", w.path))
	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return fmt.Errorf("config watcher events channel closed")
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.schedule()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return fmt.Errorf("config watcher errors channel closed")
			}
			w.log.Warn("config watcher error", logging.Error(err))
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.Reload)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Reload reads the file now.
func (w *Watcher) Reload() {
	snap, err := w.load()
	if err != nil {
		w.log.Error("config reload rejected, keeping previous", logging.Error(err))
	} else {
		prev := w.store.Swap(snap)
		fields := []zap.Field{zap.String("mode", string(snap.Mode)), zap.Int("policies", snap.Policies.Len())}
		if prev != nil && prev.Mode != snap.Mode {
			fields = append(fields, zap.String("previous_mode", string(prev.Mode)))
		}
		w.log.Info("config reloaded", fields...)
	}
	if w.OnReload != nil {
		w.OnReload(snap, err)
	}
}

func (w *Watcher) load() (*Snapshot, error) {
	cfg, err := Load(w.path)
	if err != nil {
		return nil, err
	}
	return cfg.Snapshot()
}
