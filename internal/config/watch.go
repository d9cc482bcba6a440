package config

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"convergeai/internal/logging"
)

// Provider hands out the active configuration snapshot. Components read a
// fresh snapshot per operation so hot-reloaded values take effect without
// plumbing.
type Provider interface {
	Current() *Config
}

// Static is a fixed-snapshot Provider for tests and one-shot commands.
type Static struct {
	cfg *Config
}

// NewStatic wraps cfg in a Provider.
func NewStatic(cfg *Config) *Static { return &Static{cfg: cfg} }

// Current returns the wrapped config.
func (s *Static) Current() *Config { return s.cfg }

// Watcher reloads the config file on a fixed poll and on file-write events,
// swapping an atomic snapshot. Readers never observe a torn config.
type Watcher struct {
	path     string
	interval time.Duration
	cur      atomic.Pointer[Config]

	mu      sync.Mutex
	done    chan struct{}
	stopped sync.WaitGroup
}

// DefaultPollInterval is the config refresh poll period.
const DefaultPollInterval = 60 * time.Second

// NewWatcher loads path once and returns a watcher ready to Start.
func NewWatcher(path string, interval time.Duration) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	w := &Watcher{path: path, interval: interval}
	w.cur.Store(cfg)
	return w, nil
}

// Current returns the active snapshot.
func (w *Watcher) Current() *Config {
	return w.cur.Load()
}

// Start launches the refresh loop. Safe to call once.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return
	}
	w.done = make(chan struct{})

	// fsnotify gives immediacy; the poll tick is the guarantee. Watch the
	// directory, not the file: editors replace files on save.
	var fw *fsnotify.Watcher
	if f, err := fsnotify.NewWatcher(); err == nil {
		if err := f.Add(filepath.Dir(w.path)); err == nil {
			fw = f
		} else {
			f.Close()
			logging.Config("config watcher: fsnotify add failed: %v (poll only)", err)
		}
	} else {
		logging.Config("config watcher: fsnotify unavailable: %v (poll only)", err)
	}

	w.stopped.Add(1)
	go w.loop(fw)
}

// Stop terminates the refresh loop and waits for it to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done == nil {
		return
	}
	close(w.done)
	w.stopped.Wait()
	w.done = nil
}

func (w *Watcher) loop(fw *fsnotify.Watcher) {
	defer w.stopped.Done()
	if fw != nil {
		defer fw.Close()
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var events chan fsnotify.Event
	var errs chan error
	if fw != nil {
		events = fw.Events
		errs = fw.Errors
	}

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.reload("poll")
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) {
				w.reload("fsnotify")
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logging.Config("config watcher error: %v", err)
		}
	}
}

// reload re-reads the file and swaps the snapshot. A broken file keeps the
// previous snapshot active.
func (w *Watcher) reload(source string) {
	cfg, err := Load(w.path)
	if err != nil {
		logging.Config("config reload (%s) failed, keeping previous snapshot: %v", source, err)
		return
	}
	prev := w.cur.Load()
	w.cur.Store(cfg)

	if prev != nil {
		if prev.Retrieval.TopK != cfg.Retrieval.TopK ||
			prev.Retrieval.GroundingThreshold != cfg.Retrieval.GroundingThreshold ||
			prev.Session.IdleTimeoutMinutes != cfg.Session.IdleTimeoutMinutes ||
			prev.Policies.Alerts.SLABufferHours != cfg.Policies.Alerts.SLABufferHours {
			logging.Config("config reloaded (%s): top_k=%d grounding=%.2f idle_min=%d sla_buffer_h=%.1f",
				source, cfg.Retrieval.TopK, cfg.Retrieval.GroundingThreshold,
				cfg.Session.IdleTimeoutMinutes, cfg.Policies.Alerts.SLABufferHours)
		}
	}
}
