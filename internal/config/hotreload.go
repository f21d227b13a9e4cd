package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 300 * time.Millisecond

// LiveSettings are the settings a running server picks up without restart.
type LiveSettings struct {
	LogLevel         string
	RatePerMinute    int
	RateBurst        int
	ProgressThrottle time.Duration
}

// Live extracts the reloadable part of c.
func (c *Config) Live() LiveSettings {
	return LiveSettings{
		LogLevel:         c.Log.Level,
		RatePerMinute:    c.Gateway.RatePerMinute,
		RateBurst:        c.Gateway.RateBurst,
		ProgressThrottle: c.ProgressThrottle(),
	}
}

func (l LiveSettings) validate() error {
	if _, ok := parseLevel(l.LogLevel); !ok {
		return fmt.Errorf("unknown log level %q", l.LogLevel)
	}
	if l.RatePerMinute < 0 || l.RateBurst < 0 {
		return fmt.Errorf("negative rate limit %d/%d", l.RatePerMinute, l.RateBurst)
	}
	if l.ProgressThrottle <= 0 {
		return fmt.Errorf("progress throttle must be positive, got %s", l.ProgressThrottle)
	}
	return nil
}

// Reloader watches the config file and hands changed live settings to its
// handlers. Invalid files are rejected and the previous settings stay.
type Reloader struct {
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu       sync.Mutex
	current  *Config
	handlers []func(LiveSettings)

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewReloader watches path. current is the config the server started with.
func NewReloader(path string, current *Config) (*Reloader, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Reloader{
		path:     filepath.Clean(path),
		watcher:  w,
		debounce: reloadDebounce,
		current:  current,
	}, nil
}

// OnChange registers fn for live setting changes.
func (r *Reloader) OnChange(fn func(LiveSettings)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, fn)
}

// Start watches the parent directory so editors that save by renaming are
// picked up too.
func (r *Reloader) Start() error {
	if err := r.watcher.Add(filepath.Dir(r.path)); err != nil {
		return err
	}
	r.stopChan = make(chan struct{})
	go r.loop()

	slog.Info("config reloader started", "path", r.path)
	return nil
}

func (r *Reloader) Stop() {
	r.stopOnce.Do(func() {
		if r.stopChan != nil {
			close(r.stopChan)
		}
		r.watcher.Close()
	})
}

func (r *Reloader) loop() {
	var timer *time.Timer
	for {
		select {
		case <-r.stopChan:
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != r.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(r.debounce, r.reload)

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("config watcher error", "error", err)
		}
	}
}

func (r *Reloader) reload() {
	next, err := Load(r.path)
	if err != nil {
		slog.Error("config reload failed", "path", r.path, "error", err)
		return
	}
	live := next.Live()
	if err := live.validate(); err != nil {
		slog.Error("config reload rejected", "path", r.path, "error", err)
		return
	}

	r.mu.Lock()
	prev := r.current
	r.current = next
	handlers := append(([]func(LiveSettings))(nil), r.handlers...)
	r.mu.Unlock()

	if sections := restartOnly(prev, next); len(sections) > 0 {
		slog.Warn("config changes need a restart", "sections", sections)
	}
	if prev != nil && prev.Live() == live {
		slog.Debug("config reloaded, live settings unchanged", "path", r.path)
		return
	}

	for _, fn := range handlers {
		fn(live)
	}
	slog.Info("config reloaded",
		"log_level", live.LogLevel,
		"rate_per_minute", live.RatePerMinute,
		"rate_burst", live.RateBurst,
		"progress_throttle", live.ProgressThrottle,
	)
}

// restartOnly names the sections that changed outside the live settings.
func restartOnly(prev, next *Config) []string {
	if prev == nil {
		return nil
	}
	a, b := *prev, *next
	a.Log.Level, b.Log.Level = "", ""
	a.Gateway.RatePerMinute, b.Gateway.RatePerMinute = 0, 0
	a.Gateway.RateBurst, b.Gateway.RateBurst = 0, 0
	a.Telegram.ProgressThrottleMs, b.Telegram.ProgressThrottleMs = 0, 0

	var out []string
	check := func(name string, x, y any) {
		if !reflect.DeepEqual(x, y) {
			out = append(out, name)
		}
	}
	check("telegram", a.Telegram, b.Telegram)
	check("search", a.Search, b.Search)
	check("remote", a.Remote, b.Remote)
	check("gateway", a.Gateway, b.Gateway)
	check("http", a.HTTP, b.HTTP)
	check("log", a.Log, b.Log)
	check("telemetry", a.Telemetry, b.Telemetry)
	return out
}
