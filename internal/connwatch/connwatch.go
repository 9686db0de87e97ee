// Package connwatch tracks whether the backends Exemi depends on (the
// model server and Redis) are reachable. Each watcher probes its service
// in the background: with growing delays while the service is down and
// at a fixed interval while it is up. The API health endpoint reports
// the latest status of every watcher.
package connwatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ProbeFunc returns nil when the service is reachable.
type ProbeFunc func(ctx context.Context) error

// Schedule controls probe timing.
type Schedule struct {
	// RetryDelay is the first delay after a failed probe (default 2s).
	RetryDelay time.Duration
	// MaxRetryDelay caps the doubling retry delay (default 60s).
	MaxRetryDelay time.Duration
	// PollInterval is the delay between probes of a healthy service
	// (default 60s).
	PollInterval time.Duration
	// ProbeTimeout bounds a single probe (default 10s).
	ProbeTimeout time.Duration
}

// DefaultSchedule returns the production probe timing.
func DefaultSchedule() Schedule {
	return Schedule{
		RetryDelay:    2 * time.Second,
		MaxRetryDelay: 60 * time.Second,
		PollInterval:  60 * time.Second,
		ProbeTimeout:  10 * time.Second,
	}
}

func (s Schedule) withDefaults() Schedule {
	d := DefaultSchedule()
	if s.RetryDelay <= 0 {
		s.RetryDelay = d.RetryDelay
	}
	if s.MaxRetryDelay <= 0 {
		s.MaxRetryDelay = d.MaxRetryDelay
	}
	if s.PollInterval <= 0 {
		s.PollInterval = d.PollInterval
	}
	if s.ProbeTimeout <= 0 {
		s.ProbeTimeout = d.ProbeTimeout
	}
	return s
}

// Status is a service's health as of its last probe.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher probes one service.
type Watcher struct {
	name     string
	probe    ProbeFunc
	schedule Schedule
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}

	mu        sync.Mutex
	ready     bool
	lastErr   error
	lastCheck time.Time
}

// Status returns the result of the latest probe.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Status{Name: w.name, Ready: w.ready, LastCheck: w.lastCheck}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Ready reports whether the latest probe succeeded.
func (w *Watcher) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready
}

// Stop ends probing and waits for the watcher goroutine.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	retry := w.schedule.RetryDelay
	for {
		err := w.check(ctx)
		if ctx.Err() != nil {
			return
		}

		delay := w.schedule.PollInterval
		if err != nil {
			delay = retry
			retry = min(retry*2, w.schedule.MaxRetryDelay)
		} else {
			retry = w.schedule.RetryDelay
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// check runs one probe and logs transitions.
func (w *Watcher) check(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.schedule.ProbeTimeout)
	err := w.probe(probeCtx)
	cancel()

	w.mu.Lock()
	wasReady, first := w.ready, w.lastCheck.IsZero()
	w.ready = err == nil
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()

	switch {
	case err == nil && (first || !wasReady):
		w.logger.Info("service reachable", "service", w.name)
	case err != nil && (first || wasReady):
		w.logger.Warn("service unreachable", "service", w.name, "error", err)
	case err != nil:
		w.logger.Debug("service still unreachable", "service", w.name, "error", err)
	}
	return err
}

// Manager owns a set of watchers.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
	logger   *slog.Logger
}

// NewManager returns an empty Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{watchers: make(map[string]*Watcher), logger: logger}
}

// Watch starts probing a service until ctx ends or Stop is called.
// Zero Schedule fields take the defaults.
func (m *Manager) Watch(ctx context.Context, name string, probe ProbeFunc, schedule Schedule) *Watcher {
	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		name:     name,
		probe:    probe,
		schedule: schedule.withDefaults(),
		logger:   m.logger,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	m.mu.Lock()
	if old, ok := m.watchers[name]; ok {
		old.cancel()
	}
	m.watchers[name] = w
	m.mu.Unlock()

	go w.run(watchCtx)
	return w
}

// Status returns every watcher's status sorted by name.
func (m *Manager) Status() []Status {
	m.mu.RLock()
	out := make([]Status, 0, len(m.watchers))
	for _, w := range m.watchers {
		out = append(out, w.Status())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop stops every watcher.
func (m *Manager) Stop() {
	m.mu.RLock()
	ws := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		ws = append(ws, w)
	}
	m.mu.RUnlock()
	for _, w := range ws {
		w.Stop()
	}
}
