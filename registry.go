package netpulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jpalmerr/netpulse/internal/clock"
	"github.com/jpalmerr/netpulse/internal/metrics"
)

// Registry owns a keyed set of URL polling tasks.
//
// Each task fetches its URL on its own interval and keeps the last payload,
// readable with [Registry.Task]. Tasks are independent: a failing or hung
// fetch only delays its own next tick. A task whose fetches fail MaxRetries
// times in a row stops itself and keeps its RetryCount to signal it gave up.
//
// Ticks of one task never overlap. The next tick is armed after the previous
// fetch completed, using the interval configured at that moment. Results
// that arrive after the task was stopped, restarted, removed or pointed at
// another URL are discarded.
//
// A Registry is safe for concurrent use. Call [Registry.Close] when done.
type Registry struct {
	fetcher     Fetcher
	ownsFetcher bool
	logger      *slog.Logger
	clock       clock.Clock
	recorder    *metrics.Recorder
	updateHook  func(TaskSnapshot)

	mu    sync.Mutex
	tasks map[string]*task
}

// task is the mutable state of one key. Guarded by Registry.mu.
type task struct {
	key           string
	config        TaskConfig
	data          json.RawMessage
	polling       bool
	retryCount    int
	lastErr       error
	lastFetchedAt time.Time
	updatedAt     time.Time

	// epoch changes on every start and stop; ticks of an older epoch are stale.
	epoch  uint64
	timer  clock.Timer
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRegistry creates an empty [Registry].
//
// Without [WithFetcher] tasks are fetched with an [HTTPFetcher] that the
// registry closes in [Registry.Close].
func NewRegistry(opts ...RegistryOption) (*Registry, error) {
	cfg := &registryConfig{
		clock: clock.Real{},
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		fetcher:    cfg.fetcher,
		logger:     logger,
		clock:      cfg.clock,
		recorder:   cfg.recorder,
		updateHook: cfg.updateHook,
		tasks:      make(map[string]*task),
	}
	if r.fetcher == nil {
		r.fetcher = NewHTTPFetcher()
		r.ownsFetcher = true
	}
	return r, nil
}

// SetConfig creates the task if needed and merges opts into its config.
//
// A new task starts from [DefaultTaskConfig]. Options are applied to a copy
// which replaces the config only if every option succeeds. SetConfig never
// starts or stops polling. A changed interval takes effect when the next tick
// is armed; a changed URL makes the result of a fetch in flight stale.
func (r *Registry) SetConfig(key string, opts ...ConfigOption) error {
	if key == "" {
		return errors.New("task key cannot be empty")
	}

	r.mu.Lock()
	t, ok := r.tasks[key]
	next := DefaultTaskConfig()
	if ok {
		next = t.config.clone()
	}
	for _, opt := range opts {
		if err := opt(&next); err != nil {
			r.mu.Unlock()
			return fmt.Errorf("task %q: %w", key, err)
		}
	}

	if !ok {
		t = &task{key: key}
		r.tasks[key] = t
	}
	t.config = next
	t.updatedAt = r.clock.Now()
	snap := t.snapshot()
	r.mu.Unlock()

	if !ok {
		r.logger.Debug("task created", "task", key)
	}
	r.notify(snap)
	return nil
}

// StartPolling starts the task's tick loop.
//
// Returns [ErrUnknownTask] if the key was never configured and [ErrBlankURL]
// if its URL is empty; neither case schedules anything. Starting a task that
// is already polling does nothing. The retry count is reset and the first
// tick is armed after one interval, or right away with Immediate set.
func (r *Registry) StartPolling(key string) error {
	r.mu.Lock()
	t, ok := r.tasks[key]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn("start ignored, unknown task", "task", key)
		return fmt.Errorf("start %q: %w", key, ErrUnknownTask)
	}
	if t.config.URL == "" {
		r.mu.Unlock()
		r.logger.Warn("start ignored, task has no url", "task", key)
		return fmt.Errorf("start %q: %w", key, ErrBlankURL)
	}
	if t.polling {
		r.mu.Unlock()
		return nil
	}

	t.polling = true
	t.epoch++
	t.retryCount = 0
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.updatedAt = r.clock.Now()

	delay := t.config.Interval
	if t.config.Immediate {
		delay = 0
	}
	r.armLocked(t, delay)
	r.recorder.SetPolling(key, true)
	r.recorder.SetRetryCount(key, 0)
	snap := t.snapshot()
	r.mu.Unlock()

	r.logger.Info("task polling started", "task", key, "url", snap.Config.URL, "interval", snap.Config.Interval.String())
	r.notify(snap)
	return nil
}

// StopPolling stops the task's tick loop and resets its retry count.
//
// Returns [ErrUnknownTask] if the key was never configured. Stopping a task
// that is not polling does nothing. The last payload is kept.
func (r *Registry) StopPolling(key string) error {
	r.mu.Lock()
	t, ok := r.tasks[key]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn("stop ignored, unknown task", "task", key)
		return fmt.Errorf("stop %q: %w", key, ErrUnknownTask)
	}
	if !t.polling {
		r.mu.Unlock()
		return nil
	}
	r.haltLocked(t, true)
	snap := t.snapshot()
	r.mu.Unlock()

	r.logger.Info("task polling stopped", "task", key)
	r.notify(snap)
	return nil
}

// TogglePolling stops a polling task and starts a stopped one.
func (r *Registry) TogglePolling(key string) error {
	r.mu.Lock()
	t, ok := r.tasks[key]
	polling := ok && t.polling
	r.mu.Unlock()

	if polling {
		return r.StopPolling(key)
	}
	return r.StartPolling(key)
}

// Task returns a snapshot of one task.
func (r *Registry) Task(key string) (TaskSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[key]
	if !ok {
		return TaskSnapshot{}, false
	}
	return t.snapshot(), true
}

// Tasks returns snapshots of every task, sorted by key.
func (r *Registry) Tasks() []TaskSnapshot {
	r.mu.Lock()
	result := make([]TaskSnapshot, 0, len(r.tasks))
	for _, t := range r.tasks {
		result = append(result, t.snapshot())
	}
	r.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})
	return result
}

// Remove stops the task and forgets it.
//
// Returns [ErrUnknownTask] if the key was never configured.
func (r *Registry) Remove(key string) error {
	r.mu.Lock()
	t, ok := r.tasks[key]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("remove %q: %w", key, ErrUnknownTask)
	}
	if t.polling {
		r.haltLocked(t, true)
	}
	delete(r.tasks, key)
	r.recorder.Forget(key)
	snap := t.snapshot()
	r.mu.Unlock()

	r.logger.Info("task removed", "task", key)
	r.notify(snap)
	return nil
}

// StopAll stops every polling task.
func (r *Registry) StopAll() {
	r.mu.Lock()
	var stopped []TaskSnapshot
	for _, t := range r.tasks {
		if t.polling {
			r.haltLocked(t, true)
			stopped = append(stopped, t.snapshot())
		}
	}
	r.mu.Unlock()

	for _, snap := range stopped {
		r.notify(snap)
	}
	if len(stopped) > 0 {
		r.logger.Info("all tasks stopped", "count", len(stopped))
	}
}

// Close stops every task and releases the default fetcher's connections.
func (r *Registry) Close() {
	r.StopAll()
	if r.ownsFetcher {
		if f, ok := r.fetcher.(*HTTPFetcher); ok {
			f.Close()
		}
	}
}

// tick performs one fetch of t if the tick still belongs to the current epoch.
func (r *Registry) tick(t *task, epoch uint64) {
	r.mu.Lock()
	if !r.currentLocked(t, epoch) {
		r.mu.Unlock()
		return
	}
	t.timer = nil
	cfg := t.config.clone()
	ctx := t.ctx
	r.mu.Unlock()

	start := time.Now()
	data, err := r.fetch(ctx, cfg)
	latency := time.Since(start)

	r.mu.Lock()
	if !r.currentLocked(t, epoch) {
		// a removed task's series are already forgotten
		if r.tasks[t.key] == t {
			r.recorder.RecordFetch(t.key, latency, metrics.OutcomeStale)
		}
		r.mu.Unlock()
		r.logger.Debug("stale fetch discarded", "task", t.key)
		return
	}
	if t.config.URL != cfg.URL {
		r.armLocked(t, t.config.Interval)
		r.recorder.RecordFetch(t.key, latency, metrics.OutcomeStale)
		r.mu.Unlock()
		r.logger.Debug("fetch discarded, url changed", "task", t.key, "old_url", cfg.URL)
		return
	}

	now := r.clock.Now()
	t.updatedAt = now
	gaveUp := false
	if err == nil {
		t.data = data
		t.retryCount = 0
		t.lastErr = nil
		t.lastFetchedAt = now
		r.armLocked(t, t.config.Interval)
	} else {
		t.retryCount++
		t.lastErr = err
		if t.retryCount >= t.config.MaxRetries {
			gaveUp = true
			r.haltLocked(t, false)
		} else {
			r.armLocked(t, t.config.Interval)
		}
	}
	switch {
	case err == nil:
		r.recorder.RecordFetch(t.key, latency, metrics.OutcomeSuccess)
	case gaveUp:
		r.recorder.RecordFetch(t.key, latency, metrics.OutcomeFailure)
		r.recorder.RecordGiveUp(t.key)
	default:
		r.recorder.RecordFetch(t.key, latency, metrics.OutcomeFailure)
	}
	r.recorder.SetRetryCount(t.key, t.retryCount)
	snap := t.snapshot()
	r.mu.Unlock()

	logAttrs := []any{
		"task", snap.Key,
		"url", cfg.URL,
		"latency_ms", latency.Milliseconds(),
	}
	switch {
	case err == nil:
		r.logger.Debug("fetch completed", logAttrs...)
	case gaveUp:
		r.logger.Warn("fetch failed, task gave up", append(logAttrs,
			"retry_count", snap.RetryCount,
			"max_retries", snap.Config.MaxRetries,
			"error", err.Error(),
		)...)
	default:
		r.logger.Warn("fetch failed", append(logAttrs,
			"retry_count", snap.RetryCount,
			"error", err.Error(),
		)...)
	}
	r.notify(snap)
}

// fetch calls the fetcher with the task timeout, converting a panic into an error.
func (r *Registry) fetch(ctx context.Context, cfg TaskConfig) (data json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = recoverPanic(r.logger, "fetcher", p, "url", cfg.URL)
		}
	}()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	return r.fetcher.Fetch(ctx, cfg)
}

// currentLocked reports whether a tick of epoch may still touch t.
func (r *Registry) currentLocked(t *task, epoch uint64) bool {
	return r.tasks[t.key] == t && t.polling && t.epoch == epoch
}

// armLocked schedules the next tick of t's current epoch.
func (r *Registry) armLocked(t *task, delay time.Duration) {
	epoch := t.epoch
	t.timer = r.clock.AfterFunc(delay, func() {
		r.tick(t, epoch)
	})
}

// haltLocked ends t's current epoch. An explicit stop resets the retry
// count; giving up keeps it.
func (r *Registry) haltLocked(t *task, resetRetries bool) {
	t.polling = false
	t.epoch++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	if resetRetries {
		t.retryCount = 0
	}
	t.updatedAt = r.clock.Now()
	r.recorder.SetPolling(t.key, false)
	r.recorder.SetRetryCount(t.key, t.retryCount)
}

// notify passes snap to the update hook, recovering from panics.
func (r *Registry) notify(snap TaskSnapshot) {
	if r.updateHook == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			_ = recoverPanic(r.logger, "update hook", p, "task", snap.Key)
		}
	}()
	r.updateHook(snap)
}

func (t *task) snapshot() TaskSnapshot {
	return TaskSnapshot{
		Key:           t.key,
		Config:        t.config.clone(),
		Data:          copyBytes(t.data),
		IsPolling:     t.polling,
		RetryCount:    t.retryCount,
		LastError:     t.lastErr,
		LastFetchedAt: t.lastFetchedAt,
		UpdatedAt:     t.updatedAt,
	}
}
