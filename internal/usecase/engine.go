package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/hourglass/internal/domain"
)

// Targets is the read-only lookup used by the samplers during one tick.
type Targets struct {
	Processes map[string]string // normalized process name -> target key
	Websites  map[string]string // domain -> target key
}

// Engine accumulates usage and enforces limits.
//
// limits, targets, usage and shownWarnings are owned by the monitoring
// goroutine. The ignore cache is shared with warning goroutines and guarded
// by mu.
type Engine struct {
	computerID string
	store      domain.LimitStore
	tracker    *UsageTracker
	tabs       domain.TabCloser
	notifier   domain.Notifier
	logger     *zap.Logger

	limits        map[string]domain.Limit
	targets       Targets
	usage         map[string]*domain.Usage
	shownWarnings map[string]struct{}

	mu      sync.Mutex
	ignored map[string]bool
	pending map[string]struct{} // warnings whose dialog is still open

	wg sync.WaitGroup
}

// NewEngine creates an enforcement engine for the given computer.
func NewEngine(
	computerID string,
	store domain.LimitStore,
	tracker *UsageTracker,
	tabs domain.TabCloser,
	notifier domain.Notifier,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		computerID:    computerID,
		store:         store,
		tracker:       tracker,
		tabs:          tabs,
		notifier:      notifier,
		logger:        logger.Named("engine"),
		limits:        make(map[string]domain.Limit),
		targets:       Targets{Processes: map[string]string{}, Websites: map[string]string{}},
		usage:         make(map[string]*domain.Usage),
		shownWarnings: make(map[string]struct{}),
		ignored:       make(map[string]bool),
		pending:       make(map[string]struct{}),
	}
}

// Reload reads all limits from the store and rebuilds the lookup maps.
// On a store failure the engine falls back to no limits and the error is returned.
func (e *Engine) Reload(ctx context.Context) error {
	limits, err := e.store.LoadAllLimits(ctx, e.computerID)
	if err != nil {
		e.logger.Error("failed to load limits, enforcement disabled until next reload",
			zap.String("computer_id", e.computerID),
			zap.Error(err))
		limits = nil
	}

	next := make(map[string]domain.Limit, len(limits))
	targets := Targets{
		Processes: make(map[string]string),
		Websites:  make(map[string]string),
	}
	for _, l := range limits {
		next[l.Key] = l
		if domain.IsWebsiteLimit(l) {
			targets.Websites[domain.WebsiteKey(l.Key)] = l.Key
		} else {
			targets.Processes[domain.ProcessNameFromPath(l.Key)] = l.Key
		}
	}

	for key := range e.usage {
		if _, ok := next[key]; !ok {
			delete(e.usage, key)
			delete(e.shownWarnings, key)
		}
	}
	for key := range e.shownWarnings {
		if _, ok := next[key]; !ok {
			delete(e.shownWarnings, key)
		}
	}

	e.mu.Lock()
	ignored := make(map[string]bool, len(next))
	for key, l := range next {
		_, open := e.pending[key]
		if l.Ignore || open {
			ignored[key] = true
		}
	}
	e.ignored = ignored
	e.mu.Unlock()

	e.limits = next
	e.targets = targets

	e.logger.Info("limits loaded",
		zap.Int("limits", len(next)),
		zap.Int("processes", len(targets.Processes)),
		zap.Int("websites", len(targets.Websites)))
	return err
}

// Targets returns the lookup maps built by the last Reload.
func (e *Engine) Targets() Targets {
	return e.targets
}

// Accumulate adds a tick's usage delta to both counters of each known,
// non-ignored target.
func (e *Engine) Accumulate(delta map[string]time.Duration) {
	for key, d := range delta {
		if d <= 0 {
			continue
		}
		if _, ok := e.limits[key]; !ok {
			continue
		}
		if e.IsIgnored(key) {
			continue
		}
		u, ok := e.usage[key]
		if !ok {
			u = &domain.Usage{}
			e.usage[key] = u
		}
		u.WarningUsage += d
		u.KillUsage += d
	}
}

// Enforce evaluates the warning and kill thresholds of every target with
// accumulated usage. Within one target the warning is evaluated first.
func (e *Engine) Enforce(ctx context.Context) {
	for key, u := range e.usage {
		if u.IsZero() {
			continue
		}
		limit, ok := e.limits[key]
		if !ok {
			continue
		}
		if e.IsIgnored(key) {
			continue
		}

		e.checkWarning(ctx, limit, u)
		e.checkKill(ctx, limit, u)
	}
}

func (e *Engine) checkWarning(ctx context.Context, limit domain.Limit, u *domain.Usage) {
	if limit.WarningDuration <= 0 || u.WarningUsage < limit.WarningDuration {
		return
	}
	if _, shown := e.shownWarnings[limit.Key]; shown {
		return
	}
	e.shownWarnings[limit.Key] = struct{}{}

	e.mu.Lock()
	e.ignored[limit.Key] = true
	e.pending[limit.Key] = struct{}{}
	e.mu.Unlock()

	w := newWarning(limit)
	e.logger.Info("warning threshold reached",
		zap.String("target", limit.Key),
		zap.Duration("warning_usage", u.WarningUsage),
		zap.Duration("time_remaining", w.TimeRemaining))

	e.wg.Add(1)
	go e.showWarning(ctx, w)
}

// showWarning persists the ignore flag and blocks on the notifier.
func (e *Engine) showWarning(ctx context.Context, w domain.Warning) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		delete(e.pending, w.Key)
		e.mu.Unlock()
	}()

	storeCtx := context.WithoutCancel(ctx)
	if err := e.store.UpdateIgnoreStatus(storeCtx, w.Key, true); err != nil {
		e.logger.Warn("failed to persist ignore flag, rolling back",
			zap.String("target", w.Key),
			zap.Error(err))
		e.mu.Lock()
		delete(e.ignored, w.Key)
		delete(e.pending, w.Key)
		e.mu.Unlock()
	}

	if e.notifier == nil {
		e.logger.Warn("no notifier configured, acknowledging warning", zap.String("target", w.Key))
		e.AcknowledgeWarning(storeCtx, w.Key)
		return
	}

	if err := e.notifier.ShowWarning(ctx, w, func() { e.AcknowledgeWarning(storeCtx, w.Key) }); err != nil {
		e.logger.Warn("failed to show warning",
			zap.String("target", w.Key),
			zap.Error(err))
		e.AcknowledgeWarning(storeCtx, w.Key)
	}
}

// AcknowledgeWarning clears the ignore flag of a target in the store and in
// memory, and ends its open warning. The store is written first so a Reload
// racing the acknowledgement still sees the target as pending.
func (e *Engine) AcknowledgeWarning(ctx context.Context, key string) {
	if err := e.store.UpdateIgnoreStatus(ctx, key, false); err != nil {
		e.logger.Warn("failed to clear ignore flag",
			zap.String("target", key),
			zap.Error(err))
	}
	e.mu.Lock()
	delete(e.ignored, key)
	delete(e.pending, key)
	e.mu.Unlock()
}

func (e *Engine) checkKill(ctx context.Context, limit domain.Limit, u *domain.Usage) {
	if limit.KillDuration <= 0 || u.KillUsage < limit.KillDuration {
		return
	}

	if domain.IsWebsiteLimit(limit) {
		site := domain.WebsiteKey(limit.Key)
		if e.tabs == nil {
			e.logger.Warn("no control channel, cannot close tabs", zap.String("domain", site))
		} else if err := e.tabs.SendCloseTabCommand(ctx, site); err != nil {
			e.logger.Warn("failed to close tabs",
				zap.String("domain", site),
				zap.Error(err))
		} else {
			e.logger.Info("kill threshold reached, closed tabs",
				zap.String("domain", site),
				zap.Duration("kill_usage", u.KillUsage))
		}
	} else {
		name := domain.ProcessNameFromPath(limit.Key)
		if err := e.tracker.TerminateProcess(context.WithoutCancel(ctx), name); err != nil {
			e.logger.Warn("failed to terminate process",
				zap.String("process", name),
				zap.Error(err))
		} else {
			e.logger.Info("kill threshold reached, terminated process",
				zap.String("process", name),
				zap.Duration("kill_usage", u.KillUsage))
		}
	}

	delete(e.usage, limit.Key)
	delete(e.shownWarnings, limit.Key)
}

// IsIgnored reports whether enforcement is suppressed for a target.
func (e *Engine) IsIgnored(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ignored[key]
}

// Usage returns the counters of a target. Must be called from the
// goroutine driving the engine.
func (e *Engine) Usage(key string) domain.Usage {
	if u, ok := e.usage[key]; ok {
		return *u
	}
	return domain.Usage{}
}

// WarningShown reports whether the target is in its current warning episode.
func (e *Engine) WarningShown(key string) bool {
	_, ok := e.shownWarnings[key]
	return ok
}

// Wait blocks until all outstanding warning notifications have returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}
