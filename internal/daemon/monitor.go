// Package daemon runs the monitoring loop and its supporting background work.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eliteGoblin/focusd/hourglass/internal/domain"
	"github.com/eliteGoblin/focusd/hourglass/internal/usecase"
)

// MonitorConfig holds monitoring loop configuration.
type MonitorConfig struct {
	TickInterval      time.Duration // Cycle length and usage credited per cycle
	HeartbeatInterval time.Duration // How often to update the registry heartbeat
}

// DefaultMonitorConfig returns default monitor configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		TickInterval:      usecase.DefaultTickInterval,
		HeartbeatInterval: 30 * time.Second,
	}
}

// Monitor drives one measurement and enforcement cycle per tick.
type Monitor struct {
	config   MonitorConfig
	engine   *usecase.Engine
	tracker  *usecase.UsageTracker
	websites domain.WebsiteActivity
	registry domain.DaemonRegistry
	state    domain.DaemonState
	clock    quartz.Clock
	reload   chan struct{}
	logger   *zap.Logger
}

// NewMonitor creates a monitoring loop. registry may be nil.
func NewMonitor(
	config MonitorConfig,
	engine *usecase.Engine,
	tracker *usecase.UsageTracker,
	websites domain.WebsiteActivity,
	registry domain.DaemonRegistry,
	state domain.DaemonState,
	logger *zap.Logger,
) *Monitor {
	return &Monitor{
		config:   config,
		engine:   engine,
		tracker:  tracker,
		websites: websites,
		registry: registry,
		state:    state,
		clock:    quartz.NewReal(),
		reload:   make(chan struct{}, 1),
		logger:   logger.Named("monitor"),
	}
}

// RequestReload asks the loop to reload limits before its next cycle.
// Requests made while one is pending are coalesced.
func (m *Monitor) RequestReload() {
	select {
	case m.reload <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled or a cycle panics. Cancellation returns
// nil after outstanding warnings have finished.
func (m *Monitor) Run(ctx context.Context) error {
	if m.registry != nil {
		if err := m.registry.Register(m.state); err != nil {
			m.logger.Error("failed to register daemon", zap.Error(err))
			return fmt.Errorf("failed to register daemon: %w", err)
		}
		defer func() {
			if err := m.registry.Clear(); err != nil {
				m.logger.Warn("failed to clear registry", zap.Error(err))
			}
		}()
	}
	defer m.engine.Wait()

	// A failed load leaves the engine with no limits; keep monitoring so a
	// later reload can recover.
	_ = m.engine.Reload(ctx)

	m.logger.Info("monitoring started",
		zap.Duration("tick", m.config.TickInterval),
		zap.String("computer_id", m.state.ComputerID))

	lastHeartbeat := m.clock.Now()
	for {
		if ctx.Err() != nil {
			m.logger.Info("monitoring stopped")
			return nil
		}

		select {
		case <-m.reload:
			if err := m.engine.Reload(ctx); err == nil {
				m.logger.Info("limits reloaded on request")
			}
		default:
		}

		start := m.clock.Now("monitor", "cycle")
		if err := m.cycle(ctx); err != nil {
			fields := []zap.Field{zap.Error(err)}
			var pe *PanicError
			if errors.As(err, &pe) {
				fields = append(fields, zap.ByteString("stack", pe.Stack))
			}
			m.logger.Error("monitoring loop terminated", fields...)
			return err
		}

		if m.registry != nil && m.clock.Since(lastHeartbeat) >= m.config.HeartbeatInterval {
			if err := m.registry.UpdateHeartbeat(); err != nil {
				m.logger.Warn("failed to update heartbeat", zap.Error(err))
			}
			lastHeartbeat = m.clock.Now()
		}

		elapsed := m.clock.Since(start, "monitor", "cycle")
		if elapsed >= m.config.TickInterval {
			m.logger.Warn("monitoring cycle took longer than expected",
				zap.Duration("elapsed", elapsed),
				zap.Duration("tick", m.config.TickInterval))
			continue
		}

		timer := m.clock.NewTimer(m.config.TickInterval-elapsed, "monitor", "sleep")
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
}

// cycle samples apps and websites while enforcing the totals from the
// previous cycle, then credits this cycle's usage.
func (m *Monitor) cycle(ctx context.Context) error {
	targets := m.engine.Targets()

	var appUsage, webUsage map[string]time.Duration
	var g errgroup.Group
	g.Go(recovered("sample apps", func() {
		appUsage = m.tracker.GetActiveAppUsage(ctx, targets.Processes)
	}))
	g.Go(recovered("sample websites", func() {
		webUsage = m.tracker.GetActiveWebsiteUsage(ctx, targets.Websites, m.websites)
	}))
	g.Go(recovered("enforce", func() {
		m.engine.Enforce(ctx)
	}))
	if err := g.Wait(); err != nil {
		return err
	}

	m.engine.Accumulate(appUsage)
	m.engine.Accumulate(webUsage)
	return nil
}

// PanicError reports a panic raised inside a monitoring phase.
type PanicError struct {
	Phase string
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Phase, e.Value)
}

func recovered(phase string, fn func()) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Phase: phase, Value: r, Stack: debug.Stack()}
			}
		}()
		fn()
		return nil
	}
}
