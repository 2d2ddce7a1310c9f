package infra

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/hourglass/internal/domain"
)

// DesktopSampler samples and terminates processes through the OS process table.
// Used on Windows, macOS and Linux.
type DesktopSampler struct {
	pm     domain.ProcessManager
	logger *zap.Logger
}

// NewDesktopSampler creates a sampler that can terminate processes.
func NewDesktopSampler(pm domain.ProcessManager, logger *zap.Logger) *DesktopSampler {
	return &DesktopSampler{pm: pm, logger: logger.Named("sampler")}
}

func (s *DesktopSampler) Name() string {
	return "desktop"
}

func (s *DesktopSampler) Sample(ctx context.Context) ([]string, error) {
	return s.pm.ListNames(ctx)
}

// Terminate kills every process with the given name. A failure on one PID is
// logged and does not stop the others; all failures are returned combined.
func (s *DesktopSampler) Terminate(ctx context.Context, processName string) error {
	pids, err := s.pm.FindByName(ctx, processName)
	if err != nil {
		s.logger.Warn("failed to find processes",
			zap.String("process", processName),
			zap.Error(err))
		return err
	}

	var errs error
	for _, pid := range pids {
		if err := s.pm.Kill(ctx, pid); err != nil {
			s.logger.Warn("failed to kill process",
				zap.String("process", processName),
				zap.Int("pid", pid),
				zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}
		s.logger.Info("killed process",
			zap.String("process", processName),
			zap.Int("pid", pid))
	}
	return errs
}

// ObserveOnlySampler measures usage but cannot terminate processes.
// Used on mobile platforms and when termination is disabled in config.
type ObserveOnlySampler struct {
	pm     domain.ProcessManager
	logger *zap.Logger
}

// NewObserveOnlySampler creates a sampler whose Terminate is a no-op.
func NewObserveOnlySampler(pm domain.ProcessManager, logger *zap.Logger) *ObserveOnlySampler {
	return &ObserveOnlySampler{pm: pm, logger: logger.Named("sampler")}
}

func (s *ObserveOnlySampler) Name() string {
	return "observe-only"
}

func (s *ObserveOnlySampler) Sample(ctx context.Context) ([]string, error) {
	return s.pm.ListNames(ctx)
}

func (s *ObserveOnlySampler) Terminate(_ context.Context, processName string) error {
	s.logger.Warn("process termination not supported on this platform",
		zap.String("process", processName))
	return nil
}

// NewPlatformSampler selects the sampler for the target platform.
func NewPlatformSampler(goos string, terminate bool, pm domain.ProcessManager, logger *zap.Logger) domain.UsageSampler {
	switch goos {
	case "android", "ios":
		return NewObserveOnlySampler(pm, logger)
	}
	if !terminate {
		return NewObserveOnlySampler(pm, logger)
	}
	return NewDesktopSampler(pm, logger)
}

// Ensure implementations satisfy interfaces
var (
	_ domain.UsageSampler = (*DesktopSampler)(nil)
	_ domain.UsageSampler = (*ObserveOnlySampler)(nil)
)
