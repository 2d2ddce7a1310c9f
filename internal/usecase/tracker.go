package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/hourglass/internal/domain"
)

// DefaultTickInterval is the usage credited to an active target per tick.
const DefaultTickInterval = time.Second

// UsageTracker measures which monitored targets were active during a tick.
// OS specifics live behind the domain.UsageSampler strategy.
type UsageTracker struct {
	sampler domain.UsageSampler
	tick    time.Duration
	logger  *zap.Logger
}

// NewUsageTracker creates a tracker crediting tick per active target.
func NewUsageTracker(sampler domain.UsageSampler, tick time.Duration, logger *zap.Logger) *UsageTracker {
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	return &UsageTracker{
		sampler: sampler,
		tick:    tick,
		logger:  logger.Named("tracker"),
	}
}

// Tick returns the per-tick increment.
func (t *UsageTracker) Tick() time.Duration {
	return t.tick
}

// GetActiveAppUsage returns one tick increment for every monitored process
// name that is running, keyed by target. processes maps normalized process
// name to target key. Several instances of one executable count once.
func (t *UsageTracker) GetActiveAppUsage(ctx context.Context, processes map[string]string) map[string]time.Duration {
	usage := make(map[string]time.Duration)
	if len(processes) == 0 {
		return usage
	}

	names, err := t.sampler.Sample(ctx)
	if err != nil {
		t.logger.Warn("failed to enumerate processes",
			zap.String("sampler", t.sampler.Name()),
			zap.Error(err))
		return usage
	}

	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		n := domain.NormalizeProcessName(name)
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}

		if key, ok := processes[n]; ok {
			usage[key] += t.tick
		}
	}
	return usage
}

// GetActiveWebsiteUsage returns one tick increment for every monitored
// website with an open tab. websites maps domain to target key.
func (t *UsageTracker) GetActiveWebsiteUsage(_ context.Context, websites map[string]string, activity domain.WebsiteActivity) map[string]time.Duration {
	usage := make(map[string]time.Duration)
	if activity == nil {
		return usage
	}
	for d, key := range websites {
		if activity.IsDomainActive(d) {
			usage[key] += t.tick
		}
	}
	return usage
}

// TerminateProcess kills every instance of the process via the platform strategy.
func (t *UsageTracker) TerminateProcess(ctx context.Context, processName string) error {
	return t.sampler.Terminate(ctx, processName)
}
