package offsync

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/maintrack/offsync/internal/domain"
	"github.com/maintrack/offsync/internal/ports"
)

type evicter interface {
	EvictIfOverBudget(ctx context.Context) (domain.EvictionResult, error)
}

// evictionRunner enforces the cache budget on a cron schedule.
type evictionRunner struct {
	schedule  string
	store     evicter
	logger    ports.Logger
	onEvicted func(domain.EvictionResult)

	cron *cron.Cron
}

func newEvictionRunner(schedule string, store evicter, logger ports.Logger, onEvicted func(domain.EvictionResult)) (*evictionRunner, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("%w: eviction schedule %q: %v", ErrInvalidConfig, schedule, err)
	}
	return &evictionRunner{
		schedule:  schedule,
		store:     store,
		logger:    logger,
		onEvicted: onEvicted,
	}, nil
}

func (r *evictionRunner) start(ctx context.Context) error {
	r.stop()
	r.cron = cron.New()
	if _, err := r.cron.AddFunc(r.schedule, func() { r.evictOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule eviction: %w", err)
	}
	r.cron.Start()
	r.logger.Info("cache eviction scheduled", ports.String("schedule", r.schedule))

	// Run immediately on startup
	r.evictOnce(ctx)
	return nil
}

// stop halts the schedule and waits for a running pass.
func (r *evictionRunner) stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	r.cron = nil
}

func (r *evictionRunner) evictOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := r.store.EvictIfOverBudget(ctx)
	if err != nil {
		r.logger.Error("cache eviction failed", ports.Err(err))
		return
	}
	if res.Evicted == 0 {
		return
	}
	r.logger.Info("cache eviction completed",
		ports.Int("pages", res.Evicted),
		ports.Int64("bytes_freed", res.FreedBytes),
		ports.Int64("bytes_cached", res.TotalBytes),
	)
	if r.onEvicted != nil {
		r.onEvicted(res)
	}
}
