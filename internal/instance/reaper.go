package instance

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const defaultReapInterval = 60 * time.Second

// Reaper periodically reclaims instances idle past their timeout. It runs
// independently of request handling against the same store; per-instance
// teardown is idempotent, so overlapping with a concurrent explicit delete
// is harmless.
type Reaper struct {
	mgr      *Manager
	interval time.Duration
	log      zerolog.Logger
}

// NewReaper builds a reaper sweeping every interval (0 uses the default).
func NewReaper(mgr *Manager, interval time.Duration, log zerolog.Logger) *Reaper {
	if interval <= 0 {
		interval = defaultReapInterval
	}
	return &Reaper{mgr: mgr, interval: interval, log: log}
}

// Run sweeps until ctx is canceled. Always returns ctx.Err().
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.log.Info().Dur("interval", r.interval).Msg("event=reaper_start")
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("event=reaper_stop")
			return ctx.Err()
		case <-ticker.C:
			if n := r.mgr.ReapExpired(ctx); n > 0 {
				r.log.Info().Int("reaped", n).Msg("event=reap_sweep")
			}
		}
	}
}
