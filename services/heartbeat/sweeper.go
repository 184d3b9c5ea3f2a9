package heartbeat

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/HZeroxium/fleet-control/infrastructure/config"
	"github.com/HZeroxium/fleet-control/infrastructure/logging"
	"github.com/HZeroxium/fleet-control/pkg/storage"
)

// Sweeper walks the projection on a schedule: instances unseen past the miss
// threshold accrue consecutive misses, and instances unseen past the
// retirement threshold are removed.
type Sweeper struct {
	store  storage.FleetStore
	config config.HeartbeatConfig
	logger *logging.Logger
	cron   *cron.Cron
}

// NewSweeper creates a sweeper over the projection store.
func NewSweeper(store storage.FleetStore, cfg config.HeartbeatConfig, logger *logging.Logger) *Sweeper {
	return &Sweeper{store: store, config: cfg, logger: logger}
}

// Sweep runs one pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	retired, err := s.store.Retire(ctx, now.Add(-s.config.RetirementThreshold))
	if err != nil {
		s.logger.WithError(err).Error("projection retirement sweep failed")
	} else if retired > 0 {
		s.logger.WithField("retired", retired).Info("retired stale fleet entries")
	}

	missed, err := s.store.MarkMissed(ctx, now.Add(-s.config.MissThreshold))
	if err != nil {
		s.logger.WithError(err).Error("projection miss sweep failed")
	} else if missed > 0 {
		s.logger.WithField("missed", missed).Debug("marked instances as missing")
	}
}

// Start schedules the sweep.
func (s *Sweeper) Start(ctx context.Context) error {
	schedule := s.config.SweepSchedule
	if schedule == "" {
		schedule = "@every 30s"
	}
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(schedule, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("schedule fleet sweep: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}
