// Package janitor schedules the periodic reconciliation sweep that repairs
// tracked state after missed webhook deliveries.
package janitor

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"

	"github.com/workplane/workplane/api/pkg/config"
)

// Resyncer is the slice of the synchronization engine the janitor drives.
type Resyncer interface {
	Resync(ctx context.Context) error
}

type Janitor struct {
	cfg       config.Sync
	resyncer  Resyncer
	scheduler gocron.Scheduler
}

func New(cfg config.Sync, resyncer Resyncer) (*Janitor, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Janitor{
		cfg:       cfg,
		resyncer:  resyncer,
		scheduler: scheduler,
	}, nil
}

func (j *Janitor) Start(ctx context.Context) error {
	if !j.cfg.ResyncEnabled {
		log.Info().Msg("periodic resync disabled")
		return nil
	}

	_, err := j.scheduler.NewJob(
		gocron.DurationJob(j.cfg.ResyncInterval),
		gocron.NewTask(func() {
			runCtx, cancel := context.WithTimeout(ctx, j.cfg.ResyncInterval)
			defer cancel()

			started := time.Now()
			if err := j.resyncer.Resync(runCtx); err != nil {
				log.Error().Err(err).Msg("periodic resync failed")
				return
			}
			log.Info().Dur("took", time.Since(started)).Msg("periodic resync finished")
		}),
		gocron.WithName("vcs-resync"),
	)
	if err != nil {
		return err
	}

	j.scheduler.Start()
	log.Info().Dur("interval", j.cfg.ResyncInterval).Msg("periodic resync scheduled")
	return nil
}

func (j *Janitor) Stop() error {
	return j.scheduler.Shutdown()
}
