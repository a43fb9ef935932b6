package app

import (
	"context"
	"fmt"

	"github.com/familyhub/famcal/internal/config"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Scheduler runs calendar sync and recovery drain on their cron schedules.
// An empty schedule disables the job.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(deps *Dependencies, cfg config.Application) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))

	if cfg.Sync.Cron != "" {
		_, err := c.AddFunc(cfg.Sync.Cron, func() {
			log.Debug("Running calendar sync")
			deps.SyncCalendars(ctx, cfg.Sync)
		})
		if err != nil {
			cancel()
			return nil, fmt.Errorf("invalid sync schedule %q: %w", cfg.Sync.Cron, err)
		}
	}

	if cfg.Recovery.DrainCron != "" {
		_, err := c.AddFunc(cfg.Recovery.DrainCron, func() {
			deps.DrainRecovery(ctx)
		})
		if err != nil {
			cancel()
			return nil, fmt.Errorf("invalid recovery drain schedule %q: %w", cfg.Recovery.DrainCron, err)
		}
	}

	return &Scheduler{cron: c, ctx: ctx, cancel: cancel}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
