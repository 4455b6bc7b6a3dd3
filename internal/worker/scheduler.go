package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/martinsuchenak/phoned/internal/discovery"
	"github.com/martinsuchenak/phoned/internal/log"
)

// DiscoveryRunner is the discovery sweep entry point.
type DiscoveryRunner interface {
	Discover(ctx context.Context, cidr string) (*discovery.Result, error)
}

// SessionPurger evicts expired phone sessions.
type SessionPurger interface {
	PurgeExpired() int
}

// Scheduler drives the periodic jobs: the discovery sweep over the configured
// network range and the session store purge. Jobs run through the pool so a
// sweep that overruns its interval queues the next trigger instead of
// running twice concurrently.
type Scheduler struct {
	cron     *cron.Cron
	pool     *Pool
	runner   DiscoveryRunner
	sessions SessionPurger

	cidr          string
	sweepInterval time.Duration
	purgeInterval time.Duration
	sweepDeadline time.Duration
}

// NewScheduler creates a scheduler for the given sweep range and intervals.
// An empty cidr disables the discovery sweep; the session purge always runs.
func NewScheduler(runner DiscoveryRunner, sessions SessionPurger, cidr string,
	sweepInterval, purgeInterval, sweepDeadline time.Duration) *Scheduler {
	return &Scheduler{
		cron:          cron.New(),
		pool:          NewPool(1),
		runner:        runner,
		sessions:      sessions,
		cidr:          cidr,
		sweepInterval: sweepInterval,
		purgeInterval: purgeInterval,
		sweepDeadline: sweepDeadline,
	}
}

// Start registers the cron entries and starts the pool.
func (s *Scheduler) Start() error {
	s.pool.Start()

	if s.cidr != "" {
		spec := fmt.Sprintf("@every %s", s.sweepInterval)
		if _, err := s.cron.AddFunc(spec, s.submitSweep); err != nil {
			return fmt.Errorf("scheduling discovery sweep: %w", err)
		}
		log.Info("Discovery sweep scheduled", "range", s.cidr, "interval", s.sweepInterval)
	}

	purgeSpec := fmt.Sprintf("@every %s", s.purgeInterval)
	if _, err := s.cron.AddFunc(purgeSpec, s.purgeSessions); err != nil {
		return fmt.Errorf("scheduling session purge: %w", err)
	}

	s.cron.Start()
	return nil
}

// Stop stops the cron entries and drains the pool.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.pool.Stop()
	log.Info("Scheduler stopped")
}

func (s *Scheduler) submitSweep() {
	err := s.pool.Submit(Job{
		Name: "discovery-sweep",
		Handler: func(ctx context.Context) error {
			sweepCtx, cancel := context.WithTimeout(ctx, s.sweepDeadline)
			defer cancel()

			result, err := s.runner.Discover(sweepCtx, s.cidr)
			if err != nil {
				return err
			}
			log.Info("Scheduled discovery sweep finished",
				"range", s.cidr, "devices", len(result.Devices),
				"source_errors", len(result.SourceErrors), "timed_out", result.TimedOut)
			return nil
		},
	})
	if err != nil {
		log.Warn("Could not queue discovery sweep", "error", err)
	}
}

func (s *Scheduler) purgeSessions() {
	if n := s.sessions.PurgeExpired(); n > 0 {
		log.Debug("Expired phone sessions purged", "count", n)
	}
}
