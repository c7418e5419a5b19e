package services

import (
	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the periodic jobs of a service. Jobs registered as leader-only
// are skipped on instances that do not hold the lease.
type Scheduler struct {
	cron       *cron.Cron
	leader     domain.LeaderElection
	instanceID string
	log        logger.Logger
}

func NewScheduler(leader domain.LeaderElection, instanceID string, log logger.Logger) *Scheduler {
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		leader:     leader,
		instanceID: instanceID,
		log:        log,
	}
}

// Every registers job at a fixed interval of at least one second.
func (s *Scheduler) Every(ctx context.Context, name string, interval time.Duration, leaderOnly bool,
	job func(ctx context.Context)) error {
	if interval < time.Second {
		return fmt.Errorf("job %s: interval %s is below one second", name, interval)
	}
	return s.Cron(ctx, name, "@every "+interval.String(), leaderOnly, job)
}

// Cron registers job on a six-field cron spec.
func (s *Scheduler) Cron(ctx context.Context, name, spec string, leaderOnly bool, job func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(spec, func() {
		if ctx.Err() != nil {
			return
		}
		if leaderOnly && !s.isLeader(ctx) {
			return
		}
		job(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%s): %w", name, spec, err)
	}
	s.log.Info("Job scheduled", "job", name, "spec", spec, "leader_only", leaderOnly)
	return nil
}

func (s *Scheduler) Start() {
	s.log.Info("Starting scheduler")
	s.cron.Start()
}

// Stop waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.log.Info("Stopping scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) isLeader(ctx context.Context) bool {
	if s.leader == nil {
		return true
	}
	ok, err := s.leader.IsLeader(ctx, s.instanceID)
	if err != nil {
		s.log.Warn("Leader check failed, skipping job", "error", err)
		return false
	}
	return ok
}

// cronLogger adapts the service logger to cron's logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
