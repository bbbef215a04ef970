package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/manthysbr/socialpilot/internal/core/domain"
	"github.com/robfig/cron/v3"
)

// Enqueuer is the queue ingress the scheduler fires into.
type Enqueuer interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (domain.JobRecord, error)
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a standard 5-field cron expression (or @descriptor)
// evaluated in loc.
func ParseSchedule(expr string, loc *time.Location) (cron.Schedule, error) {
	if loc == nil {
		loc = time.UTC
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: schedule %q: %v", domain.ErrInvalidScenario, expr, err)
	}
	if spec, ok := sched.(*cron.SpecSchedule); ok {
		spec.Location = loc
	}
	return sched, nil
}

// NextRun returns the first activation of expr after from.
func NextRun(expr string, loc *time.Location, from time.Time) (time.Time, error) {
	sched, err := ParseSchedule(expr, loc)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}

// ScenarioScheduler fires run_scenario jobs for active scenarios on their cron
// schedules, in each owner's timezone.
type ScenarioScheduler struct {
	logger *slog.Logger
	jobs   Enqueuer
	cron   *cron.Cron

	mu      sync.Mutex
	entries map[domain.ScenarioID]cron.EntryID
}

func NewScenarioScheduler(logger *slog.Logger, jobs Enqueuer) *ScenarioScheduler {
	return &ScenarioScheduler{
		logger:  logger,
		jobs:    jobs,
		cron:    cron.New(cron.WithParser(cronParser)),
		entries: make(map[domain.ScenarioID]cron.EntryID),
	}
}

// Schedule (re)registers a scenario. Inactive or unscheduled scenarios are removed.
func (s *ScenarioScheduler) Schedule(sc domain.Scenario, loc *time.Location) error {
	s.Unschedule(sc.ID)
	if !sc.Active || sc.Schedule == "" {
		return nil
	}
	sched, err := ParseSchedule(sc.Schedule, loc)
	if err != nil {
		return err
	}

	id, owner := sc.ID, sc.OwnerID
	entry := s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(id, owner) }))

	s.mu.Lock()
	s.entries[id] = entry
	s.mu.Unlock()

	s.logger.Info("scenario scheduled", "scenario_id", id, "owner_id", owner, "schedule", sc.Schedule, "next_run", sched.Next(time.Now()))
	return nil
}

// Unschedule removes a scenario. Unknown ids are ignored.
func (s *ScenarioScheduler) Unschedule(id domain.ScenarioID) {
	s.mu.Lock()
	entry, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()
	if ok {
		s.cron.Remove(entry)
	}
}

// Scheduled reports whether a scenario currently has a cron entry.
func (s *ScenarioScheduler) Scheduled(id domain.ScenarioID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

func (s *ScenarioScheduler) fire(id domain.ScenarioID, owner domain.OwnerID) {
	job, err := s.jobs.Enqueue(context.Background(), EnqueueRequest{
		Action:     domain.ActionRunScenario,
		OwnerID:    owner,
		ScenarioID: &id,
	})
	if err != nil {
		s.logger.Error("failed to enqueue scheduled scenario", "scenario_id", id, "owner_id", owner, "error", err)
		return
	}
	s.logger.Info("scheduled scenario enqueued", "scenario_id", id, "job_id", job.ID)
}

// Run starts the cron loop. Blocks until ctx is cancelled.
func (s *ScenarioScheduler) Run(ctx context.Context) error {
	s.logger.Info("scenario scheduler started")
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scenario scheduler stopped")
	return nil
}
