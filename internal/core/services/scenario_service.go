package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/manthysbr/socialpilot/internal/core/domain"
	"github.com/manthysbr/socialpilot/internal/core/ports"
)

// ScenarioService manages scenario definitions and keeps the scheduler in step
// with them.
type ScenarioService struct {
	logger    *slog.Logger
	store     ports.ScenarioStore
	owners    ports.OwnerDirectory
	registry  *ActionRegistry
	scheduler *ScenarioScheduler
	jobs      Enqueuer
	now       func() time.Time
}

func NewScenarioService(
	logger *slog.Logger,
	store ports.ScenarioStore,
	owners ports.OwnerDirectory,
	registry *ActionRegistry,
	scheduler *ScenarioScheduler,
	jobs Enqueuer,
) *ScenarioService {
	return &ScenarioService{
		logger:    logger,
		store:     store,
		owners:    owners,
		registry:  registry,
		scheduler: scheduler,
		jobs:      jobs,
		now:       time.Now,
	}
}

func (s *ScenarioService) ownerLocation(ctx context.Context, id domain.OwnerID) (*time.Location, error) {
	owner, err := s.owners.GetOwner(ctx, id)
	if err != nil {
		return nil, err
	}
	return owner.Location(), nil
}

// check validates everything a scenario references beyond its own structure.
func (s *ScenarioService) check(sc *domain.Scenario, loc *time.Location) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	for id, step := range sc.Steps {
		switch step.Kind {
		case domain.StepKindAction:
			if err := s.registry.Validate(step.Action.Action, step.Action.Params); err != nil {
				return fmt.Errorf("%w: step %q: %v", domain.ErrInvalidScenario, id, err)
			}
		case domain.StepKindCondition:
			if !KnownMetric(step.Condition.Predicate.Metric) {
				return fmt.Errorf("%w: step %q: unknown metric %q", domain.ErrInvalidScenario, id, step.Condition.Predicate.Metric)
			}
		}
	}
	if sc.Schedule != "" {
		if _, err := ParseSchedule(sc.Schedule, loc); err != nil {
			return err
		}
	}
	return nil
}

// Save validates and stores a scenario, then (re)schedules it. The returned
// report lists unreachable steps and reachable cycles; neither blocks saving.
func (s *ScenarioService) Save(ctx context.Context, sc *domain.Scenario) (domain.GraphReport, error) {
	loc, err := s.ownerLocation(ctx, sc.OwnerID)
	if err != nil {
		return domain.GraphReport{}, err
	}
	for id, step := range sc.Steps {
		if step.Condition != nil {
			step.Condition.Predicate.Comparator = step.Condition.Predicate.Comparator.Normalize()
			sc.Steps[id] = step
		}
	}
	if err := s.check(sc, loc); err != nil {
		return domain.GraphReport{}, err
	}

	now := s.now().UTC()
	if sc.ID == "" {
		sc.ID = domain.ScenarioID(uuid.NewString())
		sc.CreatedAt = now
	} else if existing, err := s.store.GetScenario(ctx, sc.ID); err == nil {
		if existing.OwnerID != sc.OwnerID {
			return domain.GraphReport{}, fmt.Errorf("%w: scenario %s belongs to another owner", domain.ErrInvalidScenario, sc.ID)
		}
		sc.CreatedAt = existing.CreatedAt
		sc.LastRunAt = existing.LastRunAt
	} else if !errors.Is(err, domain.ErrScenarioNotFound) {
		return domain.GraphReport{}, err
	} else {
		sc.CreatedAt = now
	}
	sc.UpdatedAt = now

	if err := s.store.SaveScenario(ctx, sc); err != nil {
		return domain.GraphReport{}, fmt.Errorf("failed to save scenario: %w", err)
	}
	if err := s.scheduler.Schedule(*sc, loc); err != nil {
		return domain.GraphReport{}, err
	}

	report := sc.Analyze()
	if report.HasCycle || len(report.Unreachable) > 0 {
		s.logger.Warn("scenario graph has issues", "scenario_id", sc.ID, "cycle", report.HasCycle, "unreachable", report.Unreachable)
	}
	return report, nil
}

func (s *ScenarioService) Get(ctx context.Context, id domain.ScenarioID) (*domain.Scenario, error) {
	return s.store.GetScenario(ctx, id)
}

func (s *ScenarioService) List(ctx context.Context, owner domain.OwnerID) ([]domain.Scenario, error) {
	return s.store.ListScenarios(ctx, owner)
}

func (s *ScenarioService) Delete(ctx context.Context, id domain.ScenarioID) error {
	s.scheduler.Unschedule(id)
	return s.store.DeleteScenario(ctx, id)
}

// Trigger enqueues a run right away. Inactive scenarios may still be run by hand.
func (s *ScenarioService) Trigger(ctx context.Context, id domain.ScenarioID, runAt *time.Time) (domain.JobRecord, error) {
	sc, err := s.store.GetScenario(ctx, id)
	if err != nil {
		return domain.JobRecord{}, err
	}
	return s.jobs.Enqueue(ctx, EnqueueRequest{
		Action:     domain.ActionRunScenario,
		OwnerID:    sc.OwnerID,
		ScenarioID: &sc.ID,
		RunAt:      runAt,
	})
}

// DeactivateOwner clears the active flag of all the owner's scenarios and
// drops their schedules.
func (s *ScenarioService) DeactivateOwner(ctx context.Context, owner domain.OwnerID) (int, error) {
	scenarios, err := s.store.ListScenarios(ctx, owner)
	if err != nil {
		return 0, err
	}
	for _, sc := range scenarios {
		s.scheduler.Unschedule(sc.ID)
	}
	n, err := s.store.DeactivateOwnerScenarios(ctx, owner)
	if err != nil {
		return 0, err
	}
	s.logger.Warn("owner automations deactivated", "owner_id", owner, "count", n)
	return n, nil
}

// Sync schedules every active scenario; called once at startup.
func (s *ScenarioService) Sync(ctx context.Context) error {
	active, err := s.store.ListActiveScenarios(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active scenarios: %w", err)
	}
	var errs []error
	for _, sc := range active {
		loc, err := s.ownerLocation(ctx, sc.OwnerID)
		if err != nil {
			errs = append(errs, fmt.Errorf("scenario %s: %w", sc.ID, err))
			continue
		}
		if err := s.scheduler.Schedule(sc, loc); err != nil {
			errs = append(errs, fmt.Errorf("scenario %s: %w", sc.ID, err))
		}
	}
	return errors.Join(errs...)
}
