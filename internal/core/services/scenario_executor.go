package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/manthysbr/socialpilot/internal/core/domain"
	"github.com/manthysbr/socialpilot/internal/core/ports"
)

// scenarioLockKey is the claim target that serializes scenario runs per owner.
const scenarioLockKey = "scenario-run"

// DefaultScenarioLockTTL outlives any sane run; the lock is released on exit.
const DefaultScenarioLockTTL = 2 * time.Hour

// ScenarioExecutor walks a scenario's step graph for one job run.
type ScenarioExecutor struct {
	logger     *slog.Logger
	scenarios  ports.ScenarioStore
	registry   *ActionRegistry
	conditions *ConditionEvaluator
	locks      ports.ClaimStore
	limits     ports.LimitProvider
	emitter    *Emitter
	maxSteps   int
	lockTTL    time.Duration
	now        func() time.Time
}

func NewScenarioExecutor(
	logger *slog.Logger,
	scenarios ports.ScenarioStore,
	registry *ActionRegistry,
	conditions *ConditionEvaluator,
	locks ports.ClaimStore,
	limits ports.LimitProvider,
	emitter *Emitter,
) *ScenarioExecutor {
	return &ScenarioExecutor{
		logger:     logger,
		scenarios:  scenarios,
		registry:   registry,
		conditions: conditions,
		locks:      locks,
		limits:     limits,
		emitter:    emitter,
		maxSteps:   domain.DefaultMaxSteps,
		lockTTL:    DefaultScenarioLockTTL,
		now:        time.Now,
	}
}

// Run traverses the scenario from its entry step. An action error aborts the
// whole run; the step limit ends it early without failing it.
func (e *ScenarioExecutor) Run(ctx context.Context, ex *Execution, id domain.ScenarioID) (domain.ScenarioRunSummary, error) {
	summary := domain.ScenarioRunSummary{ScenarioID: id}

	sc, err := e.scenarios.GetScenario(ctx, id)
	if err != nil {
		return summary, err
	}
	if sc.OwnerID != ex.Owner.ID {
		return summary, fmt.Errorf("%w: scenario %s belongs to another owner", domain.ErrInvalidScenario, id)
	}
	if _, ok := sc.Steps[sc.EntryStepID]; !ok {
		return summary, fmt.Errorf("%w: scenario %s has no entry step", domain.ErrInvalidScenario, id)
	}

	acquired, err := e.locks.AcquireClaim(ctx, ex.Owner.ID, scenarioLockKey, e.lockTTL)
	if err != nil {
		return summary, fmt.Errorf("scenario lock: %w", err)
	}
	if !acquired {
		return summary, domain.ErrScenarioBusy
	}
	defer func() {
		if err := e.locks.ReleaseClaim(context.WithoutCancel(ctx), ex.Owner.ID, scenarioLockKey); err != nil {
			e.logger.Error("failed to release scenario lock", "owner_id", ex.Owner.ID, "error", err)
		}
	}()

	log := e.logger.With("scenario_id", id, "job_id", ex.JobID)
	log.Info("scenario run started", "name", sc.Name)

	current := &sc.EntryStepID
	for current != nil {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if len(summary.Visited) >= e.maxSteps {
			summary.Truncated = true
			log.Warn("scenario stopped at step limit", "max_steps", e.maxSteps)
			e.emitter.Progress(ex.Owner.ID, ex.JobID, domain.SeverityWarning, "",
				fmt.Sprintf("scenario %s stopped after %d steps", sc.Name, e.maxSteps))
			break
		}

		step, ok := sc.Steps[*current]
		if !ok {
			return summary, fmt.Errorf("%w: step %q does not exist", domain.ErrInvalidScenario, *current)
		}
		if (step.Kind == domain.StepKindAction && step.Action == nil) || (step.Kind == domain.StepKindCondition && step.Condition == nil) {
			return summary, fmt.Errorf("%w: step %q has no %s payload", domain.ErrInvalidScenario, step.ID, step.Kind)
		}
		summary.Visited = append(summary.Visited, step.ID)

		switch step.Kind {
		case domain.StepKindAction:
			if !e.limits.FeatureEnabled(ex.Owner, step.Action.Action) {
				return summary, fmt.Errorf("step %s: %w: %s", step.ID, domain.ErrFeatureDisabled, step.Action.Action)
			}
			res, err := e.registry.Execute(ctx, ex, step.Action.Action, step.Action.Params)
			summary.Actions = append(summary.Actions, res)
			if err != nil {
				log.Error("scenario step failed", "step_id", step.ID, "action", step.Action.Action, "error", err)
				return summary, fmt.Errorf("step %s (%s): %w", step.ID, step.Action.Action, err)
			}
			current = step.Action.Next

		case domain.StepKindCondition:
			pred := step.Condition.Predicate
			passed, live, err := e.conditions.Evaluate(ctx, ex, pred)
			if err != nil {
				return summary, fmt.Errorf("step %s: %w", step.ID, err)
			}
			log.Info("condition evaluated", "step_id", step.ID, "metric", pred.Metric, "live", live, "passed", passed)
			if passed {
				current = step.Condition.OnSuccess
			} else {
				current = step.Condition.OnFailure
			}

		default:
			return summary, fmt.Errorf("%w: step %q has unknown kind %q", domain.ErrInvalidScenario, step.ID, step.Kind)
		}
	}

	if err := e.scenarios.RecordScenarioRun(ctx, id, e.now().UTC()); err != nil {
		log.Error("failed to record scenario run", "error", err)
	}
	log.Info("scenario run finished", "steps", len(summary.Visited), "truncated", summary.Truncated)
	return summary, nil
}
