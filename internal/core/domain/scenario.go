package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

type ScenarioID string
type StepID string

type StepKind string

const (
	StepKindAction    StepKind = "ACTION"
	StepKindCondition StepKind = "CONDITION"
)

// DefaultMaxSteps bounds one scenario traversal regardless of graph shape.
const DefaultMaxSteps = 50

// Scenario is a saved, schedulable workflow graph owned by one account.
type Scenario struct {
	ID          ScenarioID              `json:"id"`
	OwnerID     OwnerID                 `json:"owner_id"`
	Name        string                  `json:"name"`
	Schedule    string                  `json:"schedule,omitempty"` // standard 5-field cron
	Active      bool                    `json:"active"`
	EntryStepID StepID                  `json:"entry_step_id"`
	Steps       map[StepID]ScenarioStep `json:"steps"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
	LastRunAt   *time.Time              `json:"last_run_at,omitempty"`
}

// ScenarioStep is a sum type: exactly one of Action or Condition is set, matching Kind.
type ScenarioStep struct {
	ID        StepID         `json:"id"`
	Kind      StepKind       `json:"kind"`
	Action    *ActionStep    `json:"action,omitempty"`
	Condition *ConditionStep `json:"condition,omitempty"`
}

type ActionStep struct {
	Action ActionKind `json:"action"`
	Params Params     `json:"params,omitempty"`
	Next   *StepID    `json:"next,omitempty"`
}

type ConditionStep struct {
	Predicate Predicate `json:"predicate"`
	OnSuccess *StepID   `json:"on_success,omitempty"`
	OnFailure *StepID   `json:"on_failure,omitempty"`
}

// Predicate compares a live metric to a fixed value.
type Predicate struct {
	Metric     string     `json:"metric"`
	Comparator Comparator `json:"comparator"`
	Value      float64    `json:"value"`
}

type Comparator string

const (
	CompareGT  Comparator = "gt"
	CompareGTE Comparator = "gte"
	CompareLT  Comparator = "lt"
	CompareLTE Comparator = "lte"
	CompareEQ  Comparator = "eq"
	CompareNE  Comparator = "ne"
)

var comparatorAliases = map[string]Comparator{
	">": CompareGT, ">=": CompareGTE, "<": CompareLT, "<=": CompareLTE, "==": CompareEQ, "=": CompareEQ, "!=": CompareNE,
}

// Normalize maps symbolic comparators to their named form.
func (c Comparator) Normalize() Comparator {
	if named, ok := comparatorAliases[string(c)]; ok {
		return named
	}
	return c
}

// Compare evaluates "live <c> want".
func (c Comparator) Compare(live, want float64) (bool, error) {
	switch c.Normalize() {
	case CompareGT:
		return live > want, nil
	case CompareGTE:
		return live >= want, nil
	case CompareLT:
		return live < want, nil
	case CompareLTE:
		return live <= want, nil
	case CompareEQ:
		return live == want, nil
	case CompareNE:
		return live != want, nil
	}
	return false, fmt.Errorf("unknown comparator %q", c)
}

// Successors returns the outgoing step references of a step.
func (s ScenarioStep) Successors() []StepID {
	var out []StepID
	switch s.Kind {
	case StepKindAction:
		if s.Action != nil && s.Action.Next != nil {
			out = append(out, *s.Action.Next)
		}
	case StepKindCondition:
		if s.Condition != nil {
			if s.Condition.OnSuccess != nil {
				out = append(out, *s.Condition.OnSuccess)
			}
			if s.Condition.OnFailure != nil {
				out = append(out, *s.Condition.OnFailure)
			}
		}
	}
	return out
}

// GraphReport describes the shape of a scenario graph.
type GraphReport struct {
	Unreachable []StepID `json:"unreachable,omitempty"`
	HasCycle    bool     `json:"has_cycle"`
}

// Validate checks structural consistency. Cycles are allowed; traversal is bounded.
func (sc *Scenario) Validate() error {
	if sc.OwnerID == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidScenario)
	}
	for id, step := range sc.Steps {
		if step.ID != id {
			return fmt.Errorf("%w: step key %q does not match id %q", ErrInvalidScenario, id, step.ID)
		}
		switch step.Kind {
		case StepKindAction:
			if step.Action == nil || step.Condition != nil {
				return fmt.Errorf("%w: step %q must carry only an action", ErrInvalidScenario, id)
			}
			if step.Action.Action == "" || step.Action.Action == ActionRunScenario {
				return fmt.Errorf("%w: step %q has invalid action %q", ErrInvalidScenario, id, step.Action.Action)
			}
		case StepKindCondition:
			if step.Condition == nil || step.Action != nil {
				return fmt.Errorf("%w: step %q must carry only a condition", ErrInvalidScenario, id)
			}
			if step.Condition.Predicate.Metric == "" {
				return fmt.Errorf("%w: step %q has no metric", ErrInvalidScenario, id)
			}
			if _, err := step.Condition.Predicate.Comparator.Compare(0, 0); err != nil {
				return fmt.Errorf("%w: step %q: %v", ErrInvalidScenario, id, err)
			}
		default:
			return fmt.Errorf("%w: step %q has unknown kind %q", ErrInvalidScenario, id, step.Kind)
		}
		for _, next := range step.Successors() {
			if _, ok := sc.Steps[next]; !ok {
				return fmt.Errorf("%w: step %q points to missing step %q", ErrInvalidScenario, id, next)
			}
		}
	}
	if sc.EntryStepID != "" {
		if _, ok := sc.Steps[sc.EntryStepID]; !ok {
			return fmt.Errorf("%w: entry step %q does not exist", ErrInvalidScenario, sc.EntryStepID)
		}
	} else if sc.Active {
		return fmt.Errorf("%w: active scenario needs an entry step", ErrInvalidScenario)
	}
	return nil
}

// Analyze reports unreachable steps and whether a cycle is reachable from the entry.
func (sc *Scenario) Analyze() GraphReport {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[StepID]int, len(sc.Steps))
	var report GraphReport

	var visit func(id StepID)
	visit = func(id StepID) {
		state[id] = onStack
		for _, next := range sc.Steps[id].Successors() {
			switch state[next] {
			case onStack:
				report.HasCycle = true
			case unvisited:
				if _, ok := sc.Steps[next]; ok {
					visit(next)
				}
			}
		}
		state[id] = done
	}
	if _, ok := sc.Steps[sc.EntryStepID]; ok {
		visit(sc.EntryStepID)
	}

	for id := range sc.Steps {
		if state[id] == unvisited {
			report.Unreachable = append(report.Unreachable, id)
		}
	}
	sort.Slice(report.Unreachable, func(i, j int) bool { return report.Unreachable[i] < report.Unreachable[j] })
	return report
}

// ScenarioRunSummary describes one traversal.
type ScenarioRunSummary struct {
	ScenarioID ScenarioID      `json:"scenario_id"`
	Visited    []StepID        `json:"visited"`
	Actions    []ActionSummary `json:"actions"`
	Truncated  bool            `json:"truncated"`
}

// Partial reports whether the run stopped early or any action finished partially.
func (s ScenarioRunSummary) Partial() bool {
	if s.Truncated {
		return true
	}
	for _, a := range s.Actions {
		if a.Partial {
			return true
		}
	}
	return false
}

// Message renders the run as the human-readable job result.
func (s ScenarioRunSummary) Message() string {
	parts := make([]string, 0, len(s.Actions)+1)
	parts = append(parts, fmt.Sprintf("scenario %s: %d steps", s.ScenarioID, len(s.Visited)))
	for _, a := range s.Actions {
		parts = append(parts, a.Message())
	}
	msg := strings.Join(parts, "; ")
	if s.Truncated {
		msg += " (stopped at step limit)"
	}
	return msg
}

var (
	ErrScenarioNotFound = errors.New("scenario not found")
	ErrInvalidScenario  = errors.New("invalid scenario")
	ErrScenarioBusy     = errors.New("another scenario run holds the owner lock")
)
