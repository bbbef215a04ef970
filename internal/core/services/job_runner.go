package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/manthysbr/socialpilot/internal/core/domain"
	"github.com/manthysbr/socialpilot/internal/core/ports"
)

// OwnerDeactivator switches off every automation of an owner.
type OwnerDeactivator interface {
	DeactivateOwner(ctx context.Context, owner domain.OwnerID) (int, error)
}

// RunnerDeps wires a JobRunner.
type RunnerDeps struct {
	Logger      *slog.Logger
	Queue       *JobQueue
	Jobs        ports.JobStore
	Owners      ports.OwnerDirectory
	Limits      ports.LimitProvider
	Clients     ports.ClientFactory
	Registry    *ActionRegistry
	Scenarios   *ScenarioExecutor
	Automations OwnerDeactivator
	Emitter     *Emitter
	// NewPacer builds the per-run pacer; defaults to the owner's profile and zone.
	NewPacer func(owner domain.Owner) *Pacer
}

// JobRunner executes queued jobs end to end on a worker and owns every state
// change after PENDING.
type JobRunner struct {
	RunnerDeps
	now func() time.Time
}

var errJobPanicked = errors.New("job panicked")

func NewJobRunner(deps RunnerDeps) *JobRunner {
	if deps.NewPacer == nil {
		deps.NewPacer = func(owner domain.Owner) *Pacer {
			return NewPacer(owner.Profile, WithLocation(owner.Location()))
		}
	}
	return &JobRunner{RunnerDeps: deps, now: time.Now}
}

// Run starts the worker pool and blocks until ctx is done and every running
// job has returned.
func (r *JobRunner) Run(ctx context.Context) error {
	r.Queue.Start(ctx, r.Execute)
	<-ctx.Done()
	r.Queue.Wait()
	r.Logger.Info("job runner drained")
	return nil
}

// outcome is what a run produced before the terminal write.
type outcome struct {
	result  string
	partial bool
}

// Execute is the callback for the queue
func (r *JobRunner) Execute(ctx context.Context, item QueueItem) {
	log := r.Logger.With("job_id", item.JobID)

	job, err := r.Jobs.GetJob(ctx, item.JobID)
	if err != nil {
		log.Error("failed to load job", "error", err)
		return
	}
	if job.State != domain.JobStatePending {
		log.Info("skipping job", "state", job.State)
		return
	}
	log = log.With("owner_id", job.OwnerID, "action", job.Action)

	pending := job
	if err := job.Transition(domain.JobStateStarted, r.now().UTC()); err != nil {
		log.Error("cannot start job", "error", err)
		return
	}
	if err := r.Jobs.TransitionJob(ctx, job, domain.JobStatePending); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			log.Info("job left PENDING before start", "error", err)
			return
		}
		log.Error("failed to save job status", "error", err)
		if ctx.Err() == nil {
			r.abandon(ctx, log, pending, err)
		}
		return
	}
	r.Emitter.Status(job)
	log.Info("executing job")

	out, err := r.run(ctx, job)
	if err != nil && ctx.Err() != nil {
		// A user abort has already written CANCELLED. Anything else is a
		// shutdown, and Recover fails the still-STARTED record on restart.
		log.Warn("job interrupted", "error", err, "progress", out.result)
		return
	}
	r.finish(ctx, log, job, out, err)
}

// abandon records a job that could not be marked STARTED as CANCELLED, so it
// does not sit in PENDING with nothing queued to run it.
func (r *JobRunner) abandon(ctx context.Context, log *slog.Logger, job domain.JobRecord, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := job.Transition(domain.JobStateCancelled, r.now().UTC()); err != nil {
		return
	}
	job.Result = "not started: " + cause.Error()
	if err := r.Jobs.TransitionJob(ctx, job, domain.JobStatePending); err != nil {
		log.Error("failed to record unstarted job", "error", err)
		return
	}
	r.Emitter.Status(job)
}

// run resolves the owner and dispatches. Panics end up as errors here so a
// broken executor never takes the worker down.
func (r *JobRunner) run(ctx context.Context, job domain.JobRecord) (out outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.Logger.Error("job panicked", "job_id", job.ID, "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", errJobPanicked, p)
		}
	}()

	owner, err := r.Owners.GetOwner(ctx, job.OwnerID)
	if err != nil {
		return out, err
	}
	if !r.Limits.FeatureEnabled(owner, job.Action) {
		return out, fmt.Errorf("%w: %s", domain.ErrFeatureDisabled, job.Action)
	}
	client, err := r.Clients.ForOwner(owner)
	if err != nil {
		return out, err
	}
	ex := &Execution{
		JobID:  job.ID,
		Owner:  owner,
		Client: client,
		Pacer:  r.NewPacer(owner),
	}

	if job.Action == domain.ActionRunScenario {
		if job.ScenarioID == nil {
			return out, fmt.Errorf("%w: job has no scenario", domain.ErrInvalidParams)
		}
		summary, err := r.Scenarios.Run(ctx, ex, *job.ScenarioID)
		return outcome{result: summary.Message(), partial: summary.Partial()}, err
	}

	summary, err := r.Registry.Execute(ctx, ex, job.Action, job.Params)
	return outcome{result: summary.Message(), partial: summary.Partial}, err
}

func (r *JobRunner) finish(ctx context.Context, log *slog.Logger, job domain.JobRecord, out outcome, runErr error) {
	// The run context may already be cancelled; terminal bookkeeping must still land.
	ctx = context.WithoutCancel(ctx)

	next := domain.JobStateSuccess
	job.Result = out.result
	job.Partial = out.partial
	if runErr != nil {
		next = domain.JobStateFailure
		job.Partial = false
		job.Result = joinResult(out.result, failureMessage(runErr))
		log.Error("job failed", "error", runErr)
		if domain.IsAPIError(runErr, domain.APIErrorAuth) {
			r.revokeAutomations(ctx, log, job.OwnerID, runErr)
		}
	} else if out.partial {
		log.Warn("job finished partially", "result", out.result)
	}

	if err := job.Transition(next, r.now().UTC()); err != nil {
		log.Error("cannot finish job", "error", err)
		return
	}
	if err := r.Jobs.TransitionJob(ctx, job, domain.JobStateStarted); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			log.Info("job reached terminal state elsewhere", "error", err)
			return
		}
		log.Error("failed to save job status", "error", err)
		return
	}
	r.Emitter.Status(job)
	log.Info("job finished", "state", job.State)
}

// revokeAutomations reacts to a credential failure: every scenario of the
// owner is deactivated and the owner is told.
func (r *JobRunner) revokeAutomations(ctx context.Context, log *slog.Logger, owner domain.OwnerID, cause error) {
	n, err := r.Automations.DeactivateOwner(ctx, owner)
	if err != nil {
		log.Error("failed to deactivate automations", "error", err)
	}
	msg := fmt.Sprintf("The platform rejected the account credentials (%v). %d automations were switched off; reconnect the account to resume.", cause, n)
	if err := r.Emitter.Critical(ctx, owner, "Authorization failed", msg); err != nil {
		log.Error("failed to notify owner", "error", err)
	}
}

func failureMessage(err error) string {
	var apiErr *domain.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Kind == domain.APIErrorAuth:
		return "authorization failed: " + apiErr.Message
	case errors.As(err, &apiErr) && apiErr.Kind == domain.APIErrorCaptcha:
		return "captcha required: " + apiErr.Message
	case errors.Is(err, errJobPanicked):
		return "internal error"
	default:
		return err.Error()
	}
}

func joinResult(progress, reason string) string {
	if progress == "" {
		return reason
	}
	return reason + " (" + progress + ")"
}
