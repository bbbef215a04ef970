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

// EnqueueRequest is one submission to the job queue.
type EnqueueRequest struct {
	Action     domain.ActionKind
	OwnerID    domain.OwnerID
	Params     domain.Params
	ScenarioID *domain.ScenarioID
	RunAt      *time.Time
}

// JobService is the ingress for job records: enqueue, abort and startup recovery.
type JobService struct {
	logger   *slog.Logger
	jobs     ports.JobStore
	queue    *JobQueue
	registry *ActionRegistry
	emitter  *Emitter
	now      func() time.Time
}

func NewJobService(logger *slog.Logger, jobs ports.JobStore, queue *JobQueue, registry *ActionRegistry, emitter *Emitter) *JobService {
	s := &JobService{
		logger:   logger,
		jobs:     jobs,
		queue:    queue,
		registry: registry,
		emitter:  emitter,
		now:      time.Now,
	}
	queue.OnDropped(s.dropped)
	return s
}

func (s *JobService) validate(req *EnqueueRequest) error {
	if req.OwnerID == "" {
		return fmt.Errorf("%w: owner is required", domain.ErrInvalidParams)
	}
	if req.Action == domain.ActionRunScenario {
		if req.ScenarioID == nil {
			if id, ok := req.Params["scenario_id"].(string); ok && id != "" {
				sid := domain.ScenarioID(id)
				req.ScenarioID = &sid
			}
		}
		if req.ScenarioID == nil || *req.ScenarioID == "" {
			return fmt.Errorf("%w: run_scenario needs a scenario_id", domain.ErrInvalidParams)
		}
		return nil
	}
	return s.registry.Validate(req.Action, req.Params)
}

// Enqueue persists a PENDING record and hands it to the queue. The record is
// written with its correlation id before any worker can see it.
func (s *JobService) Enqueue(ctx context.Context, req EnqueueRequest) (domain.JobRecord, error) {
	if err := s.validate(&req); err != nil {
		return domain.JobRecord{}, err
	}

	params := req.Params
	if params == nil {
		params = domain.Params{}
	}
	if req.ScenarioID != nil {
		params["scenario_id"] = string(*req.ScenarioID)
	}

	job := domain.JobRecord{
		ID:            domain.JobID(uuid.NewString()),
		OwnerID:       req.OwnerID,
		Action:        req.Action,
		ScenarioID:    req.ScenarioID,
		State:         domain.JobStatePending,
		Params:        params,
		CorrelationID: uuid.NewString(),
		RunAt:         req.RunAt,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.jobs.SaveJob(ctx, job); err != nil {
		return domain.JobRecord{}, fmt.Errorf("failed to save job: %w", err)
	}

	if _, err := s.queue.Submit(QueueItem{JobID: job.ID, CorrelationID: job.CorrelationID, RunAt: job.RunAt}); err != nil {
		s.logger.Error("failed to queue job", "job_id", job.ID, "error", err)
		return s.cancelUnqueued(ctx, job, err), err
	}

	s.logger.Info("job enqueued", "job_id", job.ID, "owner_id", job.OwnerID, "action", job.Action)
	return job, nil
}

// cancelUnqueued records that the queue refused job. It returns the record as
// stored afterwards.
func (s *JobService) cancelUnqueued(ctx context.Context, job domain.JobRecord, cause error) domain.JobRecord {
	from := job.State
	if err := job.Transition(domain.JobStateCancelled, s.now().UTC()); err != nil {
		return job
	}
	job.Result = "not queued: " + cause.Error()
	if err := s.jobs.TransitionJob(ctx, job, from); err != nil {
		s.logger.Error("failed to save unqueued job", "job_id", job.ID, "error", err)
		if current, gerr := s.jobs.GetJob(ctx, job.ID); gerr == nil {
			return current
		}
		return job
	}
	s.emitter.Status(job)
	return job
}

// dropped handles a deferred job that came due while the queue was full.
func (s *JobService) dropped(item QueueItem, cause error) {
	ctx := context.Background()
	job, err := s.jobs.GetJob(ctx, item.JobID)
	if err != nil {
		s.logger.Error("failed to load dropped job", "job_id", item.JobID, "error", err)
		return
	}
	if job.State != domain.JobStatePending {
		return
	}
	s.cancelUnqueued(ctx, job, cause)
}

// Abort cancels a pending or running job. A unit already in flight may still
// complete; the record is CANCELLED either way.
func (s *JobService) Abort(ctx context.Context, id domain.JobID) (domain.JobRecord, error) {
	job, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return domain.JobRecord{}, err
	}
	from := job.State
	if err := job.Transition(domain.JobStateCancelled, s.now().UTC()); err != nil {
		return job, err
	}
	job.Result = "cancelled by request"
	if err := s.jobs.TransitionJob(ctx, job, from); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// The runner finished first.
			if current, gerr := s.jobs.GetJob(ctx, id); gerr == nil {
				return current, err
			}
		}
		return job, fmt.Errorf("failed to save job: %w", err)
	}
	s.emitter.Status(job)

	if !s.queue.Abort(job.CorrelationID) {
		s.logger.Warn("abort: job not in queue", "job_id", job.ID)
	}
	s.logger.Info("job aborted", "job_id", job.ID)
	return job, nil
}

func (s *JobService) Get(ctx context.Context, id domain.JobID) (domain.JobRecord, error) {
	return s.jobs.GetJob(ctx, id)
}

func (s *JobService) List(ctx context.Context, owner domain.OwnerID, limit int) ([]domain.JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.jobs.ListJobs(ctx, owner, limit)
}

// Recover runs once at startup: jobs left STARTED by a previous process are
// failed as interrupted, PENDING jobs are queued again with their run-at.
func (s *JobService) Recover(ctx context.Context) error {
	started, err := s.jobs.ListJobsByState(ctx, domain.JobStateStarted)
	if err != nil {
		return fmt.Errorf("failed to list started jobs: %w", err)
	}
	for _, job := range started {
		if err := job.Transition(domain.JobStateFailure, s.now().UTC()); err != nil {
			continue
		}
		job.Result = "interrupted by kernel restart"
		if err := s.jobs.TransitionJob(ctx, job, domain.JobStateStarted); err != nil {
			s.logger.Error("failed to fail interrupted job", "job_id", job.ID, "error", err)
			continue
		}
		s.emitter.Status(job)
	}

	pending, err := s.jobs.ListJobsByState(ctx, domain.JobStatePending)
	if err != nil {
		return fmt.Errorf("failed to list pending jobs: %w", err)
	}
	var errs []error
	for _, job := range pending {
		if job.CorrelationID == "" {
			job.CorrelationID = uuid.NewString()
			if err := s.jobs.SaveJob(ctx, job); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		if _, err := s.queue.Submit(QueueItem{JobID: job.ID, CorrelationID: job.CorrelationID, RunAt: job.RunAt}); err != nil {
			errs = append(errs, fmt.Errorf("requeue %s: %w", job.ID, err))
		}
	}

	s.logger.Info("job recovery finished", "interrupted", len(started), "requeued", len(pending)-len(errs))
	return errors.Join(errs...)
}
