package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/manthysbr/socialpilot/internal/core/domain"
)

// unitOptions tune the shared unit loop.
type unitOptions struct {
	claim        bool   // hold an owner+target claim before acting
	dedupePeriod string // non-empty enables one-time-per-period side effects
}

func claimTarget(kind domain.ActionKind, targetID string) string {
	return string(kind) + ":" + targetID
}

func quotaExhausted(kind domain.ActionKind) error {
	return fmt.Errorf("%w: no %s left for today", domain.ErrQuotaExceeded, kind)
}

// admit decides whether a target may be acted upon now. It returns false for
// targets that were already handled or are held by an overlapping run.
func (x *executors) admit(ctx context.Context, ex *Execution, kind domain.ActionKind, t domain.Target, opts unitOptions) (bool, error) {
	if opts.dedupePeriod != "" {
		done, err := x.Dedupe.HasDedupe(ctx, ex.Owner.ID, t.ID, opts.dedupePeriod)
		if err != nil {
			return false, fmt.Errorf("dedupe lookup: %w", err)
		}
		if done {
			return false, nil
		}
	}
	if opts.claim {
		ok, err := x.Claims.AcquireClaim(ctx, ex.Owner.ID, claimTarget(kind, t.ID), x.ClaimTTL)
		if err != nil {
			return false, fmt.Errorf("claim %s: %w", t.ID, err)
		}
		if !ok {
			x.Emitter.Progress(ex.Owner.ID, ex.JobID, domain.SeverityInfo, t.ID, "already handled by another run")
			return false, nil
		}
	}
	return true, nil
}

// succeeded books one finished unit.
func (x *executors) succeeded(ctx context.Context, ex *Execution, kind domain.ActionKind, t domain.Target, opts unitOptions) error {
	if err := x.Quota.Consume(ctx, ex.Owner, kind, 1); err != nil {
		return err
	}
	if opts.dedupePeriod != "" {
		_, err := x.Dedupe.SaveDedupe(ctx, domain.DedupeRecord{
			OwnerID:   ex.Owner.ID,
			TargetID:  t.ID,
			Period:    opts.dedupePeriod,
			CreatedAt: x.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("dedupe write: %w", err)
		}
	}
	label := t.Name
	if label == "" {
		label = t.ID
	}
	x.Emitter.Progress(ex.Owner.ID, ex.JobID, domain.SeverityInfo, t.ID, fmt.Sprintf("%s: done for %s", kind, label))
	x.Emitter.Stat(ex.Owner.ID, string(kind), 1)
	return nil
}

func (x *executors) denied(ex *Execution, t domain.Target, err error) {
	x.Logger.Info("target unreachable", "job_id", ex.JobID, "target", t.ID, "error", err)
	x.Emitter.Progress(ex.Owner.ID, ex.JobID, domain.SeverityWarning, t.ID, err.Error())
}

// runUnits acts on targets one at a time, in order. Quota is re-read before
// every unit; AccessDenied skips the target, any other error stops the loop.
func (x *executors) runUnits(
	ctx context.Context,
	ex *Execution,
	kind domain.ActionKind,
	requested int,
	targets []domain.Target,
	opts unitOptions,
	do func(context.Context, domain.Target) error,
) (domain.ActionSummary, error) {
	summary := domain.ActionSummary{Action: kind, Requested: requested}

	remaining, err := x.Quota.Remaining(ctx, ex.Owner, kind)
	if err != nil {
		return summary, err
	}
	if remaining <= 0 {
		return summary, quotaExhausted(kind)
	}

	for i, t := range targets {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if i > 0 {
			if remaining, err = x.Quota.Remaining(ctx, ex.Owner, kind); err != nil {
				return summary, err
			}
		}
		if remaining <= 0 {
			summary.Partial = true
			summary.Reason = "daily limit reached"
			break
		}

		ok, err := x.admit(ctx, ex, kind, t, opts)
		if err != nil {
			return summary, err
		}
		if !ok {
			summary.Skipped++
			continue
		}

		if err := ex.Pacer.DelayBeforeAction(ctx, kind); err != nil {
			return summary, err
		}
		if err := do(ctx, t); err != nil {
			if domain.IsAPIError(err, domain.APIErrorAccessDenied) {
				summary.Denied++
				x.denied(ex, t, err)
				continue
			}
			return summary, fmt.Errorf("%s on %s: %w", kind, t.ID, err)
		}
		if err := x.succeeded(ctx, ex, kind, t, opts); err != nil {
			return summary, err
		}
		summary.Succeeded++
	}
	return summary, nil
}

// runBatches acts on targets in chunks of at most domain.MaxBatchSize, never
// more than the remaining quota. One pacing delay covers one round-trip.
func (x *executors) runBatches(
	ctx context.Context,
	ex *Execution,
	kind domain.ActionKind,
	requested int,
	targets []domain.Target,
	opts unitOptions,
	build func(domain.Target) domain.APICall,
) (domain.ActionSummary, error) {
	summary := domain.ActionSummary{Action: kind, Requested: requested}

	remaining, err := x.Quota.Remaining(ctx, ex.Owner, kind)
	if err != nil {
		return summary, err
	}
	if remaining <= 0 {
		return summary, quotaExhausted(kind)
	}

	next := 0
	for next < len(targets) {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if next > 0 {
			if remaining, err = x.Quota.Remaining(ctx, ex.Owner, kind); err != nil {
				return summary, err
			}
		}
		if remaining <= 0 {
			summary.Partial = true
			summary.Reason = "daily limit reached"
			break
		}

		size := min(domain.MaxBatchSize, remaining)
		var chunk []domain.Target
		for next < len(targets) && len(chunk) < size {
			t := targets[next]
			next++
			ok, err := x.admit(ctx, ex, kind, t, opts)
			if err != nil {
				return summary, err
			}
			if !ok {
				summary.Skipped++
				continue
			}
			chunk = append(chunk, t)
		}
		if len(chunk) == 0 {
			continue
		}

		if err := ex.Pacer.DelayBeforeAction(ctx, kind); err != nil {
			return summary, err
		}
		calls := make([]domain.APICall, len(chunk))
		for i, t := range chunk {
			calls[i] = build(t)
		}
		results, err := ex.Client.Batch(ctx, calls)
		if err != nil {
			return summary, fmt.Errorf("%s batch: %w", kind, err)
		}

		// Every slot of the round-trip already happened upstream, so all
		// successes are booked before a hard failure is reported.
		var failed error
		for i, res := range results {
			t := chunk[i]
			if res.Err != nil {
				if domain.IsAPIError(res.Err, domain.APIErrorAccessDenied) {
					summary.Denied++
					x.denied(ex, t, res.Err)
				} else if failed == nil {
					failed = fmt.Errorf("%s on %s: %w", kind, t.ID, res.Err)
				}
				continue
			}
			if err := x.succeeded(ctx, ex, kind, t, opts); err != nil {
				return summary, err
			}
			summary.Succeeded++
		}
		if failed != nil {
			return summary, failed
		}
	}
	return summary, nil
}

// listResponse is the common {count, items} response shape.
type listResponse[T any] struct {
	Count int `json:"count"`
	Items []T `json:"items"`
}

func callList[T any](ctx context.Context, ex *Execution, method string, params domain.Params) (listResponse[T], error) {
	var out listResponse[T]
	raw, err := ex.Client.Call(ctx, method, params)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	return out, nil
}
