package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/manthysbr/socialpilot/internal/core/domain"
)

const jobColumns = `id, owner_id, action, scenario_id, state, params, result, partial, correlation_id, run_at, created_at, started_at, finished_at`

func (r *Repository) SaveJob(ctx context.Context, job domain.JobRecord) error {
	paramsJSON, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	var scenarioID *string
	if job.ScenarioID != nil {
		s := string(*job.ScenarioID)
		scenarioID = &s
	}

	query := `
	INSERT INTO jobs (` + jobColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		state = excluded.state,
		params = excluded.params,
		result = excluded.result,
		partial = excluded.partial,
		correlation_id = excluded.correlation_id,
		run_at = excluded.run_at,
		started_at = excluded.started_at,
		finished_at = excluded.finished_at;
	`
	_, err = r.db.ExecContext(ctx, query,
		string(job.ID), string(job.OwnerID), string(job.Action), scenarioID,
		string(job.State), string(paramsJSON), job.Result, job.Partial, job.CorrelationID,
		job.RunAt, job.CreatedAt, job.StartedAt, job.FinishedAt,
	)
	return err
}

// TransitionJob is a compare-and-set on the state column, so a write based on
// a stale read never replaces a state another writer already moved on.
func (r *Repository) TransitionJob(ctx context.Context, job domain.JobRecord, from domain.JobState) error {
	res, err := r.db.ExecContext(ctx, `
	UPDATE jobs SET state = ?, result = ?, partial = ?, started_at = ?, finished_at = ?
	WHERE id = ? AND state = ?`,
		string(job.State), job.Result, job.Partial, job.StartedAt, job.FinishedAt,
		string(job.ID), string(from),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	current, err := r.GetJob(ctx, job.ID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s, not %s", domain.ErrInvalidTransition, job.ID, current.State, from)
}

func (r *Repository) GetJob(ctx context.Context, id domain.JobID) (domain.JobRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, string(id))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.JobRecord{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	return job, err
}

// ListJobs returns the newest jobs first. An empty owner lists every owner's jobs.
func (r *Repository) ListJobs(ctx context.Context, owner domain.OwnerID, limit int) ([]domain.JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE (? = '' OR owner_id = ?) ORDER BY created_at DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, string(owner), string(owner), limit)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

func (r *Repository) ListJobsByState(ctx context.Context, state domain.JobState) ([]domain.JobRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE state = ? ORDER BY created_at ASC`, string(state))
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.JobRecord, error) {
	var (
		job                            domain.JobRecord
		id, owner, action, state, body string
		scenarioID                     *string
	)
	err := row.Scan(
		&id, &owner, &action, &scenarioID, &state, &body,
		&job.Result, &job.Partial, &job.CorrelationID,
		&job.RunAt, &job.CreatedAt, &job.StartedAt, &job.FinishedAt,
	)
	if err != nil {
		return domain.JobRecord{}, err
	}

	job.ID = domain.JobID(id)
	job.OwnerID = domain.OwnerID(owner)
	job.Action = domain.ActionKind(action)
	job.State = domain.JobState(state)
	if scenarioID != nil {
		sid := domain.ScenarioID(*scenarioID)
		job.ScenarioID = &sid
	}
	if err := json.Unmarshal([]byte(body), &job.Params); err != nil {
		return domain.JobRecord{}, fmt.Errorf("failed to unmarshal params of job %s: %w", id, err)
	}
	return job, nil
}

func collectJobs(rows *sql.Rows) ([]domain.JobRecord, error) {
	defer rows.Close()

	var jobs []domain.JobRecord
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
