package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/manthysbr/socialpilot/internal/core/domain"
)

const scenarioColumns = `id, owner_id, name, schedule, active, entry_step_id, steps, created_at, updated_at, last_run_at`

// SaveScenario upserts a scenario. The step arena is stored as one JSON document.
func (r *Repository) SaveScenario(ctx context.Context, sc *domain.Scenario) error {
	stepsJSON, err := json.Marshal(sc.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	query := `
	INSERT INTO scenarios (` + scenarioColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		name = excluded.name,
		schedule = excluded.schedule,
		active = excluded.active,
		entry_step_id = excluded.entry_step_id,
		steps = excluded.steps,
		updated_at = excluded.updated_at,
		last_run_at = excluded.last_run_at;
	`
	_, err = r.db.ExecContext(ctx, query,
		string(sc.ID), string(sc.OwnerID), sc.Name, sc.Schedule, sc.Active,
		string(sc.EntryStepID), string(stepsJSON), sc.CreatedAt, sc.UpdatedAt, sc.LastRunAt,
	)
	return err
}

func (r *Repository) GetScenario(ctx context.Context, id domain.ScenarioID) (*domain.Scenario, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+scenarioColumns+` FROM scenarios WHERE id = ?`, string(id))
	sc, err := scanScenario(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrScenarioNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

func (r *Repository) ListScenarios(ctx context.Context, owner domain.OwnerID) ([]domain.Scenario, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+scenarioColumns+` FROM scenarios WHERE owner_id = ? ORDER BY created_at ASC`, string(owner))
	if err != nil {
		return nil, err
	}
	return collectScenarios(rows)
}

func (r *Repository) ListActiveScenarios(ctx context.Context) ([]domain.Scenario, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+scenarioColumns+` FROM scenarios WHERE active ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	return collectScenarios(rows)
}

func (r *Repository) DeleteScenario(ctx context.Context, id domain.ScenarioID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM scenarios WHERE id = ?`, string(id))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrScenarioNotFound, id)
	}
	return nil
}

// RecordScenarioRun stamps last_run_at without touching the definition.
func (r *Repository) RecordScenarioRun(ctx context.Context, id domain.ScenarioID, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE scenarios SET last_run_at = ? WHERE id = ?`, at, string(id))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrScenarioNotFound, id)
	}
	return nil
}

func (r *Repository) DeactivateOwnerScenarios(ctx context.Context, owner domain.OwnerID) (int, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE scenarios SET active = false WHERE owner_id = ? AND active`, string(owner))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func scanScenario(row rowScanner) (domain.Scenario, error) {
	var (
		sc                     domain.Scenario
		id, owner, entry, body string
	)
	err := row.Scan(&id, &owner, &sc.Name, &sc.Schedule, &sc.Active, &entry, &body, &sc.CreatedAt, &sc.UpdatedAt, &sc.LastRunAt)
	if err != nil {
		return domain.Scenario{}, err
	}
	sc.ID = domain.ScenarioID(id)
	sc.OwnerID = domain.OwnerID(owner)
	sc.EntryStepID = domain.StepID(entry)
	if err := json.Unmarshal([]byte(body), &sc.Steps); err != nil {
		return domain.Scenario{}, fmt.Errorf("failed to unmarshal steps of scenario %s: %w", id, err)
	}
	return sc, nil
}

func collectScenarios(rows *sql.Rows) ([]domain.Scenario, error) {
	defer rows.Close()

	var out []domain.Scenario
	for rows.Next() {
		sc, err := scanScenario(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}
