package duckdb

import (
	"context"
	"database/sql"
	"errors"

	"github.com/manthysbr/socialpilot/internal/core/domain"
)

func (r *Repository) GetQuotaUsage(ctx context.Context, owner domain.OwnerID, date string, action domain.ActionKind) (int, error) {
	var used int
	err := r.db.QueryRowContext(ctx,
		`SELECT used FROM quotas WHERE owner_id = ? AND day = ? AND action = ?`,
		string(owner), date, string(action),
	).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return used, err
}

// IncrementQuota adds n to the counter, creating the row on first use.
func (r *Repository) IncrementQuota(ctx context.Context, owner domain.OwnerID, date string, action domain.ActionKind, n int) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO quotas (owner_id, day, action, used) VALUES (?, ?, ?, ?)
	ON CONFLICT (owner_id, day, action) DO UPDATE SET used = used + excluded.used`,
		string(owner), date, string(action), n,
	)
	return err
}

func (r *Repository) HasDedupe(ctx context.Context, owner domain.OwnerID, target, period string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM dedupe WHERE owner_id = ? AND target_id = ? AND period = ?`,
		string(owner), target, period,
	).Scan(&n)
	return n > 0, err
}

func (r *Repository) SaveDedupe(ctx context.Context, rec domain.DedupeRecord) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
	INSERT INTO dedupe (owner_id, target_id, period, created_at) VALUES (?, ?, ?, ?)
	ON CONFLICT DO NOTHING`,
		string(rec.OwnerID), rec.TargetID, rec.Period, rec.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
