package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/manthysbr/socialpilot/internal/core/domain"
)

// SaveOwner upserts an owner row. AccessToken is stored as given; callers
// encrypt it first.
func (r *Repository) SaveOwner(ctx context.Context, owner domain.Owner) error {
	overrides := owner.LimitOverrides
	if overrides == nil {
		overrides = map[domain.ActionKind]int{}
	}
	overridesJSON, err := json.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("failed to marshal limit overrides: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
	INSERT INTO owners (id, access_token, proxy_url, plan, timezone, profile, limit_overrides, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		access_token = excluded.access_token,
		proxy_url = excluded.proxy_url,
		plan = excluded.plan,
		timezone = excluded.timezone,
		profile = excluded.profile,
		limit_overrides = excluded.limit_overrides,
		updated_at = excluded.updated_at;
	`,
		string(owner.ID), owner.AccessToken, owner.ProxyURL, owner.Plan, owner.Timezone,
		string(owner.Profile), string(overridesJSON), owner.CreatedAt, owner.UpdatedAt,
	)
	return err
}

// GetOwnerRecord returns the stored row with the credential still encrypted.
func (r *Repository) GetOwnerRecord(ctx context.Context, id domain.OwnerID) (domain.Owner, error) {
	var (
		o                domain.Owner
		ownerID, profile string
		overridesJSON    string
	)
	err := r.db.QueryRowContext(ctx, `
	SELECT id, access_token, proxy_url, plan, timezone, profile, limit_overrides, created_at, updated_at
	FROM owners WHERE id = ?`, string(id)).Scan(
		&ownerID, &o.AccessToken, &o.ProxyURL, &o.Plan, &o.Timezone, &profile, &overridesJSON, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Owner{}, fmt.Errorf("%w: %s", domain.ErrOwnerNotFound, id)
	}
	if err != nil {
		return domain.Owner{}, err
	}
	o.ID = domain.OwnerID(ownerID)
	o.Profile = domain.SpeedProfile(profile)
	if err := json.Unmarshal([]byte(overridesJSON), &o.LimitOverrides); err != nil {
		return domain.Owner{}, fmt.Errorf("failed to unmarshal limit overrides: %w", err)
	}
	return o, nil
}

func (r *Repository) SaveNotification(ctx context.Context, n domain.Notification) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO notifications (id, owner_id, severity, title, message, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, string(n.OwnerID), string(n.Severity), n.Title, n.Message, n.CreatedAt,
	)
	return err
}

// ListNotifications returns the owner's newest notifications first.
func (r *Repository) ListNotifications(ctx context.Context, owner domain.OwnerID, limit int) ([]domain.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, owner_id, severity, title, message, created_at
	FROM notifications WHERE owner_id = ? ORDER BY created_at DESC LIMIT ?`, string(owner), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var (
			n            domain.Notification
			ownerID, sev string
		)
		if err := rows.Scan(&n.ID, &ownerID, &sev, &n.Title, &n.Message, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.OwnerID = domain.OwnerID(ownerID)
		n.Severity = domain.Severity(sev)
		out = append(out, n)
	}
	return out, rows.Err()
}
