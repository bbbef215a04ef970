package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/manthysbr/socialpilot/internal/core/ports"
)

// Repository is the DuckDB-backed store for everything except claims.
type Repository struct {
	db *sql.DB
}

// Ensure Repository implements Repository interface
var _ ports.Repository = (*Repository)(nil)

// NewRepository opens (or creates) the database at path. An empty path opens
// an in-memory database.
func NewRepository(path string) (*Repository, error) {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	r := &Repository{db: db}
	if err := r.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id             VARCHAR PRIMARY KEY,
	owner_id       VARCHAR NOT NULL,
	action         VARCHAR NOT NULL,
	scenario_id    VARCHAR,
	state          VARCHAR NOT NULL,
	params         VARCHAR NOT NULL,
	result         VARCHAR NOT NULL DEFAULT '',
	partial        BOOLEAN NOT NULL DEFAULT false,
	correlation_id VARCHAR NOT NULL DEFAULT '',
	run_at         TIMESTAMP,
	created_at     TIMESTAMP NOT NULL,
	started_at     TIMESTAMP,
	finished_at    TIMESTAMP
);

CREATE TABLE IF NOT EXISTS scenarios (
	id            VARCHAR PRIMARY KEY,
	owner_id      VARCHAR NOT NULL,
	name          VARCHAR NOT NULL,
	schedule      VARCHAR NOT NULL DEFAULT '',
	active        BOOLEAN NOT NULL DEFAULT false,
	entry_step_id VARCHAR NOT NULL DEFAULT '',
	steps         VARCHAR NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL,
	last_run_at   TIMESTAMP
);

CREATE TABLE IF NOT EXISTS quotas (
	owner_id VARCHAR NOT NULL,
	day      VARCHAR NOT NULL,
	action   VARCHAR NOT NULL,
	used     INTEGER NOT NULL,
	PRIMARY KEY (owner_id, day, action)
);

CREATE TABLE IF NOT EXISTS dedupe (
	owner_id   VARCHAR NOT NULL,
	target_id  VARCHAR NOT NULL,
	period     VARCHAR NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (owner_id, target_id, period)
);

CREATE TABLE IF NOT EXISTS notifications (
	id         VARCHAR PRIMARY KEY,
	owner_id   VARCHAR NOT NULL,
	severity   VARCHAR NOT NULL,
	title      VARCHAR NOT NULL,
	message    VARCHAR NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS owners (
	id              VARCHAR PRIMARY KEY,
	access_token    VARCHAR NOT NULL DEFAULT '',
	proxy_url       VARCHAR NOT NULL DEFAULT '',
	plan            VARCHAR NOT NULL DEFAULT '',
	timezone        VARCHAR NOT NULL DEFAULT '',
	profile         VARCHAR NOT NULL DEFAULT '',
	limit_overrides VARCHAR NOT NULL DEFAULT '{}',
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key   VARCHAR PRIMARY KEY,
	value VARCHAR NOT NULL
);
`

func (r *Repository) ensureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// ErrSettingNotFound is returned by GetSetting for a missing key.
var ErrSettingNotFound = errors.New("setting not found")

func (r *Repository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrSettingNotFound, key)
	}
	return value, err
}

func (r *Repository) SaveSetting(ctx context.Context, key string, value string) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO settings (key, value) VALUES (?, ?)
	ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}
