package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/manthysbr/socialpilot/internal/core/domain"
)

// PlatformClient abstracts the third-party social platform API.
// One instance is built per job execution from the owner's credentials.
type PlatformClient interface {
	// Call performs one method call. Upstream failures are *domain.APIError.
	Call(ctx context.Context, method string, params domain.Params) (json.RawMessage, error)

	// Batch performs 1..domain.MaxBatchSize calls in one round-trip and returns
	// positionally aligned results.
	Batch(ctx context.Context, calls []domain.APICall) ([]domain.APIResult, error)
}

// ClientFactory builds a PlatformClient for one owner.
type ClientFactory interface {
	ForOwner(owner domain.Owner) (PlatformClient, error)
}

// JobStore persists job records.
type JobStore interface {
	SaveJob(ctx context.Context, job domain.JobRecord) error
	// TransitionJob writes job's state, result and timestamps only if the
	// stored state is still from. A lost race returns ErrInvalidTransition.
	TransitionJob(ctx context.Context, job domain.JobRecord, from domain.JobState) error
	GetJob(ctx context.Context, id domain.JobID) (domain.JobRecord, error)
	ListJobs(ctx context.Context, owner domain.OwnerID, limit int) ([]domain.JobRecord, error)
	ListJobsByState(ctx context.Context, state domain.JobState) ([]domain.JobRecord, error)
}

// ScenarioStore persists scenario definitions and their step arenas.
type ScenarioStore interface {
	SaveScenario(ctx context.Context, sc *domain.Scenario) error
	GetScenario(ctx context.Context, id domain.ScenarioID) (*domain.Scenario, error)
	ListScenarios(ctx context.Context, owner domain.OwnerID) ([]domain.Scenario, error)
	ListActiveScenarios(ctx context.Context) ([]domain.Scenario, error)
	DeleteScenario(ctx context.Context, id domain.ScenarioID) error
	RecordScenarioRun(ctx context.Context, id domain.ScenarioID, at time.Time) error
	// DeactivateOwnerScenarios clears the active flag on every scenario of owner.
	DeactivateOwnerScenarios(ctx context.Context, owner domain.OwnerID) (int, error)
}

// QuotaStore keeps date-keyed daily counters.
type QuotaStore interface {
	GetQuotaUsage(ctx context.Context, owner domain.OwnerID, date string, action domain.ActionKind) (int, error)
	IncrementQuota(ctx context.Context, owner domain.OwnerID, date string, action domain.ActionKind, n int) error
}

// DedupeStore records one-time side effects.
type DedupeStore interface {
	HasDedupe(ctx context.Context, owner domain.OwnerID, target, period string) (bool, error)
	// SaveDedupe inserts the record if absent and reports whether it was inserted.
	SaveDedupe(ctx context.Context, rec domain.DedupeRecord) (bool, error)
}

// ClaimStore is the atomic set-if-absent primitive with expiry.
type ClaimStore interface {
	// AcquireClaim returns false when the key is already held.
	AcquireClaim(ctx context.Context, owner domain.OwnerID, target string, ttl time.Duration) (bool, error)
	ReleaseClaim(ctx context.Context, owner domain.OwnerID, target string) error
}

// NotificationStore persists critical owner notifications.
type NotificationStore interface {
	SaveNotification(ctx context.Context, n domain.Notification) error
	ListNotifications(ctx context.Context, owner domain.OwnerID, limit int) ([]domain.Notification, error)
}

// OwnerDirectory resolves owners with decrypted credentials.
type OwnerDirectory interface {
	GetOwner(ctx context.Context, id domain.OwnerID) (domain.Owner, error)
}

// LimitProvider answers per-owner daily limits and plan feature flags.
type LimitProvider interface {
	DailyLimit(owner domain.Owner, action domain.ActionKind) int
	FeatureEnabled(owner domain.Owner, action domain.ActionKind) bool
}

// Repository is the full persistent storage surface (DuckDB).
type Repository interface {
	JobStore
	ScenarioStore
	QuotaStore
	DedupeStore
	NotificationStore

	SaveOwner(ctx context.Context, owner domain.Owner) error
	GetOwnerRecord(ctx context.Context, id domain.OwnerID) (domain.Owner, error)

	GetSetting(ctx context.Context, key string) (string, error)
	SaveSetting(ctx context.Context, key string, value string) error
}
