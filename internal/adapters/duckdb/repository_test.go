package duckdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/manthysbr/socialpilot/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "pilot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepository_Jobs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	sid := domain.ScenarioID("sc-1")
	job := domain.JobRecord{
		ID:            "job-1",
		OwnerID:       "owner-1",
		Action:        domain.ActionRunScenario,
		ScenarioID:    &sid,
		State:         domain.JobStatePending,
		Params:        domain.Params{"scenario_id": "sc-1"},
		CorrelationID: "corr-1",
		CreatedAt:     now,
	}
	require.NoError(t, repo.SaveJob(ctx, job))

	fetched, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, fetched.ID)
	assert.Equal(t, domain.JobStatePending, fetched.State)
	require.NotNil(t, fetched.ScenarioID)
	assert.Equal(t, sid, *fetched.ScenarioID)
	assert.Equal(t, "sc-1", fetched.Params["scenario_id"])
	assert.Nil(t, fetched.StartedAt)

	require.NoError(t, job.Transition(domain.JobStateStarted, now))
	require.NoError(t, job.Transition(domain.JobStateSuccess, now.Add(time.Minute)))
	job.Result = "done"
	job.Partial = true
	require.NoError(t, repo.SaveJob(ctx, job))

	fetched, err = repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateSuccess, fetched.State)
	assert.True(t, fetched.Partial)
	assert.Equal(t, "done", fetched.Result)
	require.NotNil(t, fetched.FinishedAt)
	assert.True(t, fetched.FinishedAt.Equal(now.Add(time.Minute)))

	_, err = repo.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestRepository_TransitionJobComparesState(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	job := domain.JobRecord{ID: "job-1", OwnerID: "owner-1", Action: domain.ActionLikePosts, State: domain.JobStatePending, CreatedAt: now}
	require.NoError(t, repo.SaveJob(ctx, job))

	started := job
	require.NoError(t, started.Transition(domain.JobStateStarted, now))
	require.NoError(t, repo.TransitionJob(ctx, started, domain.JobStatePending))

	aborted := started
	require.NoError(t, aborted.Transition(domain.JobStateCancelled, now.Add(time.Second)))
	aborted.Result = "cancelled by request"
	require.NoError(t, repo.TransitionJob(ctx, aborted, domain.JobStateStarted))

	// A runner that read STARTED before the abort must not overwrite it.
	finished := started
	require.NoError(t, finished.Transition(domain.JobStateSuccess, now.Add(2*time.Second)))
	finished.Result = "like_posts: 1 of 1 done"
	err := repo.TransitionJob(ctx, finished, domain.JobStateStarted)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	fetched, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCancelled, fetched.State)
	assert.Equal(t, "cancelled by request", fetched.Result)
	require.NotNil(t, fetched.StartedAt)
	assert.True(t, fetched.StartedAt.Equal(now))

	err = repo.TransitionJob(ctx, domain.JobRecord{ID: "missing", State: domain.JobStateStarted}, domain.JobStatePending)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestRepository_ListJobs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i, owner := range []domain.OwnerID{"a", "a", "b"} {
		state := domain.JobStatePending
		if i == 1 {
			state = domain.JobStateStarted
		}
		require.NoError(t, repo.SaveJob(ctx, domain.JobRecord{
			ID:        domain.JobID([]string{"j1", "j2", "j3"}[i]),
			OwnerID:   owner,
			Action:    domain.ActionLikePosts,
			State:     state,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	jobs, err := repo.ListJobs(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, domain.JobID("j2"), jobs[0].ID, "newest first")

	all, err := repo.ListJobs(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := repo.ListJobsByState(ctx, domain.JobStatePending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, domain.JobID("j1"), pending[0].ID)
}

func TestRepository_Scenarios(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	next := domain.StepID("like")

	sc := &domain.Scenario{
		ID:          "sc-1",
		OwnerID:     "owner-1",
		Name:        "morning",
		Schedule:    "0 9 * * *",
		Active:      true,
		EntryStepID: "check",
		Steps: map[domain.StepID]domain.ScenarioStep{
			"check": {ID: "check", Kind: domain.StepKindCondition, Condition: &domain.ConditionStep{
				Predicate: domain.Predicate{Metric: "friends_count", Comparator: domain.CompareGT, Value: 100},
				OnSuccess: &next,
			}},
			"like": {ID: "like", Kind: domain.StepKindAction, Action: &domain.ActionStep{
				Action: domain.ActionLikePosts, Params: domain.Params{"count": float64(10)},
			}},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, repo.SaveScenario(ctx, sc))

	got, err := repo.GetScenario(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, sc.Steps, got.Steps)
	assert.True(t, got.Active)
	assert.Nil(t, got.LastRunAt)

	require.NoError(t, repo.RecordScenarioRun(ctx, sc.ID, now))
	got, err = repo.GetScenario(ctx, sc.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	assert.True(t, got.LastRunAt.Equal(now))

	active, err := repo.ListActiveScenarios(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	n, err := repo.DeactivateOwnerScenarios(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	active, err = repo.ListActiveScenarios(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, repo.DeleteScenario(ctx, sc.ID))
	_, err = repo.GetScenario(ctx, sc.ID)
	assert.ErrorIs(t, err, domain.ErrScenarioNotFound)
	assert.ErrorIs(t, repo.DeleteScenario(ctx, sc.ID), domain.ErrScenarioNotFound)
}

func TestRepository_Quota(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	used, err := repo.GetQuotaUsage(ctx, "o", "2026-03-01", domain.ActionAddFriends)
	require.NoError(t, err)
	assert.Zero(t, used)

	require.NoError(t, repo.IncrementQuota(ctx, "o", "2026-03-01", domain.ActionAddFriends, 1))
	require.NoError(t, repo.IncrementQuota(ctx, "o", "2026-03-01", domain.ActionAddFriends, 3))
	require.NoError(t, repo.IncrementQuota(ctx, "o", "2026-03-02", domain.ActionAddFriends, 1))

	used, err = repo.GetQuotaUsage(ctx, "o", "2026-03-01", domain.ActionAddFriends)
	require.NoError(t, err)
	assert.Equal(t, 4, used)
}

func TestRepository_DedupeIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	rec := domain.DedupeRecord{OwnerID: "o", TargetID: "42", Period: "2026", CreatedAt: time.Now().UTC()}

	inserted, err := repo.SaveDedupe(ctx, rec)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.SaveDedupe(ctx, rec)
	require.NoError(t, err)
	assert.False(t, inserted)

	has, err := repo.HasDedupe(ctx, "o", "42", "2026")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = repo.HasDedupe(ctx, "o", "42", "2027")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestRepository_OwnersAndNotifications(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	owner := domain.Owner{
		ID:             "owner-1",
		AccessToken:    "ciphertext",
		Plan:           "pro",
		Timezone:       "Europe/Moscow",
		Profile:        domain.SpeedSlow,
		LimitOverrides: map[domain.ActionKind]int{domain.ActionLikePosts: 10},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, repo.SaveOwner(ctx, owner))

	got, err := repo.GetOwnerRecord(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "ciphertext", got.AccessToken)
	assert.Equal(t, domain.SpeedSlow, got.Profile)
	assert.Equal(t, 10, got.LimitOverrides[domain.ActionLikePosts])

	_, err = repo.GetOwnerRecord(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrOwnerNotFound)

	for i, title := range []string{"first", "second"} {
		require.NoError(t, repo.SaveNotification(ctx, domain.Notification{
			ID:        title,
			OwnerID:   owner.ID,
			Severity:  domain.SeverityCritical,
			Title:     title,
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}
	notes, err := repo.ListNotifications(ctx, owner.ID, 10)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "second", notes[0].Title)
}

func TestRepository_Settings(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.GetSetting(ctx, "app_config")
	assert.ErrorIs(t, err, ErrSettingNotFound)

	require.NoError(t, repo.SaveSetting(ctx, "app_config", `{"a":1}`))
	require.NoError(t, repo.SaveSetting(ctx, "app_config", `{"a":2}`))

	v, err := repo.GetSetting(ctx, "app_config")
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, v)
}
