package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/manthysbr/socialpilot/internal/core/domain"
	"github.com/manthysbr/socialpilot/internal/core/ports"
)

// memStore is an in-memory implementation of every store port.
type memStore struct {
	mu        sync.Mutex
	jobs      map[domain.JobID]domain.JobRecord
	scenarios map[domain.ScenarioID]domain.Scenario
	quotas    map[string]int
	dedupe    map[string]bool
	claims    map[string]bool
	notes     []domain.Notification
	owners    map[domain.OwnerID]domain.Owner

	// beforeTransition runs ahead of every TransitionJob; an error fails the write.
	beforeTransition func(job domain.JobRecord, from domain.JobState) error
}

var (
	_ ports.JobStore          = (*memStore)(nil)
	_ ports.ScenarioStore     = (*memStore)(nil)
	_ ports.QuotaStore        = (*memStore)(nil)
	_ ports.DedupeStore       = (*memStore)(nil)
	_ ports.ClaimStore        = (*memStore)(nil)
	_ ports.NotificationStore = (*memStore)(nil)
	_ ports.OwnerDirectory    = (*memStore)(nil)
)

func newMemStore() *memStore {
	return &memStore{
		jobs:      map[domain.JobID]domain.JobRecord{},
		scenarios: map[domain.ScenarioID]domain.Scenario{},
		quotas:    map[string]int{},
		dedupe:    map[string]bool{},
		claims:    map[string]bool{},
		owners:    map[domain.OwnerID]domain.Owner{},
	}
}

func (m *memStore) SaveJob(_ context.Context, job domain.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *memStore) TransitionJob(_ context.Context, job domain.JobRecord, from domain.JobState) error {
	if hook := m.beforeTransition; hook != nil {
		if err := hook(job, from); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.jobs[job.ID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if current.State != from {
		return fmt.Errorf("%w: %s is %s, not %s", domain.ErrInvalidTransition, job.ID, current.State, from)
	}
	current.State = job.State
	current.Result = job.Result
	current.Partial = job.Partial
	current.StartedAt = job.StartedAt
	current.FinishedAt = job.FinishedAt
	m.jobs[job.ID] = current
	return nil
}

func (m *memStore) GetJob(_ context.Context, id domain.JobID) (domain.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.JobRecord{}, domain.ErrJobNotFound
	}
	return job, nil
}

func (m *memStore) ListJobs(_ context.Context, owner domain.OwnerID, limit int) ([]domain.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.JobRecord
	for _, j := range m.jobs {
		if owner == "" || j.OwnerID == owner {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListJobsByState(_ context.Context, state domain.JobState) ([]domain.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.JobRecord
	for _, j := range m.jobs {
		if j.State == state {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *memStore) SaveScenario(_ context.Context, sc *domain.Scenario) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scenarios[sc.ID] = *sc
	return nil
}

func (m *memStore) GetScenario(_ context.Context, id domain.ScenarioID) (*domain.Scenario, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.scenarios[id]
	if !ok {
		return nil, domain.ErrScenarioNotFound
	}
	return &sc, nil
}

func (m *memStore) ListScenarios(_ context.Context, owner domain.OwnerID) ([]domain.Scenario, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Scenario
	for _, sc := range m.scenarios {
		if sc.OwnerID == owner {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (m *memStore) ListActiveScenarios(_ context.Context) ([]domain.Scenario, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Scenario
	for _, sc := range m.scenarios {
		if sc.Active {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (m *memStore) DeleteScenario(_ context.Context, id domain.ScenarioID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scenarios[id]; !ok {
		return domain.ErrScenarioNotFound
	}
	delete(m.scenarios, id)
	return nil
}

func (m *memStore) RecordScenarioRun(_ context.Context, id domain.ScenarioID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.scenarios[id]
	if !ok {
		return domain.ErrScenarioNotFound
	}
	sc.LastRunAt = &at
	m.scenarios[id] = sc
	return nil
}

func (m *memStore) DeactivateOwnerScenarios(_ context.Context, owner domain.OwnerID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, sc := range m.scenarios {
		if sc.OwnerID == owner && sc.Active {
			sc.Active = false
			m.scenarios[id] = sc
			n++
		}
	}
	return n, nil
}

func quotaKey(owner domain.OwnerID, date string, action domain.ActionKind) string {
	return fmt.Sprintf("%s|%s|%s", owner, date, action)
}

func (m *memStore) GetQuotaUsage(_ context.Context, owner domain.OwnerID, date string, action domain.ActionKind) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quotas[quotaKey(owner, date, action)], nil
}

func (m *memStore) IncrementQuota(_ context.Context, owner domain.OwnerID, date string, action domain.ActionKind, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotas[quotaKey(owner, date, action)] += n
	return nil
}

func (m *memStore) HasDedupe(_ context.Context, owner domain.OwnerID, target, period string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dedupe[string(owner)+"|"+target+"|"+period], nil
}

func (m *memStore) SaveDedupe(_ context.Context, rec domain.DedupeRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(rec.OwnerID) + "|" + rec.TargetID + "|" + rec.Period
	if m.dedupe[key] {
		return false, nil
	}
	m.dedupe[key] = true
	return true, nil
}

func (m *memStore) AcquireClaim(_ context.Context, owner domain.OwnerID, target string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(owner) + "|" + target
	if m.claims[key] {
		return false, nil
	}
	m.claims[key] = true
	return true, nil
}

func (m *memStore) ReleaseClaim(_ context.Context, owner domain.OwnerID, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, string(owner)+"|"+target)
	return nil
}

func (m *memStore) clearClaims() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims = map[string]bool{}
}

func (m *memStore) SaveNotification(_ context.Context, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes = append(m.notes, n)
	return nil
}

func (m *memStore) ListNotifications(_ context.Context, owner domain.OwnerID, limit int) ([]domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Notification
	for _, n := range m.notes {
		if n.OwnerID == owner {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memStore) GetOwner(_ context.Context, id domain.OwnerID) (domain.Owner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.owners[id]
	if !ok {
		return domain.Owner{}, domain.ErrOwnerNotFound
	}
	return o, nil
}

// fakeClient answers platform methods from per-method handlers.
type fakeClient struct {
	mu       sync.Mutex
	handlers map[string]func(domain.Params) (any, error)
	calls    []domain.APICall
	batches  int
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: map[string]func(domain.Params) (any, error){}}
}

func (c *fakeClient) on(method string, h func(domain.Params) (any, error)) *fakeClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = h
	return c
}

func (c *fakeClient) Call(ctx context.Context, method string, params domain.Params) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.calls = append(c.calls, domain.APICall{Method: method, Params: params})
	h, ok := c.handlers[method]
	c.mu.Unlock()
	if !ok {
		return nil, domain.NewAPIError(method, 3, "unknown method passed")
	}
	v, err := h(params)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(v)
	return raw, err
}

func (c *fakeClient) Batch(ctx context.Context, calls []domain.APICall) ([]domain.APIResult, error) {
	if len(calls) == 0 || len(calls) > domain.MaxBatchSize {
		return nil, fmt.Errorf("batch size %d", len(calls))
	}
	c.mu.Lock()
	c.batches++
	c.mu.Unlock()
	out := make([]domain.APIResult, len(calls))
	for i, call := range calls {
		raw, err := c.Call(ctx, call.Method, call.Params)
		out[i] = domain.APIResult{Response: raw, Err: err}
	}
	return out, nil
}

func (c *fakeClient) count(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call.Method == method {
			n++
		}
	}
	return n
}

func (c *fakeClient) batchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches
}

type fakeFactory struct {
	client ports.PlatformClient
	err    error
}

func (f fakeFactory) ForOwner(domain.Owner) (ports.PlatformClient, error) {
	return f.client, f.err
}

func reply(v any) func(domain.Params) (any, error) {
	return func(domain.Params) (any, error) { return v, nil }
}

func users(n int) map[string]any {
	items := make([]map[string]any, n)
	for i := range items {
		items[i] = map[string]any{"id": 1000 + i, "first_name": fmt.Sprintf("User%d", i), "last_name": "Test"}
	}
	return map[string]any{"count": n, "items": items}
}

func noSleep(context.Context, time.Duration) error { return nil }

// testKit wires the services against in-memory collaborators.
type testKit struct {
	store     *memStore
	client    *fakeClient
	cfg       *domain.AppConfig
	bus       *EventBus
	emitter   *Emitter
	quota     *QuotaGuard
	registry  *ActionRegistry
	executor  *ScenarioExecutor
	queue     *JobQueue
	jobs      *JobService
	scheduler *ScenarioScheduler
	scenarios *ScenarioService
	runner    *JobRunner
	owner     domain.Owner
}

func newTestKit(t *testing.T) *testKit {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	k := &testKit{
		store:  newMemStore(),
		client: newFakeClient(),
		cfg:    domain.DefaultConfig(),
		owner:  domain.Owner{ID: "owner-1", AccessToken: "token", Plan: "pro", Profile: domain.SpeedTurbo},
	}
	k.store.owners[k.owner.ID] = k.owner

	k.bus = NewEventBus(logger)
	k.emitter = NewEmitter(logger, k.bus, k.store)
	k.quota = NewQuotaGuard(k.store, k.cfg)
	k.registry = NewActionRegistry(ActionDeps{
		Logger:  logger,
		Quota:   k.quota,
		Claims:  k.store,
		Dedupe:  k.store,
		Emitter: k.emitter,
	})
	k.executor = NewScenarioExecutor(logger, k.store, k.registry, NewConditionEvaluator(), k.store, k.cfg, k.emitter)
	k.queue = NewJobQueue(logger, QueueConfig{})
	k.jobs = NewJobService(logger, k.store, k.queue, k.registry, k.emitter)
	k.scheduler = NewScenarioScheduler(logger, k.jobs)
	k.scenarios = NewScenarioService(logger, k.store, k.store, k.registry, k.scheduler, k.jobs)
	k.runner = NewJobRunner(RunnerDeps{
		Logger:      logger,
		Queue:       k.queue,
		Jobs:        k.store,
		Owners:      k.store,
		Limits:      k.cfg,
		Clients:     fakeFactory{client: k.client},
		Registry:    k.registry,
		Scenarios:   k.executor,
		Automations: k.scenarios,
		Emitter:     k.emitter,
		NewPacer: func(o domain.Owner) *Pacer {
			return NewPacer(o.Profile, WithSeed(1), WithSleeper(noSleep), WithLocation(o.Location()))
		},
	})
	return k
}

func (k *testKit) execution() *Execution {
	return &Execution{
		JobID:  "job-test",
		Owner:  k.owner,
		Client: k.client,
		Pacer:  NewPacer(k.owner.Profile, WithSeed(1), WithSleeper(noSleep)),
	}
}

func (k *testKit) setLimit(action domain.ActionKind, limit int) {
	k.cfg.DailyLimits[action] = limit
}

func (k *testKit) setUsage(action domain.ActionKind, used int) {
	date := domain.QuotaDate(time.Now(), k.owner.Location())
	k.store.quotas[quotaKey(k.owner.ID, date, action)] = used
}

func (k *testKit) usage(action domain.ActionKind) int {
	date := domain.QuotaDate(time.Now(), k.owner.Location())
	n, _ := k.store.GetQuotaUsage(context.Background(), k.owner.ID, date, action)
	return n
}

// enqueueDirect stores a PENDING job without queueing it, for driving the runner by hand.
func (k *testKit) enqueueDirect(t *testing.T, action domain.ActionKind, params domain.Params, scenario *domain.ScenarioID) domain.JobRecord {
	t.Helper()
	job := domain.JobRecord{
		ID:         domain.JobID(fmt.Sprintf("job-%d", len(k.store.jobs)+1)),
		OwnerID:    k.owner.ID,
		Action:     action,
		ScenarioID: scenario,
		State:      domain.JobStatePending,
		Params:     params,
		CreatedAt:  time.Now(),
	}
	if err := k.store.SaveJob(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	return job
}
