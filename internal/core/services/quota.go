package services

import (
	"context"
	"fmt"
	"time"

	"github.com/manthysbr/socialpilot/internal/core/domain"
	"github.com/manthysbr/socialpilot/internal/core/ports"
)

// QuotaGuard answers how many units of an action an owner may still do today.
// Days are keyed by the owner's local date, so counters reset without a job.
type QuotaGuard struct {
	store  ports.QuotaStore
	limits ports.LimitProvider
	now    func() time.Time
}

func NewQuotaGuard(store ports.QuotaStore, limits ports.LimitProvider) *QuotaGuard {
	return &QuotaGuard{store: store, limits: limits, now: time.Now}
}

func (g *QuotaGuard) date(owner domain.Owner) string {
	return domain.QuotaDate(g.now(), owner.Location())
}

// Remaining returns limit minus today's usage, never negative.
func (g *QuotaGuard) Remaining(ctx context.Context, owner domain.Owner, action domain.ActionKind) (int, error) {
	used, err := g.store.GetQuotaUsage(ctx, owner.ID, g.date(owner), action)
	if err != nil {
		return 0, fmt.Errorf("failed to read quota: %w", err)
	}
	return max(g.limits.DailyLimit(owner, action)-used, 0), nil
}

// Consume records n completed units.
func (g *QuotaGuard) Consume(ctx context.Context, owner domain.Owner, action domain.ActionKind, n int) error {
	if n <= 0 {
		return nil
	}
	if err := g.store.IncrementQuota(ctx, owner.ID, g.date(owner), action, n); err != nil {
		return fmt.Errorf("failed to record quota: %w", err)
	}
	return nil
}
