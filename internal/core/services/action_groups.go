package services

import (
	"context"
	"slices"
	"strconv"

	"github.com/manthysbr/socialpilot/internal/core/domain"
)

type groupItem struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	IsClosed    int    `json:"is_closed"`
	IsMember    int    `json:"is_member"`
	Deactivated string `json:"deactivated"`
}

func (g groupItem) target() domain.Target {
	return domain.Target{ID: strconv.FormatInt(g.ID, 10), Name: g.Name}
}

type joinGroupsParams struct {
	Count int    `json:"count" validate:"min=1,max=50"`
	Query string `json:"query" validate:"required,max=200"`
}

func (p *joinGroupsParams) setDefaults() {
	p.Count = 10
}

func (x *executors) joinGroupsCandidates(ctx context.Context, ex *Execution, p *joinGroupsParams) ([]domain.Target, error) {
	page, err := callList[groupItem](ctx, ex, "groups.search", domain.Params{
		"q":     p.Query,
		"type":  "group",
		"count": min(p.Count*3, 1000),
	})
	if err != nil {
		return nil, err
	}
	targets := make([]domain.Target, 0, p.Count)
	for _, g := range page.Items {
		if g.IsMember == 1 || g.IsClosed != 0 || g.Deactivated != "" {
			continue
		}
		targets = append(targets, g.target())
		if len(targets) == p.Count {
			break
		}
	}
	return targets, nil
}

func (x *executors) joinGroups(ctx context.Context, ex *Execution, p *joinGroupsParams) (domain.ActionSummary, error) {
	targets, err := x.joinGroupsCandidates(ctx, ex, p)
	if err != nil {
		return domain.ActionSummary{Action: domain.ActionJoinGroups, Requested: p.Count}, err
	}
	return x.runUnits(ctx, ex, domain.ActionJoinGroups, p.Count, targets, unitOptions{claim: true},
		func(ctx context.Context, t domain.Target) error {
			_, err := ex.Client.Call(ctx, "groups.join", domain.Params{"group_id": t.ID})
			return err
		})
}

type leaveGroupsParams struct {
	Count int     `json:"count" validate:"min=1,max=1000"`
	Keep  []int64 `json:"keep" validate:"dive,gt=0"`
}

func (p *leaveGroupsParams) setDefaults() {
	p.Count = 100
}

func (x *executors) leaveGroupsCandidates(ctx context.Context, ex *Execution, p *leaveGroupsParams) ([]domain.Target, error) {
	page, err := callList[groupItem](ctx, ex, "groups.get", domain.Params{
		"extended": 1,
		"count":    1000,
	})
	if err != nil {
		return nil, err
	}
	targets := make([]domain.Target, 0, p.Count)
	for _, g := range page.Items {
		if slices.Contains(p.Keep, g.ID) {
			continue
		}
		targets = append(targets, g.target())
		if len(targets) == p.Count {
			break
		}
	}
	return targets, nil
}

func (x *executors) leaveGroups(ctx context.Context, ex *Execution, p *leaveGroupsParams) (domain.ActionSummary, error) {
	targets, err := x.leaveGroupsCandidates(ctx, ex, p)
	if err != nil {
		return domain.ActionSummary{Action: domain.ActionLeaveGroups, Requested: p.Count}, err
	}
	return x.runBatches(ctx, ex, domain.ActionLeaveGroups, len(targets), targets, unitOptions{},
		func(t domain.Target) domain.APICall {
			return domain.APICall{Method: "groups.leave", Params: domain.Params{"group_id": t.ID}}
		})
}
