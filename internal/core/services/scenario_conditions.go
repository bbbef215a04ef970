package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/manthysbr/socialpilot/internal/core/domain"
)

type metricFunc func(ctx context.Context, ex *Execution, now time.Time) (float64, error)

// countMetric reads the "count" field of a list method asked for one item.
func countMetric(method string, params domain.Params) metricFunc {
	return func(ctx context.Context, ex *Execution, _ time.Time) (float64, error) {
		p := domain.Params{"count": 1}
		for k, v := range params {
			p[k] = v
		}
		raw, err := ex.Client.Call(ctx, method, p)
		if err != nil {
			return 0, err
		}
		var body struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return 0, fmt.Errorf("failed to decode %s response: %w", method, err)
		}
		return float64(body.Count), nil
	}
}

var metrics = map[string]metricFunc{
	"friends_count":        countMetric("friends.get", nil),
	"followers_count":      countMetric("users.getFollowers", nil),
	"incoming_requests":    countMetric("friends.getRequests", nil),
	"unread_conversations": countMetric("messages.getConversations", domain.Params{"filter": "unread"}),
	"groups_count":         countMetric("groups.get", nil),
	// ISO weekday in the owner's zone: Monday=1 .. Sunday=7
	"day_of_week": func(_ context.Context, ex *Execution, now time.Time) (float64, error) {
		wd := int(now.In(ex.Owner.Location()).Weekday())
		if wd == 0 {
			wd = 7
		}
		return float64(wd), nil
	},
	"hour_of_day": func(_ context.Context, ex *Execution, now time.Time) (float64, error) {
		return float64(now.In(ex.Owner.Location()).Hour()), nil
	},
}

// KnownMetric reports whether a condition may reference name.
func KnownMetric(name string) bool {
	_, ok := metrics[name]
	return ok
}

// Metrics lists the condition metric names.
func Metrics() []string {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConditionEvaluator resolves predicates against live data.
type ConditionEvaluator struct {
	now func() time.Time
}

func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{now: time.Now}
}

// Evaluate returns the predicate outcome and the live value it was compared with.
func (c *ConditionEvaluator) Evaluate(ctx context.Context, ex *Execution, p domain.Predicate) (bool, float64, error) {
	fn, ok := metrics[p.Metric]
	if !ok {
		return false, 0, fmt.Errorf("%w: unknown metric %q", domain.ErrInvalidScenario, p.Metric)
	}
	live, err := fn(ctx, ex, c.now())
	if err != nil {
		return false, 0, fmt.Errorf("metric %s: %w", p.Metric, err)
	}
	ok, err = p.Comparator.Compare(live, p.Value)
	if err != nil {
		return false, live, fmt.Errorf("%w: %v", domain.ErrInvalidScenario, err)
	}
	return ok, live, nil
}
