package domain

import "math"

// PlanConfig holds the feature flags and limit scaling for one billing plan
type PlanConfig struct {
	Features    []ActionKind `json:"features"`     // enabled action kinds
	LimitFactor float64      `json:"limit_factor"` // multiplier on the default daily limits
}

// ActionMeta is display metadata for one action kind
type ActionMeta struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// AppConfig is the runtime configuration persisted in the settings table
type AppConfig struct {
	DailyLimits    map[ActionKind]int        `json:"daily_limits"`
	Plans          map[string]PlanConfig     `json:"plans"`
	DefaultPlan    string                    `json:"default_plan"`
	DefaultProfile SpeedProfile              `json:"default_profile"`
	Actions        map[ActionKind]ActionMeta `json:"actions,omitempty"` // display overrides
}

// DailyLimit returns the limit for an owner, honoring plan scaling and per-owner overrides.
func (c *AppConfig) DailyLimit(owner Owner, action ActionKind) int {
	if v, ok := owner.LimitOverrides[action]; ok {
		return max(v, 0)
	}
	base := c.DailyLimits[action]
	plan, ok := c.Plans[c.planName(owner)]
	if !ok || plan.LimitFactor <= 0 {
		return base
	}
	return int(math.Floor(float64(base) * plan.LimitFactor))
}

// FeatureEnabled reports whether the owner's plan enables an action kind.
func (c *AppConfig) FeatureEnabled(owner Owner, action ActionKind) bool {
	plan, ok := c.Plans[c.planName(owner)]
	if !ok {
		return false
	}
	for _, f := range plan.Features {
		if f == action {
			return true
		}
	}
	return false
}

func (c *AppConfig) planName(owner Owner) string {
	if owner.Plan != "" {
		return owner.Plan
	}
	return c.DefaultPlan
}

// DefaultConfig returns safe defaults
func DefaultConfig() *AppConfig {
	all := ActionKinds()
	return &AppConfig{
		DailyLimits: map[ActionKind]int{
			ActionAddFriends:        40,
			ActionSendMessages:      30,
			ActionLikePosts:         200,
			ActionJoinGroups:        20,
			ActionLeaveGroups:       100,
			ActionBirthdayGreetings: 50,
		},
		Plans: map[string]PlanConfig{
			"free": {
				Features:    []ActionKind{ActionLikePosts, ActionBirthdayGreetings},
				LimitFactor: 0.5,
			},
			"pro": {
				Features:    all,
				LimitFactor: 1,
			},
		},
		DefaultPlan:    "free",
		DefaultProfile: SpeedNormal,
	}
}
