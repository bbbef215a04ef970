package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppConfig_DailyLimit(t *testing.T) {
	cfg := DefaultConfig()

	free := Owner{ID: "o1"}
	assert.Equal(t, 20, cfg.DailyLimit(free, ActionAddFriends))

	pro := Owner{ID: "o2", Plan: "pro"}
	assert.Equal(t, 40, cfg.DailyLimit(pro, ActionAddFriends))

	override := Owner{ID: "o3", Plan: "pro", LimitOverrides: map[ActionKind]int{ActionAddFriends: 7}}
	assert.Equal(t, 7, cfg.DailyLimit(override, ActionAddFriends))
}

func TestAppConfig_FeatureEnabled(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.FeatureEnabled(Owner{}, ActionLikePosts))
	assert.False(t, cfg.FeatureEnabled(Owner{}, ActionAddFriends))
	assert.True(t, cfg.FeatureEnabled(Owner{Plan: "pro"}, ActionRunScenario))
	assert.False(t, cfg.FeatureEnabled(Owner{Plan: "enterprise"}, ActionLikePosts))
}

func TestClassifyCode(t *testing.T) {
	tests := []struct {
		code int
		want APIErrorKind
	}{
		{5, APIErrorAuth},
		{6, APIErrorRateLimited},
		{9, APIErrorFloodControl},
		{14, APIErrorCaptcha},
		{15, APIErrorAccessDenied},
		{902, APIErrorAccessDenied},
		{1, APIErrorGeneric},
		{100, APIErrorGeneric},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyCode(tt.code), "code %d", tt.code)
	}

	err := fmt.Errorf("wrapped: %w", NewAPIError("friends.add", 5, "invalid token"))
	assert.True(t, IsAPIError(err, APIErrorAuth))
	kind, ok := APIErrorKindOf(err)
	assert.True(t, ok)
	assert.Equal(t, "auth", kind.String())
}
