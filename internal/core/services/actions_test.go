package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/manthysbr/socialpilot/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddFriends_StopsAtQuotaWithPartialSuccess(t *testing.T) {
	k := newTestKit(t)
	k.setLimit(domain.ActionAddFriends, 10)
	k.setUsage(domain.ActionAddFriends, 8)
	k.client.on("friends.getSuggestions", reply(users(5))).on("friends.add", reply(1))

	summary, err := k.registry.Execute(context.Background(), k.execution(), domain.ActionAddFriends, domain.Params{"count": 5})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 5, summary.Requested)
	assert.True(t, summary.Partial)
	assert.Equal(t, 2, k.client.count("friends.add"))
	assert.Equal(t, 10, k.usage(domain.ActionAddFriends))
	assert.Contains(t, summary.Message(), "partial")
}

func TestAddFriends_QuotaExhaustedAtStart(t *testing.T) {
	k := newTestKit(t)
	k.setLimit(domain.ActionAddFriends, 10)
	k.setUsage(domain.ActionAddFriends, 10)
	k.client.on("friends.getSuggestions", reply(users(5))).on("friends.add", reply(1))

	_, err := k.registry.Execute(context.Background(), k.execution(), domain.ActionAddFriends, domain.Params{"count": 5})
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
	assert.Equal(t, 0, k.client.count("friends.add"))
}

func TestAddFriends_AccessDeniedSkipsTarget(t *testing.T) {
	k := newTestKit(t)
	k.client.on("friends.getSuggestions", reply(users(3)))
	k.client.on("friends.add", func(p domain.Params) (any, error) {
		if p["user_id"] == "1001" {
			return nil, domain.NewAPIError("friends.add", 30, "This profile is private")
		}
		return 1, nil
	})

	summary, err := k.registry.Execute(context.Background(), k.execution(), domain.ActionAddFriends, domain.Params{"count": 3})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Denied)
	assert.False(t, summary.Partial)
}

func TestAddFriends_OtherErrorsStopTheLoop(t *testing.T) {
	k := newTestKit(t)
	k.client.on("friends.getSuggestions", reply(users(4)))
	k.client.on("friends.add", func(p domain.Params) (any, error) {
		if p["user_id"] == "1001" {
			return nil, domain.NewAPIError("friends.add", 14, "Captcha needed")
		}
		return 1, nil
	})

	summary, err := k.registry.Execute(context.Background(), k.execution(), domain.ActionAddFriends, domain.Params{"count": 4})
	require.Error(t, err)
	assert.True(t, domain.IsAPIError(err, domain.APIErrorCaptcha))
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 2, k.client.count("friends.add"))
}

func TestAddFriends_HeldClaimSkipsTarget(t *testing.T) {
	k := newTestKit(t)
	k.client.on("friends.getSuggestions", reply(users(2))).on("friends.add", reply(1))
	_, err := k.store.AcquireClaim(context.Background(), k.owner.ID, claimTarget(domain.ActionAddFriends, "1000"), time.Hour)
	require.NoError(t, err)

	summary, err := k.registry.Execute(context.Background(), k.execution(), domain.ActionAddFriends, domain.Params{"count": 2})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Skipped)
}

func TestAddFriends_CancellationStopsBeforeNextUnit(t *testing.T) {
	k := newTestKit(t)
	ctx, cancel := context.WithCancel(context.Background())
	k.client.on("friends.getSuggestions", reply(users(5)))
	k.client.on("friends.add", func(domain.Params) (any, error) {
		cancel()
		return 1, nil
	})

	summary, err := k.registry.Execute(ctx, k.execution(), domain.ActionAddFriends, domain.Params{"count": 5})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, summary.Succeeded)
}

func feedPosts(n int) map[string]any {
	items := make([]map[string]any, n)
	for i := range items {
		items[i] = map[string]any{
			"source_id": -100,
			"post_id":   i + 1,
			"likes":     map[string]any{"user_likes": 0},
		}
	}
	return map[string]any{"items": items}
}

func TestLikePosts_BatchesRespectQuotaAndMaxSize(t *testing.T) {
	k := newTestKit(t)
	k.setLimit(domain.ActionLikePosts, 40)
	k.setUsage(domain.ActionLikePosts, 13) // 27 left
	k.client.on("newsfeed.get", reply(feedPosts(30)))
	k.client.on("likes.add", func(p domain.Params) (any, error) {
		if p["item_id"] == int64(3) {
			return nil, domain.NewAPIError("likes.add", 15, "Access denied")
		}
		return map[string]int{"likes": 1}, nil
	})

	summary, err := k.registry.Execute(context.Background(), k.execution(), domain.ActionLikePosts, domain.Params{"count": 30})
	require.NoError(t, err)

	// first chunk: 25 slots, one denied so 24 consumed; second chunk: the 3 left
	assert.Equal(t, 2, k.client.batchCount())
	assert.Equal(t, 28, k.client.count("likes.add"))
	assert.Equal(t, 27, summary.Succeeded)
	assert.Equal(t, 1, summary.Denied)
	assert.True(t, summary.Partial)
	assert.Equal(t, 40, k.usage(domain.ActionLikePosts))
}

func TestLikePosts_SkipsAlreadyLiked(t *testing.T) {
	k := newTestKit(t)
	feed := feedPosts(3)
	feed["items"].([]map[string]any)[1]["likes"] = map[string]any{"user_likes": 1}
	k.client.on("newsfeed.get", reply(feed)).on("likes.add", reply(map[string]int{"likes": 1}))

	targets, err := k.registry.Candidates(context.Background(), k.execution(), domain.ActionLikePosts, domain.Params{"count": 10})
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "-100_1", targets[0].ID)
	assert.Equal(t, "-100_3", targets[1].ID)
}

func TestLeaveGroups_KeepsListedGroups(t *testing.T) {
	k := newTestKit(t)
	k.client.on("groups.get", reply(map[string]any{
		"count": 3,
		"items": []map[string]any{{"id": 1, "name": "a"}, {"id": 2, "name": "b"}, {"id": 3, "name": "c"}},
	}))
	k.client.on("groups.leave", reply(1))

	summary, err := k.registry.Execute(context.Background(), k.execution(), domain.ActionLeaveGroups, domain.Params{"keep": []int64{2}})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, k.client.batchCount())
}

func TestJoinGroups_FiltersClosedAndJoined(t *testing.T) {
	k := newTestKit(t)
	k.client.on("groups.search", reply(map[string]any{
		"count": 3,
		"items": []map[string]any{
			{"id": 1, "name": "open"},
			{"id": 2, "name": "closed", "is_closed": 1},
			{"id": 3, "name": "joined", "is_member": 1},
		},
	}))
	k.client.on("groups.join", reply(1))

	summary, err := k.registry.Execute(context.Background(), k.execution(), domain.ActionJoinGroups, domain.Params{"query": "go", "count": 3})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, k.client.count("groups.join"))
}

func TestBirthdayGreetings_OncePerYear(t *testing.T) {
	k := newTestKit(t)
	today := time.Now().In(k.owner.Location())
	bdate := fmt.Sprintf("%d.%d", today.Day(), int(today.Month()))
	k.client.on("friends.get", reply(map[string]any{
		"count": 2,
		"items": []map[string]any{
			{"id": 7, "first_name": "Ann", "bdate": bdate},
			{"id": 8, "first_name": "Bob", "bdate": "31.2"},
		},
	}))
	var texts []string
	k.client.on("messages.send", func(p domain.Params) (any, error) {
		texts = append(texts, p["message"].(string))
		return 1, nil
	})

	params := domain.Params{"message": "Happy birthday, {first_name}!"}
	first, err := k.registry.Execute(context.Background(), k.execution(), domain.ActionBirthdayGreetings, params)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Succeeded)

	// a later run after the claim expired must not greet again
	k.store.clearClaims()
	second, err := k.registry.Execute(context.Background(), k.execution(), domain.ActionBirthdayGreetings, params)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Succeeded)
	assert.Equal(t, 1, second.Skipped)

	assert.Equal(t, []string{"Happy birthday, Ann!"}, texts)
}

func TestBornToday(t *testing.T) {
	assert.True(t, bornToday("5.3", 5, 3))
	assert.True(t, bornToday("5.3.1990", 5, 3))
	assert.False(t, bornToday("5.4", 5, 3))
	assert.False(t, bornToday("", 5, 3))
	assert.False(t, bornToday("x.y", 5, 3))
}

func TestActionRegistry_Validate(t *testing.T) {
	k := newTestKit(t)

	tests := []struct {
		name   string
		kind   domain.ActionKind
		params domain.Params
		ok     bool
	}{
		{"defaults", domain.ActionAddFriends, nil, true},
		{"count too low", domain.ActionAddFriends, domain.Params{"count": 0}, false},
		{"group without id", domain.ActionAddFriends, domain.Params{"source": "group"}, false},
		{"group with id", domain.ActionAddFriends, domain.Params{"source": "group", "group_id": 5}, true},
		{"unknown source", domain.ActionAddFriends, domain.Params{"source": "everyone"}, false},
		{"message required", domain.ActionSendMessages, domain.Params{}, false},
		{"wrong type", domain.ActionLikePosts, domain.Params{"count": "many"}, false},
		{"query required", domain.ActionJoinGroups, domain.Params{"count": 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := k.registry.Validate(tt.kind, tt.params)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, domain.ErrInvalidParams)
			}
		})
	}

	assert.ErrorIs(t, k.registry.Validate("teleport", nil), domain.ErrUnknownAction)
}

func TestActionRegistry_Describe(t *testing.T) {
	k := newTestKit(t)

	infos := k.registry.Describe(map[domain.ActionKind]domain.ActionMeta{
		domain.ActionLikePosts: {Title: "Likes"},
	})
	require.Len(t, infos, 6)
	assert.Equal(t, k.registry.Kinds()[0], infos[0].Kind)

	for _, info := range infos {
		if info.Kind == domain.ActionLikePosts {
			assert.Equal(t, "Likes", info.Title)
			assert.NotEmpty(t, info.Description)
			assert.True(t, info.Batch)
			assert.Equal(t, "count", info.Params[0].Name)
		}
	}
}

func TestRenderTemplate(t *testing.T) {
	target := domain.Target{ID: "1", Name: "Ann Lee", Data: map[string]any{"first_name": "Ann"}}
	assert.Equal(t, "Hi Ann (Ann Lee)", renderTemplate("Hi {first_name} ({name})", target))
	assert.Equal(t, "Hi Bob", renderTemplate("Hi {first_name}", domain.Target{Name: "Bob"}))
}
