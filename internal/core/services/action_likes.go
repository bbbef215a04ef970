package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/manthysbr/socialpilot/internal/core/domain"
)

type likePostsParams struct {
	Count   int  `json:"count" validate:"min=1,max=500"`
	SkipAds bool `json:"skip_ads"`
}

func (p *likePostsParams) setDefaults() {
	p.Count = 50
	p.SkipAds = true
}

type feedPost struct {
	SourceID    int64 `json:"source_id"`
	PostID      int64 `json:"post_id"`
	MarkedAsAds int   `json:"marked_as_ads"`
	Likes       struct {
		UserLikes int `json:"user_likes"`
	} `json:"likes"`
}

type feedPage struct {
	Items    []feedPost `json:"items"`
	NextFrom string     `json:"next_from"`
}

const maxFeedPages = 5

func (x *executors) likePostsCandidates(ctx context.Context, ex *Execution, p *likePostsParams) ([]domain.Target, error) {
	targets := make([]domain.Target, 0, p.Count)
	seen := make(map[string]struct{})
	startFrom := ""

	for page := 0; page < maxFeedPages && len(targets) < p.Count; page++ {
		params := domain.Params{"filters": "post", "count": 100}
		if startFrom != "" {
			params["start_from"] = startFrom
		}
		raw, err := ex.Client.Call(ctx, "newsfeed.get", params)
		if err != nil {
			return nil, err
		}
		var feed feedPage
		if err := json.Unmarshal(raw, &feed); err != nil {
			return nil, fmt.Errorf("failed to decode newsfeed.get response: %w", err)
		}

		for _, post := range feed.Items {
			if post.Likes.UserLikes == 1 || (p.SkipAds && post.MarkedAsAds == 1) {
				continue
			}
			id := fmt.Sprintf("%d_%d", post.SourceID, post.PostID)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			targets = append(targets, domain.Target{
				ID:   id,
				Data: map[string]any{"owner_id": post.SourceID, "item_id": post.PostID},
			})
			if len(targets) == p.Count {
				break
			}
		}
		if feed.NextFrom == "" {
			break
		}
		startFrom = feed.NextFrom
	}
	return targets, nil
}

func (x *executors) likePosts(ctx context.Context, ex *Execution, p *likePostsParams) (domain.ActionSummary, error) {
	targets, err := x.likePostsCandidates(ctx, ex, p)
	if err != nil {
		return domain.ActionSummary{Action: domain.ActionLikePosts, Requested: p.Count}, err
	}
	if err := ex.Pacer.DelayForReadingContent(ctx); err != nil {
		return domain.ActionSummary{Action: domain.ActionLikePosts, Requested: p.Count}, err
	}
	return x.runBatches(ctx, ex, domain.ActionLikePosts, p.Count, targets, unitOptions{claim: true},
		func(t domain.Target) domain.APICall {
			return domain.APICall{Method: "likes.add", Params: domain.Params{
				"type":     "post",
				"owner_id": t.Data["owner_id"],
				"item_id":  t.Data["item_id"],
			}}
		})
}
