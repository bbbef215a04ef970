package services

import (
	"context"
	"strconv"
	"strings"

	"github.com/manthysbr/socialpilot/internal/core/domain"
)

// userItem is the subset of a platform user object the executors read.
type userItem struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Deactivated  string `json:"deactivated"`
	Online       int    `json:"online"`
	BDate        string `json:"bdate"`
	FriendStatus int    `json:"friend_status"`
}

func (u userItem) target() domain.Target {
	return domain.Target{
		ID:   strconv.FormatInt(u.ID, 10),
		Name: strings.TrimSpace(u.FirstName + " " + u.LastName),
		Data: map[string]any{"first_name": u.FirstName},
	}
}

const (
	sourceSuggestions = "suggestions"
	sourceGroup       = "group"
)

type addFriendsParams struct {
	Count   int    `json:"count" validate:"min=1,max=100"`
	Source  string `json:"source" validate:"oneof=suggestions group"`
	GroupID int64  `json:"group_id" validate:"required_if=Source group"`
	Message string `json:"message" validate:"max=500"`
}

func (p *addFriendsParams) setDefaults() {
	p.Count = 20
	p.Source = sourceSuggestions
}

func (x *executors) addFriendsCandidates(ctx context.Context, ex *Execution, p *addFriendsParams) ([]domain.Target, error) {
	fetch := min(p.Count*2, 500)

	var (
		page listResponse[userItem]
		err  error
	)
	switch p.Source {
	case sourceGroup:
		page, err = callList[userItem](ctx, ex, "groups.getMembers", domain.Params{
			"group_id": p.GroupID,
			"count":    fetch,
			"fields":   []string{"friend_status"},
		})
	default:
		page, err = callList[userItem](ctx, ex, "friends.getSuggestions", domain.Params{
			"filter": "mutual",
			"count":  fetch,
		})
	}
	if err != nil {
		return nil, err
	}

	targets := make([]domain.Target, 0, p.Count)
	for _, u := range page.Items {
		// friend_status 0: not a friend and no request pending
		if u.Deactivated != "" || u.FriendStatus != 0 || u.ID == 0 {
			continue
		}
		targets = append(targets, u.target())
		if len(targets) == p.Count {
			break
		}
	}
	return targets, nil
}

func (x *executors) addFriends(ctx context.Context, ex *Execution, p *addFriendsParams) (domain.ActionSummary, error) {
	targets, err := x.addFriendsCandidates(ctx, ex, p)
	if err != nil {
		return domain.ActionSummary{Action: domain.ActionAddFriends, Requested: p.Count}, err
	}
	return x.runUnits(ctx, ex, domain.ActionAddFriends, p.Count, targets, unitOptions{claim: true},
		func(ctx context.Context, t domain.Target) error {
			params := domain.Params{"user_id": t.ID}
			if p.Message != "" {
				params["text"] = renderTemplate(p.Message, t)
			}
			_, err := ex.Client.Call(ctx, "friends.add", params)
			return err
		})
}

// renderTemplate fills {name} and {first_name} placeholders.
func renderTemplate(tmpl string, t domain.Target) string {
	first, _ := t.Data["first_name"].(string)
	if first == "" {
		first = t.Name
	}
	return strings.NewReplacer("{first_name}", first, "{name}", t.Name).Replace(tmpl)
}
