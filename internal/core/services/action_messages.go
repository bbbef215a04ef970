package services

import (
	"context"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/manthysbr/socialpilot/internal/core/domain"
)

type sendMessagesParams struct {
	Count      int    `json:"count" validate:"min=1,max=100"`
	Message    string `json:"message" validate:"required,max=4096"`
	OnlyOnline bool   `json:"only_online"`
}

func (p *sendMessagesParams) setDefaults() {
	p.Count = 10
}

func (x *executors) friendsWithFields(ctx context.Context, ex *Execution, fields ...string) ([]userItem, error) {
	page, err := callList[userItem](ctx, ex, "friends.get", domain.Params{
		"order":  "hints",
		"count":  5000,
		"fields": fields,
	})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (x *executors) sendMessagesCandidates(ctx context.Context, ex *Execution, p *sendMessagesParams) ([]domain.Target, error) {
	friends, err := x.friendsWithFields(ctx, ex, "online")
	if err != nil {
		return nil, err
	}
	targets := make([]domain.Target, 0, p.Count)
	for _, u := range friends {
		if u.Deactivated != "" || (p.OnlyOnline && u.Online == 0) {
			continue
		}
		targets = append(targets, u.target())
		if len(targets) == p.Count {
			break
		}
	}
	return targets, nil
}

func (x *executors) sendMessages(ctx context.Context, ex *Execution, p *sendMessagesParams) (domain.ActionSummary, error) {
	targets, err := x.sendMessagesCandidates(ctx, ex, p)
	if err != nil {
		return domain.ActionSummary{Action: domain.ActionSendMessages, Requested: p.Count}, err
	}
	return x.runUnits(ctx, ex, domain.ActionSendMessages, p.Count, targets, unitOptions{claim: true},
		func(ctx context.Context, t domain.Target) error {
			return sendMessage(ctx, ex, t, renderTemplate(p.Message, t))
		})
}

func sendMessage(ctx context.Context, ex *Execution, t domain.Target, text string) error {
	_, err := ex.Client.Call(ctx, "messages.send", domain.Params{
		"user_id":   t.ID,
		"message":   text,
		"random_id": rand.Int32(),
	})
	return err
}

type birthdayParams struct {
	Count   int    `json:"count" validate:"min=1,max=100"`
	Message string `json:"message" validate:"required,max=4096"`
}

func (p *birthdayParams) setDefaults() {
	p.Count = 50
}

// bornToday reports whether a "D.M" or "D.M.YYYY" birth date falls on day/month.
func bornToday(bdate string, day, month int) bool {
	parts := strings.Split(bdate, ".")
	if len(parts) < 2 {
		return false
	}
	d, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	return err1 == nil && err2 == nil && d == day && m == month
}

func (x *executors) birthdayCandidates(ctx context.Context, ex *Execution, p *birthdayParams) ([]domain.Target, error) {
	friends, err := x.friendsWithFields(ctx, ex, "bdate")
	if err != nil {
		return nil, err
	}
	today := x.Now().In(ex.Owner.Location())
	targets := make([]domain.Target, 0)
	for _, u := range friends {
		if u.Deactivated != "" || !bornToday(u.BDate, today.Day(), int(today.Month())) {
			continue
		}
		targets = append(targets, u.target())
		if len(targets) == p.Count {
			break
		}
	}
	return targets, nil
}

// birthdayGreetings congratulates each friend at most once per year.
func (x *executors) birthdayGreetings(ctx context.Context, ex *Execution, p *birthdayParams) (domain.ActionSummary, error) {
	targets, err := x.birthdayCandidates(ctx, ex, p)
	if err != nil {
		return domain.ActionSummary{Action: domain.ActionBirthdayGreetings, Requested: p.Count}, err
	}
	opts := unitOptions{
		claim:        true,
		dedupePeriod: domain.YearPeriod(x.Now(), ex.Owner.Location()),
	}
	return x.runUnits(ctx, ex, domain.ActionBirthdayGreetings, len(targets), targets, opts,
		func(ctx context.Context, t domain.Target) error {
			return sendMessage(ctx, ex, t, renderTemplate(p.Message, t))
		})
}
