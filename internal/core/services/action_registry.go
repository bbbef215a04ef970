package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/manthysbr/socialpilot/internal/core/domain"
	"github.com/manthysbr/socialpilot/internal/core/ports"
)

// Execution is what one job run needs to act for its owner.
type Execution struct {
	JobID  domain.JobID
	Owner  domain.Owner
	Client ports.PlatformClient
	Pacer  *Pacer
}

// ParamInfo describes one field of an action's parameter schema.
type ParamInfo struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Rules string `json:"rules,omitempty"`
}

// ActionInfo is the public description of a registered action.
type ActionInfo struct {
	Kind        domain.ActionKind `json:"kind"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Batch       bool              `json:"batch"`
	Params      []ParamInfo       `json:"params"`
}

type actionDescriptor struct {
	kind       domain.ActionKind
	meta       domain.ActionMeta
	batch      bool
	params     []ParamInfo
	decode     func(domain.Params) (any, error)
	candidates func(context.Context, *Execution, any) ([]domain.Target, error)
	execute    func(context.Context, *Execution, any) (domain.ActionSummary, error)
}

// ActionRegistry is the closed set of action executors, built once at startup.
type ActionRegistry struct {
	validate *validator.Validate
	actions  map[domain.ActionKind]*actionDescriptor
	order    []domain.ActionKind
}

// ActionDeps are the collaborators every executor shares.
type ActionDeps struct {
	Logger   *slog.Logger
	Quota    *QuotaGuard
	Claims   ports.ClaimStore
	Dedupe   ports.DedupeStore
	Emitter  *Emitter
	ClaimTTL time.Duration
	Now      func() time.Time
}

// executors holds the shared state of the built-in actions.
type executors struct {
	ActionDeps
}

func NewActionRegistry(deps ActionDeps) *ActionRegistry {
	if deps.ClaimTTL <= 0 {
		deps.ClaimTTL = domain.DefaultClaimTTL
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	r := &ActionRegistry{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		actions:  make(map[domain.ActionKind]*actionDescriptor),
	}
	r.validate.RegisterTagNameFunc(jsonFieldName)

	x := &executors{ActionDeps: deps}
	register(r, domain.ActionAddFriends, domain.ActionMeta{
		Title:       "Add friends",
		Description: "Send friend requests to suggested people or members of a community.",
	}, false, x.addFriendsCandidates, x.addFriends)
	register(r, domain.ActionSendMessages, domain.ActionMeta{
		Title:       "Send messages",
		Description: "Send a templated message to friends.",
	}, false, x.sendMessagesCandidates, x.sendMessages)
	register(r, domain.ActionLikePosts, domain.ActionMeta{
		Title:       "Like posts",
		Description: "Like fresh posts from the news feed.",
	}, true, x.likePostsCandidates, x.likePosts)
	register(r, domain.ActionJoinGroups, domain.ActionMeta{
		Title:       "Join communities",
		Description: "Join open communities matching a search query.",
	}, false, x.joinGroupsCandidates, x.joinGroups)
	register(r, domain.ActionLeaveGroups, domain.ActionMeta{
		Title:       "Leave communities",
		Description: "Leave communities except the ones to keep.",
	}, true, x.leaveGroupsCandidates, x.leaveGroups)
	register(r, domain.ActionBirthdayGreetings, domain.ActionMeta{
		Title:       "Birthday greetings",
		Description: "Congratulate friends whose birthday is today, once a year each.",
	}, false, x.birthdayCandidates, x.birthdayGreetings)
	return r
}

// register binds a typed executor into the registry.
func register[P any](
	r *ActionRegistry,
	kind domain.ActionKind,
	meta domain.ActionMeta,
	batch bool,
	candidates func(context.Context, *Execution, *P) ([]domain.Target, error),
	execute func(context.Context, *Execution, *P) (domain.ActionSummary, error),
) {
	r.actions[kind] = &actionDescriptor{
		kind:   kind,
		meta:   meta,
		batch:  batch,
		params: describeParams(reflect.TypeFor[P]()),
		decode: func(raw domain.Params) (any, error) {
			return decodeParams[P](r.validate, raw)
		},
		candidates: func(ctx context.Context, ex *Execution, p any) ([]domain.Target, error) {
			return candidates(ctx, ex, p.(*P))
		},
		execute: func(ctx context.Context, ex *Execution, p any) (domain.ActionSummary, error) {
			return execute(ctx, ex, p.(*P))
		},
	}
	r.order = append(r.order, kind)
}

// defaulter lets a params struct fill defaults before decoding.
type defaulter interface {
	setDefaults()
}

func decodeParams[P any](v *validator.Validate, raw domain.Params) (*P, error) {
	p := new(P)
	if d, ok := any(p).(defaulter); ok {
		d.setDefaults()
	}
	if len(raw) > 0 {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidParams, err)
		}
		if err := json.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidParams, err)
		}
	}
	if err := v.Struct(p); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidParams, describeValidation(err))
	}
	return p, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

func describeParams(t reflect.Type) []ParamInfo {
	var out []ParamInfo
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		out = append(out, ParamInfo{
			Name:  jsonFieldName(f),
			Type:  f.Type.String(),
			Rules: f.Tag.Get("validate"),
		})
	}
	return out
}

func (r *ActionRegistry) lookup(kind domain.ActionKind) (*actionDescriptor, error) {
	d, ok := r.actions[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownAction, kind)
	}
	return d, nil
}

// Has reports whether kind is a registered executor.
func (r *ActionRegistry) Has(kind domain.ActionKind) bool {
	_, ok := r.actions[kind]
	return ok
}

// Kinds lists registered actions in registration order.
func (r *ActionRegistry) Kinds() []domain.ActionKind {
	return append([]domain.ActionKind(nil), r.order...)
}

// Describe lists actions with display metadata, applying overrides by kind.
func (r *ActionRegistry) Describe(overrides map[domain.ActionKind]domain.ActionMeta) []ActionInfo {
	out := make([]ActionInfo, 0, len(r.order))
	for _, kind := range r.order {
		d := r.actions[kind]
		meta := d.meta
		if o, ok := overrides[kind]; ok {
			if o.Title != "" {
				meta.Title = o.Title
			}
			if o.Description != "" {
				meta.Description = o.Description
			}
		}
		out = append(out, ActionInfo{
			Kind:        kind,
			Title:       meta.Title,
			Description: meta.Description,
			Batch:       d.batch,
			Params:      d.params,
		})
	}
	return out
}

// Validate checks params against the action's schema without running anything.
func (r *ActionRegistry) Validate(kind domain.ActionKind, params domain.Params) error {
	d, err := r.lookup(kind)
	if err != nil {
		return err
	}
	_, err = d.decode(params)
	return err
}

// Candidates runs the action's query-only target lookup.
func (r *ActionRegistry) Candidates(ctx context.Context, ex *Execution, kind domain.ActionKind, params domain.Params) ([]domain.Target, error) {
	d, err := r.lookup(kind)
	if err != nil {
		return nil, err
	}
	p, err := d.decode(params)
	if err != nil {
		return nil, err
	}
	return d.candidates(ctx, ex, p)
}

// Execute runs the action for the execution's owner.
func (r *ActionRegistry) Execute(ctx context.Context, ex *Execution, kind domain.ActionKind, params domain.Params) (domain.ActionSummary, error) {
	d, err := r.lookup(kind)
	if err != nil {
		return domain.ActionSummary{Action: kind}, err
	}
	p, err := d.decode(params)
	if err != nil {
		return domain.ActionSummary{Action: kind}, err
	}
	return d.execute(ctx, ex, p)
}
