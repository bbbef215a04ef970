package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ActionKind identifies one category of external action.
type ActionKind string

const (
	ActionAddFriends        ActionKind = "add_friends"
	ActionSendMessages      ActionKind = "send_messages"
	ActionLikePosts         ActionKind = "like_posts"
	ActionJoinGroups        ActionKind = "join_groups"
	ActionLeaveGroups       ActionKind = "leave_groups"
	ActionBirthdayGreetings ActionKind = "birthday_greetings"

	// ActionRunScenario is the job kind for a scenario graph run.
	ActionRunScenario ActionKind = "run_scenario"
)

// ActionKinds lists every job kind, executors first.
func ActionKinds() []ActionKind {
	return []ActionKind{
		ActionAddFriends, ActionSendMessages, ActionLikePosts,
		ActionJoinGroups, ActionLeaveGroups, ActionBirthdayGreetings, ActionRunScenario,
	}
}

// Known reports whether k is one of ActionKinds.
func (k ActionKind) Known() bool {
	for _, known := range ActionKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Target is one candidate an executor acts upon, in candidate order.
type Target struct {
	ID   string         `json:"id"`
	Name string         `json:"name,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// ActionSummary is what an executor reports back to the job boundary.
type ActionSummary struct {
	Action    ActionKind `json:"action"`
	Requested int        `json:"requested"`
	Succeeded int        `json:"succeeded"`
	Skipped   int        `json:"skipped"`
	Denied    int        `json:"denied"`
	Partial   bool       `json:"partial"`
	Reason    string     `json:"reason,omitempty"`
}

// Message renders the summary as the human-readable job result.
func (s ActionSummary) Message() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d of %d done", s.Action, s.Succeeded, s.Requested)
	if s.Skipped > 0 {
		fmt.Fprintf(&b, ", %d skipped", s.Skipped)
	}
	if s.Denied > 0 {
		fmt.Fprintf(&b, ", %d unreachable", s.Denied)
	}
	if s.Partial {
		b.WriteString(" (partial")
		if s.Reason != "" {
			b.WriteString(": ")
			b.WriteString(s.Reason)
		}
		b.WriteString(")")
	}
	return b.String()
}

var (
	ErrUnknownAction   = errors.New("unknown action kind")
	ErrInvalidParams   = errors.New("invalid action parameters")
	ErrQuotaExceeded   = errors.New("daily limit exhausted")
	ErrFeatureDisabled = errors.New("action not enabled for plan")
)
