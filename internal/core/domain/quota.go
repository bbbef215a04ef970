package domain

import (
	"strconv"
	"time"
)

// DailyQuota counts completed units of one action for one owner on one local date.
type DailyQuota struct {
	OwnerID OwnerID    `json:"owner_id"`
	Date    string     `json:"date"` // YYYY-MM-DD in the owner's timezone
	Action  ActionKind `json:"action"`
	Count   int        `json:"count"`
}

// QuotaDate is the date key for t in loc.
func QuotaDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(time.DateOnly)
}

// TargetClaim is a short-lived exclusive hold on acting against one target.
type TargetClaim struct {
	OwnerID   OwnerID   `json:"owner_id"`
	TargetID  string    `json:"target_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DefaultClaimTTL is how long a claim on a target lives.
const DefaultClaimTTL = time.Hour

// DedupeRecord marks a one-time side effect as done for a period.
type DedupeRecord struct {
	OwnerID   OwnerID   `json:"owner_id"`
	TargetID  string    `json:"target_id"`
	Period    string    `json:"period"`
	CreatedAt time.Time `json:"created_at"`
}

// YearPeriod is the dedupe period key for yearly side effects.
func YearPeriod(t time.Time, loc *time.Location) string {
	return strconv.Itoa(t.In(loc).Year())
}
