package domain

import (
	"errors"
	"time"
)

type OwnerID string

// SpeedProfile selects the pacing base delays for an owner.
type SpeedProfile string

const (
	SpeedSlow   SpeedProfile = "slow"
	SpeedNormal SpeedProfile = "normal"
	SpeedFast   SpeedProfile = "fast"
	SpeedTurbo  SpeedProfile = "turbo"
)

// Valid reports whether p names a known profile.
func (p SpeedProfile) Valid() bool {
	switch p {
	case SpeedSlow, SpeedNormal, SpeedFast, SpeedTurbo:
		return true
	}
	return false
}

// Owner is the account on whose behalf jobs run.
type Owner struct {
	ID             OwnerID            `json:"id"`
	AccessToken    string             `json:"access_token,omitempty"` // encrypted in storage
	ProxyURL       string             `json:"proxy_url,omitempty"`
	Plan           string             `json:"plan"`
	Timezone       string             `json:"timezone"` // IANA name, e.g. "Europe/Moscow"
	Profile        SpeedProfile       `json:"profile"`
	LimitOverrides map[ActionKind]int `json:"limit_overrides,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Location resolves the owner's timezone, falling back to UTC.
func (o Owner) Location() *time.Location {
	if o.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(o.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

var ErrOwnerNotFound = errors.New("owner not found")
