package services

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/manthysbr/socialpilot/internal/core/domain"
)

// ProfileTiming holds the delay parameters of one speed profile.
type ProfileTiming struct {
	Base             time.Duration
	Variance         float64 // delay is scaled by uniform(1-v, 1+v)
	Reading          time.Duration
	BurstProbability float64
}

var profileTimings = map[domain.SpeedProfile]ProfileTiming{
	domain.SpeedSlow:   {Base: 40 * time.Second, Variance: 0.35, Reading: 8 * time.Second, BurstProbability: 0.03},
	domain.SpeedNormal: {Base: 22 * time.Second, Variance: 0.30, Reading: 5 * time.Second, BurstProbability: 0.08},
	domain.SpeedFast:   {Base: 12 * time.Second, Variance: 0.25, Reading: 3 * time.Second, BurstProbability: 0.12},
	domain.SpeedTurbo:  {Base: 6 * time.Second, Variance: 0.20, Reading: 2 * time.Second, BurstProbability: 0.18},
}

// kindWeights scale the base delay per action kind. Writing to people is slower than liking.
var kindWeights = map[domain.ActionKind]float64{
	domain.ActionAddFriends:        1.2,
	domain.ActionSendMessages:      1.5,
	domain.ActionLikePosts:         0.6,
	domain.ActionJoinGroups:        1.1,
	domain.ActionLeaveGroups:       0.7,
	domain.ActionBirthdayGreetings: 1.5,
}

const (
	maxFatigue       = 1.8
	hesitationChance = 0.10
	minHesitation    = 5 * time.Second
	maxHesitation    = 12 * time.Second
	minBurstActions  = 3
	maxBurstActions  = 8
	minBurstFactor   = 0.2
	maxBurstFactor   = 0.4
)

// TimingFor returns the timing of profile, falling back to normal.
func TimingFor(profile domain.SpeedProfile) ProfileTiming {
	if t, ok := profileTimings[profile]; ok {
		return t
	}
	return profileTimings[domain.SpeedNormal]
}

// Fatigue grows with the work done in a session and is capped.
func Fatigue(actions int, elapsed time.Duration) float64 {
	f := 1 + 0.007*float64(actions) + 0.015*elapsed.Minutes()
	return min(f, maxFatigue)
}

// TimeOfDayFactor scales delays by the owner-local hour.
func TimeOfDayFactor(hour int) float64 {
	switch {
	case hour >= 1 && hour < 5:
		return 0.8
	case hour >= 5 && hour < 10:
		return 1.1
	case hour >= 10 && hour < 18:
		return 1.0
	case hour >= 18 && hour < 23:
		return 1.25
	default:
		return 1.0
	}
}

// Sleeper suspends the caller for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Pacer computes human-like delays for one job run. It is not shared across jobs
// and is not safe for concurrent use.
type Pacer struct {
	timing  ProfileTiming
	rng     *rand.Rand
	now     func() time.Time
	sleep   Sleeper
	loc     *time.Location
	started time.Time

	actions   int
	burstLeft int
}

type PacerOption func(*Pacer)

// WithSeed makes the delay sequence reproducible.
func WithSeed(seed uint64) PacerOption {
	return func(p *Pacer) { p.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

func WithClock(now func() time.Time) PacerOption {
	return func(p *Pacer) { p.now = now }
}

func WithSleeper(s Sleeper) PacerOption {
	return func(p *Pacer) { p.sleep = s }
}

// WithLocation sets the zone used for the time-of-day factor.
func WithLocation(loc *time.Location) PacerOption {
	return func(p *Pacer) {
		if loc != nil {
			p.loc = loc
		}
	}
}

func NewPacer(profile domain.SpeedProfile, opts ...PacerOption) *Pacer {
	p := &Pacer{
		timing: TimingFor(profile),
		now:    time.Now,
		sleep:  sleepContext,
		loc:    time.UTC,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.rng == nil {
		p.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	p.started = p.now()
	return p
}

func (p *Pacer) uniform(lo, hi float64) float64 {
	return lo + p.rng.Float64()*(hi-lo)
}

// NextDelay computes the pause before the next action of kind and advances the
// session counters.
func (p *Pacer) NextDelay(kind domain.ActionKind) time.Duration {
	weight, ok := kindWeights[kind]
	if !ok {
		weight = 1
	}
	now := p.now()
	v := p.timing.Variance

	d := float64(p.timing.Base) * weight
	d *= Fatigue(p.actions, now.Sub(p.started))
	d *= TimeOfDayFactor(now.In(p.loc).Hour())
	d *= p.uniform(1-v, 1+v)

	if p.burstLeft > 0 {
		d *= p.uniform(minBurstFactor, maxBurstFactor)
		p.burstLeft--
	} else if p.rng.Float64() < hesitationChance {
		d += p.uniform(float64(minHesitation), float64(maxHesitation))
	}

	p.actions++
	return time.Duration(max(d, 0))
}

// ReadingDelay computes the pause for looking at content and may start a burst.
func (p *Pacer) ReadingDelay() time.Duration {
	if p.burstLeft == 0 && p.rng.Float64() < p.timing.BurstProbability {
		p.burstLeft = minBurstActions + p.rng.IntN(maxBurstActions-minBurstActions+1)
	}
	d := float64(p.timing.Reading) * p.uniform(0.5, 1.5)
	return time.Duration(max(d, 0))
}

// DelayBeforeAction sleeps before one action. The error only reports cancellation.
func (p *Pacer) DelayBeforeAction(ctx context.Context, kind domain.ActionKind) error {
	return p.sleep(ctx, p.NextDelay(kind))
}

// DelayForReadingContent sleeps while content is "read".
func (p *Pacer) DelayForReadingContent(ctx context.Context) error {
	return p.sleep(ctx, p.ReadingDelay())
}

// Actions is the number of delays handed out so far.
func (p *Pacer) Actions() int { return p.actions }

// InBurst reports how many more actions run at burst speed.
func (p *Pacer) InBurst() int { return p.burstLeft }
