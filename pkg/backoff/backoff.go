// Package backoff computes retry delays for a single retry session.
//
// The exponential schedule comes from cenkalti/backoff; jitter is applied on
// top of it from a session-local random source so that a fixed Seed yields a
// reproducible sequence.
package backoff

import (
	"math/rand"
	"time"

	cbackoff "github.com/cenkalti/backoff/v5"
)

// Policy describes the delay schedule between retry attempts.
type Policy struct {
	// MaxAttempts is the maximum number of attempts (including the first one).
	MaxAttempts int

	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration

	// MaxInterval caps every computed delay.
	MaxInterval time.Duration

	// Multiplier grows the delay after each retry.
	Multiplier float64

	// Jitter is the randomization factor in [0, 1): a delay d is drawn
	// uniformly from [d*(1-Jitter), d*(1+Jitter)].
	Jitter float64

	// Seed makes the jitter sequence deterministic when non-zero.
	Seed int64
}

// DefaultPolicy returns the default retry schedule.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     5,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		Jitter:          0.2,
	}
}

// State is the mutable backoff state of one retry session.
// It is not safe for concurrent use; every session owns its own State.
type State struct {
	policy   Policy
	attempt  int
	schedule *cbackoff.ExponentialBackOff
	rng      *rand.Rand
	override time.Duration
}

// NewState starts a fresh backoff state with the attempt counter at zero.
func (p Policy) NewState() *State {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter >= 1 {
		p.Jitter = 0.99
	}

	schedule := cbackoff.NewExponentialBackOff()
	schedule.InitialInterval = p.InitialInterval
	schedule.MaxInterval = p.MaxInterval
	schedule.Multiplier = p.Multiplier
	// jitter is applied by State so it can be seeded
	schedule.RandomizationFactor = 0
	if schedule.MaxInterval < schedule.InitialInterval {
		schedule.MaxInterval = schedule.InitialInterval
	}
	schedule.Reset()

	seed := p.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &State{
		policy:   p,
		schedule: schedule,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Attempt returns the number of delays handed out so far.
func (s *State) Attempt() int {
	return s.attempt
}

// MaxAttempts returns the attempt ceiling of the policy.
func (s *State) MaxAttempts() int {
	return s.policy.MaxAttempts
}

// Exhausted reports whether another attempt would exceed MaxAttempts.
func (s *State) Exhausted() bool {
	return s.attempt+1 >= s.policy.MaxAttempts
}

// Override makes the next call to Next return d instead of the schedule.
// Non-positive values are ignored.
func (s *State) Override(d time.Duration) {
	if d > 0 {
		s.override = d
	}
}

// Next returns the delay before the next attempt and advances the counter.
// A pending override is returned verbatim and consumed; the exponential
// schedule still advances so that later delays keep growing.
func (s *State) Next() time.Duration {
	s.attempt++

	base := s.schedule.NextBackOff()
	if s.override > 0 {
		d := s.override
		s.override = 0
		return d
	}

	if s.policy.Jitter == 0 || base <= 0 {
		return base
	}

	delta := s.policy.Jitter * float64(base)
	low := float64(base) - delta
	return time.Duration(low + s.rng.Float64()*2*delta)
}
