// Package retry runs a unit of work under a backoff policy, a wall-clock
// budget and a kill switch (the context).
//
// A session moves through Ready → Attempting → {Success, Retrying →
// Attempting, Cancelled, Exhausted}. The budget is checked before every
// backoff wait and takes precedence over the remaining attempts. Vendor
// variants replace the computed delay with a server-supplied wait hint when
// the failure carries one.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/adfetch/pkg/backoff"
	"github.com/Sternrassler/adfetch/pkg/budget"
	"github.com/rs/zerolog"
)

// Config holds the configuration of a retry session.
type Config struct {
	// Name labels log lines and metrics (usually the vendor name).
	Name string

	// Policy is the backoff schedule and attempt ceiling.
	Policy backoff.Policy

	// Budget is the wall-clock budget shared by the work item. Nil means unlimited.
	Budget *budget.Budget

	// Logger receives retry events. The zero value discards them.
	Logger zerolog.Logger
}

// Session is one retry session. Construct a new Session for every unit of
// work; the attempt counter never resets within a session.
type Session struct {
	name   string
	state  *backoff.State
	budget *budget.Budget
	hints  []HintFunc
	logger zerolog.Logger
}

// New creates a base session that always uses the policy schedule.
func New(cfg Config, hints ...HintFunc) *Session {
	name := cfg.Name
	if name == "" {
		name = "default"
	}
	return &Session{
		name:   name,
		state:  cfg.Policy.NewState(),
		budget: cfg.Budget,
		hints:  hints,
		logger: cfg.Logger.With().Str("session", name).Logger(),
	}
}

// NewThrottleAware creates a session that honors ThrottleError wait hints.
func NewThrottleAware(cfg Config) *Session {
	return New(cfg, ThrottleHint)
}

// NewHeaderAware creates a session that honors wait hints found in the given
// response headers and in ThrottleError signals.
func NewHeaderAware(cfg Config, headers ...string) *Session {
	return New(cfg, ThrottleHint, HeaderHint(headers...))
}

// Attempt returns the number of retries performed so far.
func (s *Session) Attempt() int {
	return s.state.Attempt()
}

// Do runs fn until it succeeds, the attempts are exhausted, the budget runs
// out or ctx is cancelled.
func Do[T any](ctx context.Context, s *Session, fn func(ctx context.Context) (T, error)) (T, error) {
	return DoUntil(ctx, s, fn, nil)
}

// DoUntil is the conditional variant of Do: a successful result for which
// accept returns false is treated as a failure and retried. When the session
// gives up on an unacceptable result, that last result is returned together
// with an error wrapping ErrNotAccepted.
func DoUntil[T any](ctx context.Context, s *Session, fn func(ctx context.Context) (T, error), accept func(T) bool) (T, error) {
	for {
		val, err := fn(ctx)
		if err == nil && (accept == nil || accept(val)) {
			if s.state.Attempt() > 0 {
				s.logger.Info().
					Int("attempt", s.state.Attempt()+1).
					Msg("Succeeded after retry")
			}
			return val, nil
		}
		if err == nil {
			err = ErrNotAccepted
		}

		delay, stop := s.next(err)
		if stop != nil {
			return val, stop
		}

		select {
		case <-ctx.Done():
			s.logger.Warn().
				Int("attempt", s.state.Attempt()).
				Msg("Context cancelled during retry backoff")
			return val, fmt.Errorf("%w: %w", ErrContextCancelled, errors.Join(ctx.Err(), err))
		case <-time.After(delay):
		}
	}
}

// next decides what happens after a failed attempt: it returns either the
// delay before the next attempt or the error that ends the session.
func (s *Session) next(err error) (time.Duration, error) {
	if IsPermanent(err) {
		s.logger.Debug().Err(err).Msg("Permanent failure, not retrying")
		return 0, err
	}

	if s.budget.Exceeded() {
		retryCancelledTotal.WithLabelValues(s.name).Inc()
		s.logger.Warn().
			Err(err).
			Int("attempt", s.state.Attempt()+1).
			Dur("elapsed", s.budget.Elapsed()).
			Dur("budget", s.budget.Max()).
			Msg("Retry budget exceeded")
		return 0, fmt.Errorf("%w: %w", ErrBudgetExceeded, err)
	}

	if s.state.Exhausted() {
		retryExhaustedTotal.WithLabelValues(s.name).Inc()
		s.logger.Error().
			Err(err).
			Int("max_attempts", s.state.MaxAttempts()).
			Msg("Retry attempts exhausted")
		return 0, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, s.state.MaxAttempts(), err)
	}

	source := "schedule"
	for _, hint := range s.hints {
		if d := hint(err); d > 0 {
			s.state.Override(d)
			source = "vendor"
			break
		}
	}
	delay := s.state.Next()

	retriesTotal.WithLabelValues(s.name).Inc()
	retryBackoffSeconds.WithLabelValues(s.name, source).Observe(delay.Seconds())

	s.logger.Warn().
		Err(err).
		Int("attempt", s.state.Attempt()).
		Dur("backoff", delay).
		Str("source", source).
		Msg("Retrying after backoff")

	return delay, nil
}
