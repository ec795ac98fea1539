package retry

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HintFunc extracts a vendor-mandated wait from a failure.
// It returns 0 when the failure carries no usable hint.
type HintFunc func(err error) time.Duration

// ThrottleHint reads RetryAfter from a ThrottleError.
func ThrottleHint(err error) time.Duration {
	if te, ok := AsThrottle(err); ok && te.RetryAfter > 0 {
		return te.RetryAfter
	}
	return 0
}

// HeaderHint reads the first present header out of names from a failure that
// implements HeaderCarrier.
func HeaderHint(names ...string) HintFunc {
	return func(err error) time.Duration {
		var hc HeaderCarrier
		if !errors.As(err, &hc) {
			return 0
		}
		headers := hc.ResponseHeaders()
		if headers == nil {
			return 0
		}
		for _, name := range names {
			if d := ParseRetryAfter(headers.Get(name), time.Now()); d > 0 {
				return d
			}
		}
		return 0
	}
}

// ParseRetryAfter parses a wait hint given either as (fractional) seconds or
// as an HTTP date. Unparseable or past values yield 0.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
