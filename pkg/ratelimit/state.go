// Package ratelimit keeps vendor calls under their documented ceilings.
//
// Throttle admits requests in fixed windows. Tracker watches the
// utilization telemetry vendors return in response headers and turns a
// near-ceiling reading into a throttle signal for the retry layer.
package ratelimit

import (
	"time"
)

// Redis key suffixes for shared utilization state. The full key is
// "ingest:rate_limit:<vendor>:<suffix>".
const (
	RedisKeyUtilization = "utilization_pct"
	RedisKeyResetAt     = "reset_at"
	RedisKeyLastUpdate  = "last_update"
)

// Thresholds for utilization decisions, in percent of the vendor ceiling.
const (
	// UtilizationThresholdWarning logs a warning when crossed. Requests continue.
	UtilizationThresholdWarning = 90.0

	// UtilizationThresholdCritical raises a throttle signal when crossed.
	UtilizationThresholdCritical = 95.0
)

// UtilizationState is the last utilization reading reported by a vendor.
type UtilizationState struct {
	// UtilizationPct is the highest utilization among the tracked usage fields.
	UtilizationPct float64 `json:"utilization_pct"`

	// ResetAt is when the vendor expects usage to drop again.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when the reading was taken.
	LastUpdate time.Time `json:"last_update"`
}

// IsStale returns true if the reading is older than maxAge.
func (s *UtilizationState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsThrottle returns true above the critical mark.
func (s *UtilizationState) NeedsThrottle() bool {
	return s.UtilizationPct > UtilizationThresholdCritical
}

// NeedsWarning returns true above the warning mark but not above the critical mark.
func (s *UtilizationState) NeedsWarning() bool {
	return s.UtilizationPct > UtilizationThresholdWarning && !s.NeedsThrottle()
}

// TimeUntilReset returns the duration until the utilization resets.
// Returns 0 if the reset time has already passed.
func (s *UtilizationState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}
