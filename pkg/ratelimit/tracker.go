package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/adfetch/pkg/retry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// TelemetryConfig names the vendor's utilization headers.
type TelemetryConfig struct {
	// Vendor labels metrics and namespaces the Redis keys.
	Vendor string

	// UsageHeader carries either a plain percentage ("87.5") or a JSON object.
	UsageHeader string

	// UsageFields are gjson paths into a JSON usage header. The highest value wins.
	UsageFields []string

	// ResetHeader carries the seconds until usage resets.
	ResetHeader string

	// ResetField is a gjson path into a JSON usage header with the minutes
	// until access is regained. Used when ResetHeader is absent.
	ResetField string

	// DefaultWait is the throttle hint when the vendor gives no reset time.
	DefaultWait time.Duration

	// MaxStateAge bounds how old a shared reading may be before Check ignores it.
	MaxStateAge time.Duration
}

// DefaultMaxStateAge is used when TelemetryConfig.MaxStateAge is unset.
const DefaultMaxStateAge = time.Hour

// Tracker records vendor utilization telemetry and gates requests while the
// vendor is above the critical mark. State is shared through Redis when a
// client is set; otherwise it is kept in memory.
type Tracker struct {
	redis  *redis.Client
	cfg    TelemetryConfig
	logger zerolog.Logger

	mu    sync.RWMutex
	local *UtilizationState
}

// NewTracker creates a new utilization tracker. redisClient may be nil.
func NewTracker(redisClient *redis.Client, cfg TelemetryConfig, logger zerolog.Logger) *Tracker {
	if cfg.DefaultWait <= 0 {
		cfg.DefaultWait = 60 * time.Second
	}
	if cfg.MaxStateAge <= 0 {
		cfg.MaxStateAge = DefaultMaxStateAge
	}
	if cfg.Vendor == "" {
		cfg.Vendor = "default"
	}
	return &Tracker{
		redis:  redisClient,
		cfg:    cfg,
		logger: logger.With().Str("vendor", cfg.Vendor).Logger(),
	}
}

func (t *Tracker) key(suffix string) string {
	return "ingest:rate_limit:" + t.cfg.Vendor + ":" + suffix
}

// GetState returns the last recorded utilization state, or a zero-utilization
// state when nothing was recorded yet.
func (t *Tracker) GetState(ctx context.Context) (*UtilizationState, error) {
	if t.redis == nil {
		t.mu.RLock()
		defer t.mu.RUnlock()
		if t.local == nil {
			return &UtilizationState{LastUpdate: time.Now()}, nil
		}
		s := *t.local
		return &s, nil
	}

	pct, err := t.redis.Get(ctx, t.key(RedisKeyUtilization)).Float64()
	if err == redis.Nil {
		t.logger.Debug().Msg("No utilization state in Redis, assuming idle vendor")
		return &UtilizationState{LastUpdate: time.Now()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get utilization: %w", err)
	}

	resetTimestamp, err := t.redis.Get(ctx, t.key(RedisKeyResetAt)).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get reset timestamp: %w", err)
	}

	var lastUpdate time.Time
	lastUpdateStr, err := t.redis.Get(ctx, t.key(RedisKeyLastUpdate)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get last update: %w", err)
	}
	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &lastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	return &UtilizationState{
		UtilizationPct: pct,
		ResetAt:        time.Unix(resetTimestamp, 0),
		LastUpdate:     lastUpdate,
	}, nil
}

// ParseHeaders extracts a utilization reading from response headers.
// ok is false when the response carries no usage header.
func (t *Tracker) ParseHeaders(headers http.Header) (state *UtilizationState, ok bool, err error) {
	if t.cfg.UsageHeader == "" {
		return nil, false, nil
	}
	raw := strings.TrimSpace(headers.Get(t.cfg.UsageHeader))
	if raw == "" {
		return nil, false, nil
	}

	now := time.Now()
	state = &UtilizationState{LastUpdate: now}
	var resetIn time.Duration

	if gjson.Valid(raw) && (strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[")) {
		for _, path := range t.cfg.UsageFields {
			for _, v := range gjson.Get(raw, path).Array() {
				if v.Float() > state.UtilizationPct {
					state.UtilizationPct = v.Float()
				}
			}
		}
		if t.cfg.ResetField != "" {
			for _, v := range gjson.Get(raw, t.cfg.ResetField).Array() {
				if d := time.Duration(v.Float() * float64(time.Minute)); d > resetIn {
					resetIn = d
				}
			}
		}
	} else {
		pct, err := strconv.ParseFloat(strings.TrimSuffix(raw, "%"), 64)
		if err != nil {
			return nil, false, fmt.Errorf("parse %s header: %w", t.cfg.UsageHeader, err)
		}
		state.UtilizationPct = pct
	}

	if t.cfg.ResetHeader != "" {
		if resetStr := headers.Get(t.cfg.ResetHeader); resetStr != "" {
			secs, err := strconv.ParseFloat(resetStr, 64)
			if err != nil {
				return nil, false, fmt.Errorf("parse %s header: %w", t.cfg.ResetHeader, err)
			}
			resetIn = time.Duration(secs * float64(time.Second))
		}
	}
	if resetIn <= 0 && state.NeedsThrottle() {
		resetIn = t.cfg.DefaultWait
	}
	state.ResetAt = now.Add(resetIn)

	return state, true, nil
}

// UpdateFromHeaders records the utilization reading of a response. Above the
// critical mark it returns a *retry.ThrottleError carrying the vendor's wait.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	state, ok, err := t.ParseHeaders(headers)
	if err != nil || !ok {
		return err
	}

	if err := t.store(ctx, state); err != nil {
		return err
	}
	utilizationPct.WithLabelValues(t.cfg.Vendor).Set(state.UtilizationPct)

	switch {
	case state.NeedsThrottle():
		utilizationThrottlesTotal.WithLabelValues(t.cfg.Vendor).Inc()
		t.logger.Error().
			Float64("utilization_pct", state.UtilizationPct).
			Time("reset_at", state.ResetAt).
			Msg("Vendor utilization CRITICAL - throttling")
		return &retry.ThrottleError{
			RetryAfter: state.TimeUntilReset(),
			Reason:     fmt.Sprintf("utilization %.1f%%", state.UtilizationPct),
		}
	case state.NeedsWarning():
		utilizationWarningsTotal.WithLabelValues(t.cfg.Vendor).Inc()
		t.logger.Warn().
			Float64("utilization_pct", state.UtilizationPct).
			Msg("Vendor utilization WARNING - close to rate ceiling")
	default:
		t.logger.Debug().
			Float64("utilization_pct", state.UtilizationPct).
			Msg("Vendor utilization updated")
	}
	return nil
}

// Check returns a *retry.ThrottleError while the last reading is above the
// critical mark and its reset time has not passed yet. Readings older than
// MaxStateAge are ignored.
func (t *Tracker) Check(ctx context.Context) error {
	state, err := t.GetState(ctx)
	if err != nil {
		return fmt.Errorf("get utilization state: %w", err)
	}
	if !state.NeedsThrottle() {
		return nil
	}
	if state.IsStale(t.cfg.MaxStateAge) {
		t.logger.Debug().
			Float64("utilization_pct", state.UtilizationPct).
			Time("last_update", state.LastUpdate).
			Msg("Ignoring stale utilization reading")
		return nil
	}
	wait := state.TimeUntilReset()
	if wait <= 0 {
		return nil
	}

	t.logger.Warn().
		Float64("utilization_pct", state.UtilizationPct).
		Dur("wait_duration", wait).
		Msg("Vendor utilization critical - holding request")
	return &retry.ThrottleError{
		RetryAfter: wait,
		Reason:     fmt.Sprintf("utilization %.1f%% until reset", state.UtilizationPct),
	}
}

func (t *Tracker) store(ctx context.Context, state *UtilizationState) error {
	if t.redis == nil {
		t.mu.Lock()
		s := *state
		t.local = &s
		t.mu.Unlock()
		return nil
	}

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, t.key(RedisKeyUtilization), state.UtilizationPct, 0)
	pipe.Set(ctx, t.key(RedisKeyResetAt), state.ResetAt.Unix(), 0)
	pipe.Set(ctx, t.key(RedisKeyLastUpdate), lastUpdateJSON, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store utilization state in redis: %w", err)
	}
	return nil
}
