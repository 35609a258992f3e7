// Package bucket implements the distributed token bucket shared by all
// coordinator processes through the store.
package bucket

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/marketprism/rategov/internal/exchange"
	"github.com/marketprism/rategov/internal/store"
)

// Persisted hash field names. Stable across deployments.
const (
	fieldTokens     = "current_tokens"
	fieldLastRefill = "last_refill_timestamp"
)

// bucketTTL lets idle bucket state expire and self-heal.
const bucketTTL = time.Hour

// Decision is the outcome of one consume attempt.
type Decision struct {
	Granted   bool
	Remaining float64       // Tokens left after the attempt.
	Capacity  float64       // Bucket capacity.
	WaitTime  time.Duration // Hint until enough tokens refill; zero when granted.
}

// Manager maintains one logical bucket per (exchange, call kind).
//
// The read-modify-write against the store is not transactional across
// processes: concurrent consumers may over-admit slightly under contention.
// That approximation is accepted; the per-IP counters are the hard stop.
type Manager struct {
	store store.Store
	nowFn func() time.Time
}

// NewManager constructs a Manager. A nil nowFn defaults to time.Now.
func NewManager(st store.Store, nowFn func() time.Time) *Manager {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Manager{store: st, nowFn: nowFn}
}

// params derives capacity and refill rate (tokens/second) from the
// exchange's static limits for one call kind.
func params(limits exchange.Limits, kind exchange.CallKind) (capacity, rate float64) {
	switch kind {
	case exchange.KindOrder:
		capacity = float64(limits.OrdersPerSecond)
		rate = float64(limits.OrdersPerSecond)
	case exchange.KindStream:
		capacity = float64(limits.MaxWSConnections)
		rate = capacity / 60
	default:
		capacity = float64(limits.WeightPerMinute)
		rate = capacity / 60
	}
	if capacity <= 0 {
		capacity = 1
	}
	if rate <= 0 {
		rate = capacity / 60
	}
	return capacity, rate
}

func bucketKey(exchangeName string, kind exchange.CallKind) string {
	return fmt.Sprintf("bucket:%s:%s", exchange.Normalize(exchangeName), kind)
}

// Consume attempts to take weight tokens from the (exchange, kind) bucket.
// A denial with a nil error means over quota; a non-nil error means the
// backing store failed and the caller decides the degraded behavior.
func (m *Manager) Consume(ctx context.Context, exchangeName string, kind exchange.CallKind, weight int) (Decision, error) {
	limits, known := exchange.LimitsFor(exchangeName)
	if !known {
		return Decision{}, fmt.Errorf("bucket: unknown exchange: %s", exchangeName)
	}
	capacity, rate := params(limits, kind)
	key := bucketKey(exchangeName, kind)
	now := m.nowFn()

	state, errRead := m.store.HGetAll(ctx, key)
	if errRead != nil {
		return Decision{}, fmt.Errorf("bucket: read %s: %w", key, errRead)
	}

	tokens := capacity
	lastRefill := now
	if raw, ok := state[fieldTokens]; ok {
		if parsed, errParse := strconv.ParseFloat(raw, 64); errParse == nil {
			tokens = parsed
		}
	}
	if raw, ok := state[fieldLastRefill]; ok {
		if parsed, errParse := strconv.ParseFloat(raw, 64); errParse == nil {
			lastRefill = time.Unix(0, int64(parsed*float64(time.Second)))
		}
	}

	if elapsed := now.Sub(lastRefill).Seconds(); elapsed > 0 {
		tokens += elapsed * rate
	}
	if tokens > capacity {
		tokens = capacity
	}

	decision := Decision{Capacity: capacity}
	cost := float64(weight)
	if tokens >= cost {
		decision.Granted = true
		tokens -= cost
	} else {
		missing := cost - tokens
		decision.WaitTime = time.Duration(missing / rate * float64(time.Second))
		if decision.WaitTime <= 0 {
			decision.WaitTime = time.Second
		}
	}
	decision.Remaining = tokens

	fields := map[string]string{
		fieldTokens:     strconv.FormatFloat(tokens, 'f', 6, 64),
		fieldLastRefill: strconv.FormatFloat(float64(now.UnixNano())/float64(time.Second), 'f', 6, 64),
	}
	if errWrite := m.store.HSet(ctx, key, fields); errWrite != nil {
		return Decision{}, fmt.Errorf("bucket: write %s: %w", key, errWrite)
	}
	if errExpire := m.store.Expire(ctx, key, bucketTTL); errExpire != nil {
		return Decision{}, fmt.Errorf("bucket: expire %s: %w", key, errExpire)
	}
	return decision, nil
}

// Remaining reads the current token count without consuming.
func (m *Manager) Remaining(ctx context.Context, exchangeName string, kind exchange.CallKind) (float64, float64, error) {
	limits, known := exchange.LimitsFor(exchangeName)
	if !known {
		return 0, 0, fmt.Errorf("bucket: unknown exchange: %s", exchangeName)
	}
	capacity, rate := params(limits, kind)
	state, errRead := m.store.HGetAll(ctx, bucketKey(exchangeName, kind))
	if errRead != nil {
		return 0, capacity, fmt.Errorf("bucket: read: %w", errRead)
	}
	tokens := capacity
	if raw, ok := state[fieldTokens]; ok {
		if parsed, errParse := strconv.ParseFloat(raw, 64); errParse == nil {
			tokens = parsed
		}
	}
	if raw, ok := state[fieldLastRefill]; ok {
		if parsed, errParse := strconv.ParseFloat(raw, 64); errParse == nil {
			last := time.Unix(0, int64(parsed*float64(time.Second)))
			if elapsed := m.nowFn().Sub(last).Seconds(); elapsed > 0 {
				tokens += elapsed * rate
			}
		}
	}
	if tokens > capacity {
		tokens = capacity
	}
	return tokens, capacity, nil
}
