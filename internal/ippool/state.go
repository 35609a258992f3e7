// Package ippool tracks per-IP rate limit state and rotates the outbound IP
// across a primary and ordered backups when the exchange throttles or bans.
package ippool

import (
	"strconv"
	"time"
)

// Status is the lifecycle state of one IP.
type Status string

// IP statuses.
const (
	StatusActive  Status = "ACTIVE"
	StatusWarning Status = "WARNING"
	StatusBanned  Status = "BANNED"
)

// Persisted hash field names. Stable: existing deployments read these.
const (
	fieldRequests     = "current_requests"
	fieldWeight       = "current_weight"
	fieldOrdersToday  = "current_orders_today"
	fieldStatus       = "status"
	fieldWarningCount = "warning_count"
	fieldLastReset    = "last_reset_time"
	fieldBanUntil     = "ban_until"
)

// banBackoffBase seeds the exponential ban backoff when the exchange omits
// Retry-After: 120 * 2^min(warning_count, 10) seconds.
const (
	banBackoffBase    = 120 * time.Second
	maxBackoffShifts  = 10
	counterResetEvery = time.Minute
)

// IPState is the mutable rate limit state of one (exchange, IP) pair.
// Not safe for concurrent use; the Registry serializes access.
type IPState struct {
	IP                 string
	CurrentRequests    int
	CurrentWeight      int
	CurrentOrdersToday int
	Status             Status
	BanUntil           time.Time // zero when no ban is set
	WarningCount       int
	LastResetTime      time.Time
}

func newIPState(ip string, now time.Time) *IPState {
	return &IPState{IP: ip, Status: StatusActive, LastResetTime: now}
}

// IsBanned is purely a ban_until check. The status field deliberately does
// not flip back to ACTIVE when the ban lapses; only the next observed
// successful response does that (see MarkSuccess).
func (s *IPState) IsBanned(now time.Time) bool {
	return !s.BanUntil.IsZero() && s.BanUntil.After(now)
}

// CanMakeRequest reports whether a call of the given weight fits under the
// per-minute caps right now.
func (s *IPState) CanMakeRequest(maxRequests, maxWeight, weight int, now time.Time) bool {
	if s.IsBanned(now) {
		return false
	}
	if maxRequests > 0 && s.CurrentRequests >= maxRequests {
		return false
	}
	if maxWeight > 0 && s.CurrentWeight+weight > maxWeight {
		return false
	}
	return true
}

// ConsumeRequest increments the counters for one granted call.
func (s *IPState) ConsumeRequest(weight int, isOrder bool) {
	s.CurrentRequests++
	s.CurrentWeight += weight
	if isOrder {
		s.CurrentOrdersToday++
	}
}

// ResetIfNeeded zeroes the rolling counters at window boundaries: requests
// and weight on a 60-second window, orders on a UTC date change. Returns
// whether anything was reset; a second call inside the same window is a no-op.
func (s *IPState) ResetIfNeeded(now time.Time) bool {
	changed := false
	y1, m1, d1 := s.LastResetTime.UTC().Date()
	y2, m2, d2 := now.UTC().Date()
	if (y1 != y2 || m1 != m2 || d1 != d2) && s.CurrentOrdersToday != 0 {
		s.CurrentOrdersToday = 0
		changed = true
	}
	if now.Sub(s.LastResetTime) >= counterResetEvery {
		s.CurrentRequests = 0
		s.CurrentWeight = 0
		s.LastResetTime = now
		changed = true
	}
	return changed
}

// ApplyThrottle handles an observed 429. A zero retryAfter leaves ban_until
// untouched.
func (s *IPState) ApplyThrottle(retryAfter time.Duration, now time.Time) {
	s.Status = StatusWarning
	s.WarningCount++
	if retryAfter > 0 {
		s.BanUntil = now.Add(retryAfter)
	}
}

// ApplyBan handles an observed 418. Without Retry-After the ban length is an
// exponential backoff on the warning count.
func (s *IPState) ApplyBan(retryAfter time.Duration, now time.Time) {
	s.Status = StatusBanned
	if retryAfter <= 0 {
		shifts := s.WarningCount
		if shifts > maxBackoffShifts {
			shifts = maxBackoffShifts
		}
		retryAfter = banBackoffBase * (1 << shifts)
	}
	s.BanUntil = now.Add(retryAfter)
}

// MarkSuccess records a successful exchange response. Status reverts to
// ACTIVE only here, and only once any ban has lapsed.
func (s *IPState) MarkSuccess(now time.Time) {
	if s.IsBanned(now) {
		return
	}
	s.Status = StatusActive
	s.BanUntil = time.Time{}
}

// BanRemaining returns the time left on the current ban, zero when none.
func (s *IPState) BanRemaining(now time.Time) time.Duration {
	if !s.IsBanned(now) {
		return 0
	}
	return s.BanUntil.Sub(now)
}

// Fields serializes the state for store persistence.
func (s *IPState) Fields() map[string]string {
	banUntil := ""
	if !s.BanUntil.IsZero() {
		banUntil = strconv.FormatInt(s.BanUntil.Unix(), 10)
	}
	return map[string]string{
		fieldRequests:     strconv.Itoa(s.CurrentRequests),
		fieldWeight:       strconv.Itoa(s.CurrentWeight),
		fieldOrdersToday:  strconv.Itoa(s.CurrentOrdersToday),
		fieldStatus:       string(s.Status),
		fieldWarningCount: strconv.Itoa(s.WarningCount),
		fieldLastReset:    strconv.FormatInt(s.LastResetTime.Unix(), 10),
		fieldBanUntil:     banUntil,
	}
}

// stateFromFields restores persisted state; missing or malformed fields keep
// their zero values.
func stateFromFields(ip string, fields map[string]string, now time.Time) *IPState {
	s := newIPState(ip, now)
	if v, err := strconv.Atoi(fields[fieldRequests]); err == nil {
		s.CurrentRequests = v
	}
	if v, err := strconv.Atoi(fields[fieldWeight]); err == nil {
		s.CurrentWeight = v
	}
	if v, err := strconv.Atoi(fields[fieldOrdersToday]); err == nil {
		s.CurrentOrdersToday = v
	}
	if v, err := strconv.Atoi(fields[fieldWarningCount]); err == nil {
		s.WarningCount = v
	}
	switch Status(fields[fieldStatus]) {
	case StatusWarning:
		s.Status = StatusWarning
	case StatusBanned:
		s.Status = StatusBanned
	}
	if v, err := strconv.ParseInt(fields[fieldLastReset], 10, 64); err == nil {
		s.LastResetTime = time.Unix(v, 0)
	}
	if v, err := strconv.ParseInt(fields[fieldBanUntil], 10, 64); err == nil && fields[fieldBanUntil] != "" {
		s.BanUntil = time.Unix(v, 0)
	}
	return s
}
