package ippool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marketprism/rategov/internal/exchange"
	"github.com/marketprism/rategov/internal/store"

	log "github.com/sirupsen/logrus"
)

// IPDetail is a read-only snapshot of one IP for the status API.
type IPDetail struct {
	Status          Status        `json:"status"`
	CurrentRequests int           `json:"current_requests"`
	MaxRequests     int           `json:"max_requests"`
	CurrentWeight   int           `json:"current_weight"`
	MaxWeight       int           `json:"max_weight"`
	WarningCount    int           `json:"warning_count"`
	BanRemaining    time.Duration `json:"ban_remaining,omitempty"`
}

// Registry holds per-IP state for one exchange and picks the outbound IP.
// All mutations persist to the store best-effort so sibling processes can
// observe them; the local copy stays authoritative for this process.
type Registry struct {
	store        store.Store
	exchangeName string
	limits       exchange.Limits
	primary      string
	order        []string // primary first, then backups in configured order
	nowFn        func() time.Time

	mu     sync.Mutex
	states map[string]*IPState
}

// NewRegistry constructs a Registry with state for the primary IP and each
// backup. A nil nowFn defaults to time.Now.
func NewRegistry(st store.Store, exchangeName, primary string, backups []string, nowFn func() time.Time) (*Registry, error) {
	if primary == "" {
		return nil, fmt.Errorf("ippool: primary IP is required")
	}
	limits, known := exchange.LimitsFor(exchangeName)
	if !known {
		return nil, fmt.Errorf("ippool: unknown exchange: %s", exchangeName)
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	r := &Registry{
		store:        st,
		exchangeName: exchange.Normalize(exchangeName),
		limits:       limits,
		primary:      primary,
		order:        append([]string{primary}, backups...),
		nowFn:        nowFn,
		states:       make(map[string]*IPState, len(backups)+1),
	}
	now := nowFn()
	for _, ip := range r.order {
		r.states[ip] = newIPState(ip, now)
	}
	return r, nil
}

func (r *Registry) ipKey(ip string) string {
	return fmt.Sprintf("ip:%s:%s", r.exchangeName, ip)
}

// persist writes a snapshot of one IP state to the store. The fields map
// must have been captured under r.mu; the write itself runs unlocked so
// store latency never extends the critical section. Failures are logged,
// not returned: cross-process visibility is best-effort.
func (r *Registry) persist(ctx context.Context, ip string, fields map[string]string) {
	if r.store == nil {
		return
	}
	if errWrite := r.store.HSet(ctx, r.ipKey(ip), fields); errWrite != nil {
		log.WithError(errWrite).WithField("ip", ip).Warn("ippool: persist state failed")
	}
}

// CurrentIP returns the first non-banned IP in configured order. When every
// IP is banned it returns the primary anyway; the next permit check will
// deny, which is the intended degrade path rather than an error.
func (r *Registry) CurrentIP() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.nowFn()
	for _, ip := range r.order {
		s := r.states[ip]
		s.ResetIfNeeded(now)
		if !s.IsBanned(now) {
			return ip
		}
	}
	return r.primary
}

// NextIP returns the first non-banned IP other than the given one, for the
// coordinator's single rotation retry. Empty when no alternative exists.
func (r *Registry) NextIP(current string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.nowFn()
	for _, ip := range r.order {
		if ip == current {
			continue
		}
		s := r.states[ip]
		s.ResetIfNeeded(now)
		if !s.IsBanned(now) {
			return ip
		}
	}
	return ""
}

// CanMakeRequest checks the per-IP caps for a call of the given weight.
func (r *Registry) CanMakeRequest(ip string, weight int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[ip]
	if !ok {
		return false
	}
	now := r.nowFn()
	s.ResetIfNeeded(now)
	return s.CanMakeRequest(r.limits.RequestsPerMinute, r.limits.WeightPerMinute, weight, now)
}

// ConsumeRequest records one granted call against the IP and persists.
func (r *Registry) ConsumeRequest(ctx context.Context, ip string, weight int, isOrder bool) {
	r.mu.Lock()
	var fields map[string]string
	if s, ok := r.states[ip]; ok {
		s.ResetIfNeeded(r.nowFn())
		s.ConsumeRequest(weight, isOrder)
		fields = s.Fields()
	}
	r.mu.Unlock()
	if fields != nil {
		r.persist(ctx, ip, fields)
	}
}

// ReportStatus absorbs an exchange response for the IP: 429 throttles, 418
// bans, 2xx marks success. Other codes leave the state untouched.
func (r *Registry) ReportStatus(ctx context.Context, ip string, statusCode int, retryAfter time.Duration) {
	r.mu.Lock()
	s, ok := r.states[ip]
	if !ok {
		r.mu.Unlock()
		return
	}
	now := r.nowFn()
	switch {
	case statusCode == 429:
		s.ApplyThrottle(retryAfter, now)
	case statusCode == 418:
		s.ApplyBan(retryAfter, now)
	case statusCode >= 200 && statusCode < 300:
		s.MarkSuccess(now)
	}
	fields := s.Fields()
	r.mu.Unlock()
	r.persist(ctx, ip, fields)
}

// Unban clears the ban state of an IP, for operator intervention.
func (r *Registry) Unban(ctx context.Context, ip string) bool {
	r.mu.Lock()
	s, ok := r.states[ip]
	var fields map[string]string
	if ok {
		s.BanUntil = time.Time{}
		s.Status = StatusActive
		s.WarningCount = 0
		fields = s.Fields()
	}
	r.mu.Unlock()
	if ok {
		r.persist(ctx, ip, fields)
	}
	return ok
}

// IsBanned reports whether the IP is currently banned.
func (r *Registry) IsBanned(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[ip]
	if !ok {
		return false
	}
	return s.IsBanned(r.nowFn())
}

// Limits exposes the static limits this registry enforces.
func (r *Registry) Limits() exchange.Limits {
	return r.limits
}

// Snapshot returns per-IP details for the status API.
func (r *Registry) Snapshot() map[string]IPDetail {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.nowFn()
	out := make(map[string]IPDetail, len(r.states))
	for ip, s := range r.states {
		s.ResetIfNeeded(now)
		out[ip] = IPDetail{
			Status:          s.Status,
			CurrentRequests: s.CurrentRequests,
			MaxRequests:     r.limits.RequestsPerMinute,
			CurrentWeight:   s.CurrentWeight,
			MaxWeight:       r.limits.WeightPerMinute,
			WarningCount:    s.WarningCount,
			BanRemaining:    s.BanRemaining(now),
		}
	}
	return out
}
