// Package coordinator answers "may I make this call now, and at what cost"
// for every process sharing the exchange quota, and absorbs the exchange's
// throttle and ban signals.
package coordinator

import (
	"time"

	"github.com/marketprism/rategov/internal/exchange"
)

// Modes reported in responses.
const (
	ModeDistributed = "distributed"
	ModeFallback    = "fallback"
	ModeError       = "error"
)

// Reason prefixes, kept stable so callers and tests can tell an over-quota
// denial apart from a degraded-backend denial.
const (
	ReasonGranted         = "granted"
	ReasonUnknownExchange = "unknown exchange"
	ReasonUnknownCallKind = "unknown call kind"
	ReasonIPExhausted     = "ip quota exhausted"
	ReasonOverQuota       = "over quota"
	ReasonBackendDegraded = "backend degraded"
)

// Request asks for permission to make one exchange API call.
type Request struct {
	ClientID  string
	Exchange  string
	CallKind  exchange.CallKind
	Endpoint  string
	Params    map[string]string
	Weight    int // Explicit weight; ignored when dynamic weighting is on.
	Priority  int
	RequestID string
	Timestamp time.Time
}

// Response is the structured permit decision. It is always populated; no
// failure path reaches the caller as an error.
type Response struct {
	Granted        bool          `json:"granted"`
	IPAddress      string        `json:"ip_address,omitempty"`
	Weight         int           `json:"weight"`
	RemainingQuota float64       `json:"remaining_quota"`
	TotalQuota     float64       `json:"total_quota"`
	WaitTime       time.Duration `json:"wait_time"`
	Reason         string        `json:"reason"`
	Mode           string        `json:"mode"`
	Timestamp      time.Time     `json:"timestamp"`
	RequestID      string        `json:"request_id"`
}

// Capabilities selects optional coordinator behavior at construction time.
type Capabilities struct {
	IPAware       bool // Select and meter per-IP state, rotate on bans.
	DynamicWeight bool // Compute weight from endpoint rules instead of trusting the request.
}

// Observer receives permit and ban observations, for audit persistence.
// Implementations must not block.
type Observer interface {
	ObservePermit(req Request, resp Response)
	ObserveBan(exchangeName, ip string, statusCode int, retryAfter time.Duration)
}

// Status describes the coordinator for the status API.
type Status struct {
	ClientID     string              `json:"client_id"`
	ServiceName  string              `json:"service_name"`
	Priority     int                 `json:"priority"`
	Mode         string              `json:"mode"`
	Capabilities Capabilities        `json:"capabilities"`
	IPManagement map[string]IPStatus `json:"ip_management,omitempty"`
	Exchanges    []string            `json:"exchanges"`
}

// IPStatus is the per-exchange IP view in Status.
type IPStatus struct {
	CurrentIP string               `json:"current_ip"`
	IPDetails map[string]IPDetails `json:"ip_details"`
}

// IPDetails mirrors ippool.IPDetail with JSON-friendly durations.
type IPDetails struct {
	Status          string  `json:"status"`
	CurrentRequests int     `json:"current_requests"`
	MaxRequests     int     `json:"max_requests"`
	CurrentWeight   int     `json:"current_weight"`
	MaxWeight       int     `json:"max_weight"`
	WarningCount    int     `json:"warning_count"`
	BanRemainingSec float64 `json:"ban_remaining_seconds,omitempty"`
}
