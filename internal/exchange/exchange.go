// Package exchange holds the static per-exchange rate limit configuration.
package exchange

import (
	"strings"
	"sync"
)

// Supported exchange names.
const (
	Binance = "binance"
	OKX     = "okx"
	Bybit   = "bybit"
	Gate    = "gate"
)

// CallKind identifies which bucket an API call draws from.
type CallKind string

// Call kinds recognized by the coordinator.
const (
	KindRequest CallKind = "request" // Generic REST call, weight-metered.
	KindOrder   CallKind = "order"   // Order placement, count-metered.
	KindStream  CallKind = "stream"  // WebSocket connection establishment.
)

// Limits is the static rate limit configuration of one exchange.
// Loaded at startup and immutable afterwards.
type Limits struct {
	RequestsPerMinute int // Raw request count cap per IP per minute.
	WeightPerMinute   int // Weight cap per IP per minute.
	OrdersPerSecond   int // Order placement cap per second.
	OrdersPerDay      int // Order placement cap per UTC day.
	BanThreshold429   int // 429 responses tolerated before the exchange escalates.
	BanThreshold418   int // 418 responses treated as an outright IP ban.
	MaxWSConnections  int // Concurrent WebSocket connection cap per IP.
	ConnectionWeight  int // Fixed weight of opening one stream connection.
}

var (
	limitsMu sync.RWMutex
)

var defaultLimits = map[string]Limits{
	Binance: {
		RequestsPerMinute: 1200,
		WeightPerMinute:   6000,
		OrdersPerSecond:   10,
		OrdersPerDay:      200000,
		BanThreshold429:   5,
		BanThreshold418:   1,
		MaxWSConnections:  300,
		ConnectionWeight:  2,
	},
	OKX: {
		RequestsPerMinute: 600,
		WeightPerMinute:   3000,
		OrdersPerSecond:   20,
		OrdersPerDay:      100000,
		BanThreshold429:   5,
		BanThreshold418:   1,
		MaxWSConnections:  100,
		ConnectionWeight:  1,
	},
	Bybit: {
		RequestsPerMinute: 600,
		WeightPerMinute:   2400,
		OrdersPerSecond:   10,
		OrdersPerDay:      100000,
		BanThreshold429:   5,
		BanThreshold418:   1,
		MaxWSConnections:  500,
		ConnectionWeight:  1,
	},
	Gate: {
		RequestsPerMinute: 900,
		WeightPerMinute:   2700,
		OrdersPerSecond:   10,
		OrdersPerDay:      100000,
		BanThreshold429:   5,
		BanThreshold418:   1,
		MaxWSConnections:  100,
		ConnectionWeight:  1,
	},
}

// Normalize lowercases and trims an exchange name.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// LimitsFor returns the static limits of a known exchange.
func LimitsFor(name string) (Limits, bool) {
	limitsMu.RLock()
	defer limitsMu.RUnlock()
	limits, ok := defaultLimits[Normalize(name)]
	return limits, ok
}

// Known reports whether the exchange name is configured.
func Known(name string) bool {
	_, ok := LimitsFor(name)
	return ok
}

// Register installs or overrides the limits of one exchange. Intended for
// startup-time config overrides only; limits are immutable afterwards.
func Register(name string, limits Limits) {
	limitsMu.Lock()
	defer limitsMu.Unlock()
	defaultLimits[Normalize(name)] = limits
}

// Names returns the configured exchange names.
func Names() []string {
	limitsMu.RLock()
	defer limitsMu.RUnlock()
	names := make([]string, 0, len(defaultLimits))
	for name := range defaultLimits {
		names = append(names, name)
	}
	return names
}
