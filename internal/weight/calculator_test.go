package weight

import (
	"fmt"
	"testing"

	"github.com/marketprism/rategov/internal/exchange"
)

func TestWeight_UnknownExchangeAndEndpoint(t *testing.T) {
	c := NewCalculator()

	if w := c.Weight("hyperliquid", "/info", nil, exchange.KindRequest); w != DefaultWeight {
		t.Fatalf("expected default weight for unknown exchange, got %d", w)
	}
	if w := c.Weight(exchange.Binance, "/api/v9/mystery", nil, exchange.KindRequest); w != DefaultWeight {
		t.Fatalf("expected default weight for unknown endpoint, got %d", w)
	}
}

func TestWeight_StreamConnection(t *testing.T) {
	c := NewCalculator()

	w := c.Weight(exchange.Binance, "/ws", map[string]string{"limit": "5000"}, exchange.KindStream)
	if w != 2 {
		t.Fatalf("expected connection weight 2 independent of params, got %d", w)
	}
	if got := c.Weight(exchange.OKX, "", nil, exchange.KindStream); got != 1 {
		t.Fatalf("expected connection weight 1, got %d", got)
	}
}

func TestWeight_DepthRanges(t *testing.T) {
	c := NewCalculator()

	cases := []struct {
		limit string
		want  int
	}{
		{"50", 1},
		{"100", 1},
		{"101", 5},
		{"500", 5},
		{"1000", 10},
		{"5000", 50},
	}
	for _, tc := range cases {
		got := c.Weight(exchange.Binance, "/api/v3/depth", map[string]string{"limit": tc.limit}, exchange.KindRequest)
		if got != tc.want {
			t.Fatalf("limit=%s: expected weight %d, got %d", tc.limit, tc.want, got)
		}
	}
}

func TestWeight_RangeMonotonicity(t *testing.T) {
	c := NewCalculator()

	prev := 0
	for _, limit := range []int{1, 100, 101, 500, 501, 1000, 1001, 5000} {
		got := c.Weight(exchange.Binance, "/api/v3/depth",
			map[string]string{"limit": fmt.Sprintf("%d", limit)}, exchange.KindRequest)
		if got < prev {
			t.Fatalf("weight decreased at limit=%d: %d < %d", limit, got, prev)
		}
		prev = got
	}
}

func TestWeight_PresenceRule(t *testing.T) {
	c := NewCalculator()

	absent := c.Weight(exchange.Binance, "/api/v3/ticker/24hr", nil, exchange.KindRequest)
	single := c.Weight(exchange.Binance, "/api/v3/ticker/24hr",
		map[string]string{"symbol": "BTCUSDT"}, exchange.KindRequest)
	if absent < single {
		t.Fatalf("expected weight(absent)=%d >= weight(single)=%d", absent, single)
	}
	if absent != 40 || single != 1 {
		t.Fatalf("expected absent=40 single=1, got absent=%d single=%d", absent, single)
	}

	multi := c.Weight(exchange.Binance, "/api/v3/ticker/24hr",
		map[string]string{"symbol": "BTCUSDT,ETHUSDT,SOLUSDT"}, exchange.KindRequest)
	if multi != 3 {
		t.Fatalf("expected N items * per-item = 3, got %d", multi)
	}

	bracketed := c.Weight(exchange.Binance, "/api/v3/ticker/24hr",
		map[string]string{"symbol": `["BTCUSDT","ETHUSDT"]`}, exchange.KindRequest)
	if bracketed != 2 {
		t.Fatalf("expected bracketed list of 2 to weigh 2, got %d", bracketed)
	}
}

func TestWeight_CountRule(t *testing.T) {
	c := NewCalculator()

	// 25 symbols at one batch per 10 items: 3 batches on top of base 1.
	symbols := ""
	for i := 0; i < 25; i++ {
		if i > 0 {
			symbols += ","
		}
		symbols += fmt.Sprintf("SYM%d", i)
	}
	got := c.Weight(exchange.Bybit, "/v5/order/realtime",
		map[string]string{"symbols": symbols}, exchange.KindRequest)
	if got != 4 {
		t.Fatalf("expected base 1 + 3 batches = 4, got %d", got)
	}
}

func TestWeight_MaxWeightClamp(t *testing.T) {
	c := NewCalculator()

	symbols := ""
	for i := 0; i < 200; i++ {
		if i > 0 {
			symbols += ","
		}
		symbols += fmt.Sprintf("SYM%d", i)
	}
	got := c.Weight(exchange.Binance, "/api/v3/ticker/24hr",
		map[string]string{"symbol": symbols}, exchange.KindRequest)
	if got != 80 {
		t.Fatalf("expected clamp at 80, got %d", got)
	}
}

func TestWeight_DepthDefaultOverride(t *testing.T) {
	c := NewCalculator()

	got := c.Weight(exchange.Binance, "/api/v3/depth", nil, exchange.KindRequest)
	if got != 1 {
		t.Fatalf("expected default depth weight 1, got %d", got)
	}
}

func TestWeight_NonNumericRangeParam(t *testing.T) {
	c := NewCalculator()

	got := c.Weight(exchange.Binance, "/api/v3/depth",
		map[string]string{"limit": "abc"}, exchange.KindRequest)
	if got != DefaultWeight {
		t.Fatalf("expected default weight for non-numeric limit, got %d", got)
	}
}
