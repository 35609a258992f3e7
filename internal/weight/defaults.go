package weight

import "github.com/marketprism/rategov/internal/exchange"

// defaultRules returns the built-in endpoint weight tables, keyed by
// normalized exchange name then endpoint path.
func defaultRules() map[string]map[string]EndpointRule {
	return map[string]map[string]EndpointRule{
		exchange.Binance: binanceRules(),
		exchange.OKX:     okxRules(),
		exchange.Bybit:   bybitRules(),
		exchange.Gate:    gateRules(),
	}
}

func binanceRules() map[string]EndpointRule {
	depthRanges := RangeRule{Ranges: []Range{
		{Min: 0, Max: 100, Weight: 1},
		{Min: 101, Max: 500, Weight: 5},
		{Min: 501, Max: 1000, Weight: 10},
		{Min: 1001, Max: 5000, Weight: 50},
	}}

	return map[string]EndpointRule{
		"/api/v3/depth": {
			Base:      0,
			Params:    map[string]ParamRule{"limit": depthRanges},
			MaxWeight: 50,
			// No limit parameter defaults to the 100-level book.
			Override: func(params map[string]string, computed int) int {
				if _, ok := params["limit"]; !ok {
					return computed + 1
				}
				return computed
			},
		},
		"/api/v3/ticker/24hr": {
			Params: map[string]ParamRule{
				"symbol": PresenceRule{Absent: 40, Single: 1, PerItem: 1},
			},
			MaxWeight: 80,
		},
		"/api/v3/ticker/price": {
			Params: map[string]ParamRule{
				"symbol": PresenceRule{Absent: 2, Single: 1, PerItem: 1},
			},
		},
		"/api/v3/ticker/bookTicker": {
			Params: map[string]ParamRule{
				"symbol": PresenceRule{Absent: 2, Single: 1, PerItem: 1},
			},
		},
		"/api/v3/klines":       {Base: 1},
		"/api/v3/trades":       {Base: 1},
		"/api/v3/exchangeInfo": {Base: 10},
		"/api/v3/account":      {Base: 10},
		"/api/v3/order":        {Base: 1},
		"/api/v3/openOrders": {
			Base: 0,
			Params: map[string]ParamRule{
				"symbol": PresenceRule{Absent: 40, Single: 3, PerItem: 3},
			},
		},
		"/api/v3/myTrades": {Base: 10},
	}
}

func okxRules() map[string]EndpointRule {
	return map[string]EndpointRule{
		"/api/v5/market/books": {
			Base: 0,
			Params: map[string]ParamRule{
				"sz": RangeRule{Ranges: []Range{
					{Min: 0, Max: 100, Weight: 1},
					{Min: 101, Max: 400, Weight: 5},
				}},
			},
		},
		"/api/v5/market/tickers": {Base: 2},
		"/api/v5/market/ticker": {
			Params: map[string]ParamRule{
				"instId": PresenceRule{Absent: 2, Single: 1, PerItem: 1},
			},
		},
		"/api/v5/market/candles":  {Base: 1},
		"/api/v5/trade/order":     {Base: 1},
		"/api/v5/account/balance": {Base: 5},
	}
}

func bybitRules() map[string]EndpointRule {
	return map[string]EndpointRule{
		"/v5/market/orderbook": {
			Base: 0,
			Params: map[string]ParamRule{
				"limit": RangeRule{Ranges: []Range{
					{Min: 0, Max: 50, Weight: 1},
					{Min: 51, Max: 200, Weight: 5},
				}},
			},
		},
		"/v5/market/tickers": {
			Params: map[string]ParamRule{
				"symbol": PresenceRule{Absent: 4, Single: 1, PerItem: 1},
			},
		},
		"/v5/market/kline":  {Base: 1},
		"/v5/order/create":  {Base: 1},
		"/v5/account/info":  {Base: 5},
		"/v5/order/realtime": {
			Base: 1,
			Params: map[string]ParamRule{
				"symbols": CountRule{PerBatch: 1, BatchSize: 10},
			},
		},
	}
}

func gateRules() map[string]EndpointRule {
	return map[string]EndpointRule{
		"/api/v4/spot/order_book": {
			Base: 0,
			Params: map[string]ParamRule{
				"limit": RangeRule{Ranges: []Range{
					{Min: 0, Max: 100, Weight: 1},
					{Min: 101, Max: 1000, Weight: 10},
				}},
			},
		},
		"/api/v4/spot/tickers": {
			Params: map[string]ParamRule{
				"currency_pair": PresenceRule{Absent: 8, Single: 1, PerItem: 1},
			},
		},
		"/api/v4/spot/candlesticks": {Base: 1},
		"/api/v4/spot/orders":       {Base: 1},
		"/api/v4/spot/accounts":     {Base: 5},
	}
}
