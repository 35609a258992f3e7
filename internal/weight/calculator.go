package weight

import (
	"strconv"
	"strings"

	"github.com/marketprism/rategov/internal/exchange"
)

// Calculator maps (exchange, endpoint, params, call kind) to a weight.
type Calculator struct {
	rules map[string]map[string]EndpointRule
}

// NewCalculator builds a Calculator with the built-in endpoint rule tables.
func NewCalculator() *Calculator {
	return &Calculator{rules: defaultRules()}
}

// Weight computes the cost of one call. It never errors: unknown exchanges
// and endpoints cost DefaultWeight, stream connections cost the exchange's
// fixed connection weight regardless of parameters.
func (c *Calculator) Weight(exchangeName, endpoint string, params map[string]string, kind exchange.CallKind) int {
	limits, known := exchange.LimitsFor(exchangeName)
	if !known {
		return DefaultWeight
	}
	if kind == exchange.KindStream {
		if limits.ConnectionWeight > 0 {
			return limits.ConnectionWeight
		}
		return DefaultWeight
	}

	endpoints, ok := c.rules[exchange.Normalize(exchangeName)]
	if !ok {
		return DefaultWeight
	}
	rule, ok := endpoints[endpoint]
	if !ok {
		return DefaultWeight
	}

	computed := rule.Base
	for name, paramRule := range rule.Params {
		value, present := params[name]
		computed += contribution(paramRule, value, present)
	}
	if rule.Override != nil {
		computed = rule.Override(params, computed)
	}
	if rule.MaxWeight > 0 && computed > rule.MaxWeight {
		computed = rule.MaxWeight
	}
	if computed < DefaultWeight {
		computed = DefaultWeight
	}
	return computed
}

// contribution evaluates one parameter rule variant.
func contribution(rule ParamRule, value string, present bool) int {
	switch r := rule.(type) {
	case RangeRule:
		if !present {
			return 0
		}
		numeric, errParse := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if errParse != nil {
			return 0
		}
		for _, interval := range r.Ranges {
			if numeric >= interval.Min && numeric <= interval.Max {
				return interval.Weight
			}
		}
		return 0
	case PresenceRule:
		if !present || strings.TrimSpace(value) == "" {
			return r.Absent
		}
		items := splitList(value)
		if len(items) <= 1 {
			return r.Single
		}
		return len(items) * r.PerItem
	case CountRule:
		if !present {
			return 0
		}
		n := len(splitList(value))
		if n == 0 || r.BatchSize <= 0 {
			return 0
		}
		batches := (n + r.BatchSize - 1) / r.BatchSize
		return batches * r.PerBatch
	default:
		return 0
	}
}

// splitList splits a CSV or bracketed-list parameter into its items.
func splitList(value string) []string {
	trimmed := strings.TrimSpace(value)
	trimmed = strings.TrimPrefix(trimmed, "[")
	trimmed = strings.TrimSuffix(trimmed, "]")
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.Trim(strings.TrimSpace(part), `"`)
		if part != "" {
			items = append(items, part)
		}
	}
	return items
}
