// Package weight computes the exchange-assigned cost of one API call from
// its endpoint and parameters. The computation is pure and total: unknown
// inputs fall back to a default weight instead of erroring.
package weight

// DefaultWeight applies to unknown exchanges and endpoints.
const DefaultWeight = 1

// ParamRule is a sealed rule variant applied to one request parameter.
// The calculator evaluates variants with an exhaustive type switch.
type ParamRule interface {
	isParamRule()
}

// Range selects a weight for a numeric parameter falling in [Min, Max].
type Range struct {
	Min    float64
	Max    float64
	Weight int
}

// RangeRule picks the weight of the first matching interval.
// Intervals are checked in order; a non-numeric value contributes nothing.
type RangeRule struct {
	Ranges []Range
}

func (RangeRule) isParamRule() {}

// PresenceRule charges by how the parameter is supplied: absent entirely,
// a single value, or a comma-separated list of N values at PerItem each.
type PresenceRule struct {
	Absent  int
	Single  int
	PerItem int
}

func (PresenceRule) isParamRule() {}

// CountRule charges per batch of list items: ceil(N/BatchSize) * PerBatch.
type CountRule struct {
	PerBatch  int
	BatchSize int
}

func (CountRule) isParamRule() {}

// OverrideFunc adjusts the generically computed weight for endpoint quirks
// that do not fit the rule variants. It runs after parameter contributions
// and before the max-weight clamp.
type OverrideFunc func(params map[string]string, computed int) int

// EndpointRule is the full weight rule of one endpoint.
type EndpointRule struct {
	Base      int
	Params    map[string]ParamRule
	MaxWeight int // zero means no cap
	Override  OverrideFunc
}
