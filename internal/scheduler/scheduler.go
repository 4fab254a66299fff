// Package scheduler implements the two-point bracketing scheduler: given a
// desired speedup, select two configurations from the profile that bracket
// it and compute how many iterations within the window to spend at the
// lower configuration. Grounded on
// OptimizingController/src/controller/optimizing_controller.rs
// (compute_sched_and_cost / compute_optimal_schedule /
// compute_single_best_action).
package scheduler

import (
	"math"

	"github.com/apto/aptoctl/internal/objective"
)

// OptType selects whether the scheduler minimizes or maximizes the
// objective's scalar cost.
type OptType int

const (
	Minimize OptType = iota
	Maximize
)

// Schedule is the triple (lower, upper, nLower) the controller hands to the
// engine each window: spend nLower iterations at lower, the rest at upper.
type Schedule struct {
	Lower, Upper int
	NLower       int
}

// Params bundles the fixed inputs a Schedule call needs beyond the target
// speedup.
type Params struct {
	XupModel   []float64
	CostModel  [][]float64 // parallel to XupModel; one row per candidate
	ExprType   objective.Type
	Expr       *objective.Expr // not evaluated when ExprType == Value
	CostNames  []string        // names bound into Expr, parallel to cost columns
	OptType    OptType
	WindowSize int
}

// Compute selects, among every ordered pair (lower, upper) with
// xup[lower] <= target <= xup[upper], the pair whose interpolated scalar
// cost is best under p.OptType. Candidates are visited by ascending upper
// index and, for each upper, descending lower index, so the tightest
// bracket comes first; ties keep the first candidate encountered.
// Behavior when the profile is non-monotonic in the cost
// measures is the caller's responsibility — interpolation assumes
// upper >= target >= lower.
func Compute(target float64, p Params) Schedule {
	var bestCost float64
	if p.OptType == Maximize {
		bestCost = math.Inf(-1)
	} else {
		bestCost = math.Inf(1)
	}

	sched := Schedule{}
	bindings := map[string]float64{}

	for i, upper := range p.XupModel {
		if upper < target {
			continue
		}
		for j := len(p.XupModel) - 1; j >= 0; j-- {
			lower := p.XupModel[j]
			if lower > target {
				continue
			}
			cost, nLower := computeScheduleAndCost(target, i, j, upper, lower, p, bindings)
			var isBest bool
			if p.OptType == Maximize {
				isBest = cost > bestCost
			} else {
				isBest = cost < bestCost
			}
			if isBest {
				sched = Schedule{Lower: j, Upper: i, NLower: nLower}
				bestCost = cost
			}
		}
	}
	return sched
}

func computeScheduleAndCost(target float64, upperIdx, lowerIdx int, upper, lower float64, p Params, bindings map[string]float64) (float64, int) {
	var x float64
	if upper > lower {
		x = ((upper * lower) - (target * lower)) / ((upper * target) - (target * lower))
	}

	lowerCost := p.CostModel[lowerIdx]
	upperCost := p.CostModel[upperIdx]
	interpolated := make([]float64, len(lowerCost))
	for k := range interpolated {
		interpolated[k] = x*lowerCost[k] + (1.0-x)*upperCost[k]
	}

	var cost float64
	switch p.ExprType {
	case objective.Value:
		if len(interpolated) > 0 {
			cost = interpolated[0]
		}
	default:
		for k, name := range p.CostNames {
			bindings[name] = interpolated[k]
		}
		cost = p.Expr.Evaluate(bindings)
	}

	nLower := int(math.Round(float64(p.WindowSize) * x))
	return cost, nLower
}

// ComputeSingle implements the single-configuration scheduler variant
//: pick the profile index whose xup is closest to target,
// run the whole window at that index, and report the quantized xup it
// actually corresponds to so the controller can feed it back as
// scheduler_xup.
func ComputeSingle(target float64, xupModel []float64, windowSize int) (Schedule, float64) {
	best := 0
	bestDist := math.Inf(1)
	for i, xup := range xupModel {
		dist := math.Abs(xup - target)
		if dist < bestDist {
			bestDist = dist
			best = i
		}
	}
	return Schedule{Lower: best, Upper: best, NLower: windowSize}, xupModel[best]
}
