// Package measurement tracks per-window and lifetime statistics for a single
// measured quantity. Grounded on
// original_source/apto/src/measures.rs (Measurement).
package measurement

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

// AggFunc reduces a window's worth of raw samples to a single value. A nil
// AggFunc means "arithmetic mean", the default aggregation.
type AggFunc func(values []float64) float64

// Series accumulates samples for one measured quantity across windows. Raw
// history is only retained when profiling is enabled, since Adaptive/
// NonAdaptive runs have no use for it and it would grow unbounded.
type Series struct {
	values       []float64
	windowValues []float64
	nrValues     uint64
	totalAverage float64
	aggFunc      AggFunc
	keepHistory  bool
}

// New constructs a Series with windowSize used only as a capacity hint for
// the per-window buffer.
func New(windowSize uint64, aggFunc AggFunc) *Series {
	return &Series{
		windowValues: make([]float64, 0, windowSize),
		aggFunc:      aggFunc,
	}
}

// KeepHistory enables retention of every registered value, not just the
// current window's. The engine turns this on for Profile mode.
func (s *Series) KeepHistory(enabled bool) {
	s.keepHistory = enabled
}

// ResetWindow clears the current window's buffer without touching lifetime
// statistics.
func (s *Series) ResetWindow() {
	s.windowValues = s.windowValues[:0]
}

// ResetComplete clears all state, including lifetime history and the running
// average.
func (s *Series) ResetComplete() {
	s.values = nil
	s.windowValues = s.windowValues[:0]
	s.nrValues = 0
	s.totalAverage = 0
}

// RegisterValue appends a new sample to the current window (and, if history
// is retained, to the lifetime slice), and updates the running average using
// Welford's incremental-mean formula.
func (s *Series) RegisterValue(value float64) {
	if s.keepHistory {
		s.values = append(s.values, value)
	}
	s.windowValues = append(s.windowValues, value)
	s.nrValues++

	n := float64(s.nrValues)
	s.totalAverage = ((n-1.0)/n)*s.totalAverage + (1.0/n)*value
}

// Aggregate reduces the current window to a scalar via the configured
// AggFunc, or the arithmetic mean when none was supplied. Returns 0 for an
// empty window.
func (s *Series) Aggregate() float64 {
	if len(s.windowValues) == 0 {
		return 0
	}
	if s.aggFunc != nil {
		return s.aggFunc(s.windowValues)
	}
	return floats.Sum(s.windowValues) / float64(len(s.windowValues))
}

// PrevValue returns the most recently registered value in the current
// window, and false if the window is empty.
func (s *Series) PrevValue() (float64, bool) {
	if len(s.windowValues) == 0 {
		return 0, false
	}
	return s.windowValues[len(s.windowValues)-1], true
}

// TotalAverage returns the lifetime running mean across every window.
func (s *Series) TotalAverage() float64 {
	return s.totalAverage
}

// History returns the retained lifetime samples. Only meaningful when
// KeepHistory(true) was set; otherwise it is always empty.
func (s *Series) History() []float64 {
	return s.values
}

// Percentile builds an AggFunc computing the given percentile (0..1) of a
// window via linear interpolation between order statistics, matching the
// percentile-function helper.
func Percentile(ptile float64) AggFunc {
	return func(values []float64) float64 {
		if len(values) == 0 {
			return 0
		}
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		index := (float64(len(sorted)) - 1.0) * ptile
		lo := int(index)
		hi := lo
		if frac := index - float64(lo); frac > 0 {
			hi = lo + 1
		}
		if hi >= len(sorted) {
			hi = len(sorted) - 1
		}
		return sorted[lo] + (index-float64(lo))*(sorted[hi]-sorted[lo])
	}
}

// Last builds an AggFunc that ignores history and returns only the most
// recent sample in the window, for measures where the latest reading (not
// an average) is the meaningful per-window value.
func Last() AggFunc {
	return func(values []float64) float64 {
		if len(values) == 0 {
			return 0
		}
		return values[len(values)-1]
	}
}

// PerWindow builds an AggFunc dividing the window's sum by windowSize
// rather than by the sample count, for counters accumulated once per
// iteration (e.g. energy consumed) where the per-iteration rate is the
// meaningful value.
func PerWindow(windowSize int) AggFunc {
	return func(values []float64) float64 {
		var sum float64
		for _, v := range values {
			sum += v
		}
		if windowSize == 0 {
			return 0
		}
		return sum / float64(windowSize)
	}
}
