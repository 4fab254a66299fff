// Package kalman estimates base (un-amplified) workload from a stream of
// (previous speedup, previous measurement) pairs.
//
// Grounded on OptimizingController/src/kalman_filter.rs for the arithmetic
// and on the scalar-Kalman style found in the example corpus's
// other_examples (a pure-math, no-matrix-types struct with a Config) for
// Go idiom — a 1-D filter has no business reaching for a linear-algebra
// package.
package kalman

// Mode selects the estimation law. Modeled as a tagged variant rather than
// function pointers or dynamic dispatch so the switch happens once per window and is exhaustively
// checkable at compile time.
type Mode int

const (
	// ModeFull runs the full scalar Kalman update.
	ModeFull Mode = iota
	// ModeBasic runs an EWMA ("basic") estimator instead.
	ModeBasic
	// ModeConstant always returns a fixed workload estimate.
	ModeConstant
)

// Filter is the per-controller Kalman state. Fields are exported because
// Controller's schedule log reads them directly each window.
type Filter struct {
	Mode Mode

	XHatMinus float64
	XHat      float64
	PMinus    float64
	H         float64
	K         float64
	P         float64
	Q         float64
	R         float64
	E         float64

	// A is the EWMA smoothing factor for ModeBasic, adjusted per-window by
	// PoleAdaptation when the controller is in learning-based mode.
	A float64
}

// New constructs a Filter in ModeFull with the initial state x̂=0.2, P=1,
// Q=1e-5, R=1e-2.
func New() *Filter {
	return &Filter{
		Mode: ModeFull,
		XHat: 0.2,
		P:    1.0,
		Q:    1e-5,
		R:    1e-2,
		A:    1.0,
	}
}

// NewBasic constructs a Filter running the EWMA estimator.
func NewBasic() *Filter {
	f := New()
	f.Mode = ModeBasic
	return f
}

// NewConstant constructs a Filter that always reports workload 1/xHat.
func NewConstant(xHat float64) *Filter {
	f := New()
	f.Mode = ModeConstant
	f.XHat = xHat
	return f
}

// EstimateBaseWorkload advances the filter with the previous commanded
// speedup and the previous measurement, returning the new base-workload
// estimate 1/x̂.
func (f *Filter) EstimateBaseWorkload(xupPrev, measurementPrev float64) float64 {
	switch f.Mode {
	case ModeBasic:
		return f.basic(xupPrev, measurementPrev)
	case ModeConstant:
		return 1.0 / f.XHat
	default:
		return f.full(xupPrev, measurementPrev)
	}
}

func (f *Filter) full(xupPrev, measurementPrev float64) float64 {
	f.XHatMinus = f.XHat
	f.PMinus = f.P + f.Q
	f.H = xupPrev
	f.K = (f.PMinus * f.H) / (f.H*f.PMinus*f.H + f.R)
	f.E = measurementPrev - f.H*f.XHatMinus
	f.XHat = f.XHatMinus + f.K*f.E
	f.P = (1.0 - f.K*f.H) * f.PMinus
	return 1.0 / f.XHat
}

func (f *Filter) basic(xupPrev, measurementPrev float64) float64 {
	f.XHatMinus = f.XHat
	f.XHat = (1.0-f.A)*f.XHatMinus + f.A*(measurementPrev/xupPrev)
	return 1.0 / f.XHat
}

// SetMultiplier sets the EWMA smoothing factor used by ModeBasic.
func (f *Filter) SetMultiplier(val float64) { f.A = val }
