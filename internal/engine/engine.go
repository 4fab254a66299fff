// Package engine drives the window-boundary control loop that ties the
// profile store, actuated knobs, measurement bank, energy monitor and
// per-tag Controller together. Grounded on
// original_source/apto/src/optimize.rs (AptoState/Apto).
package engine

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/apto/aptoctl/internal/controller"
	"github.com/apto/aptoctl/internal/energymon"
	"github.com/apto/aptoctl/internal/goalcfg"
	"github.com/apto/aptoctl/internal/knob"
	"github.com/apto/aptoctl/internal/measurement"
	"github.com/apto/aptoctl/internal/objective"
	"github.com/apto/aptoctl/internal/poleadapt"
	"github.com/apto/aptoctl/internal/profile"
)

// Mode selects how the engine drives the application loop.
type Mode int

const (
	// Adaptive recomputes a schedule every window from live measurements.
	Adaptive Mode = iota
	// NonAdaptive holds the current schedule fixed and only actuates
	// knobs, never recomputing it.
	NonAdaptive
	// Profile sweeps every knob combination for a fixed iteration count
	// each, emitting a fresh measure table row per combination.
	Profile
)

// schedule is the live (lower, upper, nLower) triple the engine is
// currently actuating from.
type schedule struct {
	lower, upper, nLower uint64
}

// Config bundles everything the Engine needs beyond the profile store: the
// active knobs (actuation ordering derived from their Category), the
// window size, instance tag, starting mode, goal, and energy monitor.
type Config struct {
	Tag           uint64
	WindowSize    uint64
	Mode          Mode
	ProfileIters  uint64
	Goal          goalcfg.Goal
	Knobs         map[string]knob.Tunable[uint64]
	EnergyMonitor energymon.EnergyMonitor

	// Kind and PoleAdapt select the control law and pole-adaptation
	// regulator for this instance; the zero value (ControlMultiConf, a
	// fresh no-op Adapter) matches the unadapted default.
	Kind      controller.Kind
	PoleAdapt *poleadapt.Adapter
}

// Engine is the AptoEngine driver: one instance per tuned application,
// composing a profile Store, its Controller, the live knobs, and
// per-measure Series.
type Engine struct {
	cfg   Config
	store *profile.Store
	ctrl  *controller.Controller
	em    energymon.EnergyMonitor

	measurements map[string]*measurement.Series
	sched        schedule
	currentIdx   uint64

	constraintIdx int
}

// New constructs an Engine: restricts and sorts store by the goal's
// constraint, builds the initial Controller, seeds per-measure Series, and
// actuates the starting knob configuration.
func New(store *profile.Store, cfg Config) (*Engine, error) {
	if cfg.WindowSize == 0 {
		return nil, fmt.Errorf("engine: window size must be positive")
	}

	dropped := store.Restrict(cfg.Knobs)
	if dropped > 0 {
		logrus.Warnf("%d configs were filtered out (remaining %d) for instance %d", dropped, store.Len(), cfg.Tag)
	}

	constraintIdx := store.MeasureIndex(cfg.Goal.Constraint)
	if constraintIdx == -1 {
		return nil, fmt.Errorf("engine: constraint measure %q not found in profile", cfg.Goal.Constraint)
	}
	store.SortByConstraint(constraintIdx)

	objMeasures := objective.Identifiers(cfg.Goal.OptFunc)
	objIndices := make([]int, len(objMeasures))
	for i, name := range objMeasures {
		idx := store.MeasureIndex(name)
		if idx == -1 {
			return nil, fmt.Errorf("engine: objective measure %q not found in profile", name)
		}
		objIndices[i] = idx
	}
	costModel := store.CostModel(objIndices)

	initialIdx := store.FindID(cfg.Knobs)
	if initialIdx < 0 {
		initialIdx = 0
	}

	ctrl, err := controller.New(cfg.Tag, cfg.Kind, store.MeasureValues(), costModel,
		cfg.Goal.Target, constraintIdx, int(cfg.WindowSize), cfg.Goal.OptType, cfg.Goal.OptFunc, objMeasures, initialIdx, cfg.PoleAdapt)
	if err != nil {
		return nil, fmt.Errorf("engine: initializing controller: %w", err)
	}

	em := cfg.EnergyMonitor
	if em == nil {
		em = energymon.NewNop()
	}

	e := &Engine{
		cfg:           cfg,
		store:         store,
		ctrl:          ctrl,
		em:            em,
		measurements:  newMeasurementBank(store.MeasureNames, cfg.WindowSize, cfg.Mode == Profile),
		sched:         schedule{lower: uint64(initialIdx), upper: uint64(initialIdx), nLower: cfg.WindowSize},
		currentIdx:    ^uint64(0),
		constraintIdx: constraintIdx,
	}
	e.actuateKnobs(0)
	return e, nil
}

// newMeasurementBank builds a Series per profiled measure name, using
// "last value" aggregation for the power/mean measures and per-window-size
// normalization for accumulated energy, matching optimize.rs's measurement
// construction.
func newMeasurementBank(names []string, windowSize uint64, keepHistory bool) map[string]*measurement.Series {
	bank := make(map[string]*measurement.Series, len(names))
	for _, name := range names {
		if name == "id" {
			continue
		}
		var agg measurement.AggFunc
		switch name {
		case "powerConsumption", "harmonicMean", "geometricMean", "harmonicMeanABS":
			agg = measurement.Last()
		case "energyDelta":
			agg = measurement.PerWindow(int(windowSize))
		}
		s := measurement.New(windowSize, agg)
		s.KeepHistory(keepHistory)
		bank[name] = s
	}
	return bank
}

// Measure registers a raw sample for a named measure, creating its Series
// lazily if the profile didn't already declare it.
func (e *Engine) Measure(name string, value float64) {
	s, ok := e.measurements[name]
	if !ok {
		s = measurement.New(e.cfg.WindowSize, nil)
		e.measurements[name] = s
		logrus.Warnf("initialized measurement for %q in instance %d", name, e.cfg.Tag)
	}
	s.RegisterValue(value)
}

// WindowBoundary reports window-aggregated power/energy/latency measures
// from an EnergyMonitor sample, and recomputes the schedule in Adaptive
// mode. Call once at the start of every window (iteration%windowSize==0);
// the first call (iteration==0) takes no energy sample and only starts the
// monitor, though Adaptive mode still recomputes the schedule. Mirrors
// run_application_body's energy-sampling block.
func (e *Engine) WindowBoundary(iteration uint64) {
	if e.cfg.Mode == Profile {
		return
	}
	if iteration > 0 {
		e.em.Stop()

		if energy, err := e.em.CurrentEnergy(); err == nil {
			e.Measure("energy", energy)
		}

		energyDelta, err := e.em.EnergyDelta()
		if err != nil {
			energyDelta = e.prevOrZero("energyDelta")
		}
		e.Measure("energyDelta", energyDelta)

		power, err := e.em.PowerConsumption()
		if err != nil {
			power = e.prevOrZero("powerConsumption")
		}
		e.Measure("powerConsumption", power)

		if duration, err := e.em.Duration(); err == nil {
			e.Measure("windowLatency", duration)
		}
	}
	e.em.Start()

	if e.cfg.Mode == Adaptive {
		e.recomputeSchedule()
	}
}

func (e *Engine) prevOrZero(name string) float64 {
	s, ok := e.measurements[name]
	if !ok {
		return 0
	}
	v, ok := s.PrevValue()
	if !ok {
		return 0
	}
	return v
}

// recomputeSchedule aggregates the constraint measure over the closing
// window, feeds it through the Controller, and installs the resulting
// schedule.
func (e *Engine) recomputeSchedule() {
	constraintSeries, ok := e.measurements[e.cfg.Goal.Constraint]
	if !ok {
		logrus.Warnf("could not read constraint measurement %q for instance %d, skipping schedule recompute", e.cfg.Goal.Constraint, e.cfg.Tag)
		return
	}
	constraintAverage := constraintSeries.Aggregate()

	lower, upper, nLower := e.ctrl.ComputeSchedule(constraintAverage)
	e.sched = schedule{lower: uint64(lower), upper: uint64(upper), nLower: uint64(nLower)}

	logrus.Infof("obtained new schedule (%d,%d,%d) for window average %v (instance %d)", lower, upper, nLower, constraintAverage, e.cfg.Tag)

	for _, s := range e.measurements {
		s.ResetWindow()
	}
}

// CurrentConfigIndex returns the profile row index currently actuated.
func (e *Engine) CurrentConfigIndex() uint64 { return e.currentIdx }

// MeasureRow returns the profiled measure vector for row idx, for callers
// that synthesize measurements around a configuration's known profile.
func (e *Engine) MeasureRow(idx uint64) []float64 { return e.store.MeasureValues()[idx] }

// MeasureIndexOf returns the column index of a named measure, or -1 if absent.
func (e *Engine) MeasureIndexOf(name string) int { return e.store.MeasureIndex(name) }

// Tick runs one iteration's worth of knob actuation and
// returns the profile index now in effect.
func (e *Engine) Tick(iteration uint64) uint64 {
	return e.actuateKnobs(iteration)
}

func (e *Engine) actuateKnobs(iteration uint64) uint64 {
	if e.cfg.Mode == Profile {
		return 0
	}

	var idx uint64
	if iteration%e.cfg.WindowSize >= e.sched.nLower {
		idx = e.sched.upper
	} else {
		idx = e.sched.lower
	}

	if e.currentIdx == idx {
		return idx
	}

	settings := e.store.KnobSettings(int(idx))
	logrus.Infof("setting knobs to (%d) %v based on sched (%d,%d,%d) (instance %d)", idx, settings, e.sched.lower, e.sched.upper, e.sched.nLower, e.cfg.Tag)

	primary, dependent := partitionByCategory(e.cfg.Knobs)
	for _, name := range primary {
		e.cfg.Knobs[name].Set(settings[name])
	}
	for _, name := range dependent {
		e.cfg.Knobs[name].Set(settings[name])
	}

	e.currentIdx = idx
	return idx
}

// partitionByCategory splits active knob names into Primary (applied
// first) and Dependent (applied after every Primary, since their effect
// depends on the affinity mask Primary knobs establish), each sorted by
// name for deterministic actuation order.
func partitionByCategory(knobs map[string]knob.Tunable[uint64]) (primary, dependent []string) {
	for name, k := range knobs {
		if k.Category() == knob.Dependent {
			dependent = append(dependent, name)
		} else {
			primary = append(primary, name)
		}
	}
	sort.Strings(primary)
	sort.Strings(dependent)
	return primary, dependent
}

// ChangeGoal classifies the difference between newGoal and the engine's
// current goal and applies the minimal corresponding update.
func (e *Engine) ChangeGoal(newGoal goalcfg.Goal) error {
	p := goalcfg.Diff(newGoal, e.cfg.Goal)
	logrus.Infof("perturbing goal to %s (instance %d)", p, e.cfg.Tag)

	switch p.Kind {
	case goalcfg.NoChange:
		return nil
	case goalcfg.ChangeObjective:
		e.cfg.Goal.OptFunc = p.OptFunc
		e.cfg.Goal.OptType = p.OptType
		objMeasures := objective.Identifiers(p.OptFunc)
		objIndices := make([]int, len(objMeasures))
		for i, name := range objMeasures {
			idx := e.store.MeasureIndex(name)
			if idx == -1 {
				return fmt.Errorf("engine: objective measure %q not found in profile", name)
			}
			objIndices[i] = idx
		}
		costModel := e.store.CostModel(objIndices)
		return e.ctrl.ChangeObjective(p.OptType, p.OptFunc, objMeasures, costModel)
	case goalcfg.ChangeConstraintValue:
		e.cfg.Goal.Target = p.NewTarget
		e.ctrl.ChangeTarget(p.NewTarget)
		return nil
	default: // ChangeEntireGoal
		e.cfg.Goal = p.NewGoal
		constraintIdx := e.store.MeasureIndex(p.NewGoal.Constraint)
		if constraintIdx == -1 {
			return fmt.Errorf("engine: constraint measure %q not found in profile", p.NewGoal.Constraint)
		}
		e.store.SortByConstraint(constraintIdx)
		e.constraintIdx = constraintIdx

		objMeasures := objective.Identifiers(p.NewGoal.OptFunc)
		objIndices := make([]int, len(objMeasures))
		for i, name := range objMeasures {
			idx := e.store.MeasureIndex(name)
			if idx == -1 {
				return fmt.Errorf("engine: objective measure %q not found in profile", name)
			}
			objIndices[i] = idx
		}
		costModel := e.store.CostModel(objIndices)
		initialIdx := e.store.FindID(e.cfg.Knobs)
		if initialIdx < 0 {
			initialIdx = 0
		}
		ctrl, err := controller.New(e.cfg.Tag, e.cfg.Kind, e.store.MeasureValues(), costModel,
			p.NewGoal.Target, constraintIdx, int(e.cfg.WindowSize), p.NewGoal.OptType, p.NewGoal.OptFunc, objMeasures, initialIdx, e.cfg.PoleAdapt)
		if err != nil {
			return fmt.Errorf("engine: reinitializing controller for new goal: %w", err)
		}
		e.ctrl = ctrl
		return nil
	}
}

// Freeze switches the engine to NonAdaptive mode: knobs keep actuating from
// the last computed schedule, but no new schedule is computed.
func (e *Engine) Freeze() {
	logrus.Warnf("instance %d changed to NonAdaptive mode", e.cfg.Tag)
	e.cfg.Mode = NonAdaptive
}

// Unfreeze switches the engine back to Adaptive mode.
func (e *Engine) Unfreeze() {
	logrus.Infof("instance %d changed to Adaptive mode", e.cfg.Tag)
	e.cfg.Mode = Adaptive
}

// SetGain, SetMultiplier, SetDerivativeMultiplier and SetProportionalGain
// forward directly to the underlying Controller's xup state machine.
func (e *Engine) SetGain(val float64)                { e.ctrl.SetGain(val) }
func (e *Engine) SetMultiplier(val float64)           { e.ctrl.SetMultiplier(val) }
func (e *Engine) SetDerivativeMultiplier(val float64) { e.ctrl.SetDerivativeMultiplier(val) }
func (e *Engine) SetProportionalGain(val float64)     { e.ctrl.SetProportionalGain(val) }

// UseBasicKalman and UseConstantKalman forward to the underlying
// Controller, swapping its workload estimator before the first schedule is
// computed.
func (e *Engine) UseBasicKalman()                { e.ctrl.UseBasicKalman() }
func (e *Engine) UseConstantKalman(xHat float64) { e.ctrl.UseConstantKalman(xHat) }

// FlushLogs renders the controller's schedule log as CSV.
func (e *Engine) FlushLogs() string { return e.ctrl.FlushLogs() }

// Mode reports the engine's current driving mode.
func (e *Engine) Mode() Mode { return e.cfg.Mode }

// ProfileRow sweeps every knob combination, running iterations samples of
// driver() at each, and returns one measure-table row per combination in
// cartesian-product order alongside the settings used to produce it.
// driver is expected to call Measure for every
// raw sample it produces each iteration; ProfileRow aggregates lifetime
// averages (TotalAverage) into the returned row, deriving performance and
// powerConsumption the way optimize.rs's profile() does.
func (e *Engine) ProfileRow(iterations uint64, driver func(iteration uint64)) ([][]float64, []map[string]uint64, error) {
	combos := cartesianProduct(e.cfg.Knobs)

	var rows [][]float64
	var settings []map[string]uint64

	for _, combo := range combos {
		for name, value := range combo {
			e.cfg.Knobs[name].Set(value)
		}

		for i := uint64(0); i < iterations; i++ {
			driver(i)
		}

		row := make([]float64, len(e.store.MeasureNames))
		for idx, name := range e.store.MeasureNames {
			if name == "id" {
				continue
			}
			s, ok := e.measurements[name]
			if !ok {
				continue
			}
			row[idx] = s.TotalAverage()
		}
		if latIdx := e.store.MeasureIndex("latency"); latIdx >= 0 && row[latIdx] != 0 {
			if perfIdx := e.store.MeasureIndex("performance"); perfIdx >= 0 {
				row[perfIdx] = 1.0 / row[latIdx]
			}
		}
		if edIdx := e.store.MeasureIndex("energyDelta"); edIdx >= 0 {
			if wlIdx := e.store.MeasureIndex("windowLatency"); wlIdx >= 0 && row[wlIdx] != 0 {
				if pcIdx := e.store.MeasureIndex("powerConsumption"); pcIdx >= 0 {
					row[pcIdx] = row[edIdx] / row[wlIdx]
				}
			}
		}

		rows = append(rows, row)
		settings = append(settings, combo)

		for _, s := range e.measurements {
			s.ResetComplete()
		}
	}
	return rows, settings, nil
}

// cartesianProduct enumerates every combination of the active knobs'
// permitted values, in deterministic (sorted-by-name) order, matching
// prepare_profile_tables's multi_cartesian_product.
func cartesianProduct(knobs map[string]knob.Tunable[uint64]) []map[string]uint64 {
	names := make([]string, 0, len(knobs))
	for name := range knobs {
		names = append(names, name)
	}
	sort.Strings(names)

	combos := []map[string]uint64{{}}
	for _, name := range names {
		values := knobs[name].PossibleValues()
		var next []map[string]uint64
		for _, combo := range combos {
			for _, v := range values {
				extended := make(map[string]uint64, len(combo)+1)
				for k, existing := range combo {
					extended[k] = existing
				}
				extended[name] = v
				next = append(next, extended)
			}
		}
		combos = next
	}
	return combos
}
