// Package controller composes the Kalman workload estimator, xup state
// machine, pole-adaptation regulator and two-point bracketing scheduler into
// the per-tag control loop the engine drives once per window.
// Grounded on
// OptimizingController/src/controller/optimizing_controller.rs,
// controller_context.rs and controller_logging.rs.
package controller

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/apto/aptoctl/internal/kalman"
	"github.com/apto/aptoctl/internal/objective"
	"github.com/apto/aptoctl/internal/poleadapt"
	"github.com/apto/aptoctl/internal/scheduler"
	"github.com/apto/aptoctl/internal/xupstate"
)

// Kind selects which law the xup state machine uses and where an adapted
// multiplier is applied.
type Kind int

const (
	// ControlMultiConf drives the pole-placement law and applies an
	// adapted multiplier to the xup state's own gain.
	ControlMultiConf Kind = iota
	// RLMultiConf drives the learning-based law and applies an adapted
	// multiplier to the Kalman filter's EWMA smoothing factor (A) instead.
	RLMultiConf
	// RLSingleConf is RLMultiConf with the single-configuration scheduler
	// (ComputeSingle) instead of two-point bracketing.
	RLSingleConf
)

func (k Kind) String() string {
	switch k {
	case ControlMultiConf:
		return "ControlMultiConf"
	case RLMultiConf:
		return "RLMultiConf"
	case RLSingleConf:
		return "RLSingleConf"
	default:
		return "unknown"
	}
}

// defaultLogCapacity bounds the in-memory schedule log ring so a
// long-running Adaptive session doesn't grow it unboundedly.
const defaultLogCapacity = 4096

// logEntry is one row of the schedule log, capturing every
// signal a post-hoc analysis of the control loop needs.
type logEntry struct {
	scheduleID   int
	tag          uint64
	measured     float64
	workload     float64
	xHatMinus    float64
	xHat         float64
	pMinus       float64
	h            float64
	k            float64
	p            float64
	p1           float64
	u            float64
	e            float64
	diff         float64
	lowerIdx     int
	upperIdx     int
	nLower       int
	oscillating  bool
}

func (l logEntry) String() string {
	return fmt.Sprintf("%d,%d,%v,%v,%v,%v,%v,%v,%v,%v,%v,%v,%v,%v,%d,%d,%d,%v",
		l.scheduleID, l.tag, l.measured, l.workload, l.xHatMinus, l.xHat, l.pMinus,
		l.h, l.k, l.p, l.p1, l.u, l.e, l.diff, l.lowerIdx, l.upperIdx, l.nLower, l.oscillating)
}

// logHeader matches the column order logEntry.String emits.
const logHeader = "ID,Tag,Constraint,Workload,kf.x_hat_minus,kf.x_hat,kf.p_minus,kf.h,kf.k,kf.p,xs.pole,xs.u,xs.e,diff,sched.idLower,sched.idUpper,sched.nLowerIterations,sched.oscillating"

// ctx bundles the optimization objective state a Controller evaluates the
// scheduler against, mirroring ControllerContext.
type ctx struct {
	constraint           float64
	constrainedMeasureIdx int
	optType              scheduler.OptType
	expr                 *objective.Expr
	exprType             objective.Type
	model                [][]float64
	costModel            [][]float64
	xupModel             []float64
	window               int
	objMeasures          []string
}

func newCtx(model, costModel [][]float64, constraint float64, constrainedMeasureIdx, window int, optType scheduler.OptType, objFunc string, objMeasures []string) (*ctx, error) {
	baseValue := model[0][constrainedMeasureIdx]
	xupModel := make([]float64, len(model))
	for i, row := range model {
		xupModel[i] = row[constrainedMeasureIdx] / baseValue
	}
	xupModel[0] = 1.0

	exprType := objective.ClassifyByMeasureCount(len(objMeasures))
	expr, err := objective.Compile(objFunc)
	if err != nil {
		return nil, fmt.Errorf("compiling objective %q: %w", objFunc, err)
	}

	return &ctx{
		constraint:            constraint,
		constrainedMeasureIdx: constrainedMeasureIdx,
		optType:               optType,
		expr:                  expr,
		exprType:              exprType,
		model:                 model,
		costModel:             costModel,
		xupModel:              xupModel,
		window:                window,
		objMeasures:           objMeasures,
	}, nil
}

func (c *ctx) changeOptExpr(optType scheduler.OptType, exprStr string, objMeasures []string, costModel [][]float64) error {
	expr, err := objective.Compile(exprStr)
	if err != nil {
		return fmt.Errorf("compiling objective %q: %w", exprStr, err)
	}
	c.objMeasures = objMeasures
	c.exprType = objective.ClassifyByMeasureCount(len(objMeasures))
	c.optType = optType
	c.expr = expr
	c.costModel = costModel
	return nil
}

// Controller is the per-tag control loop: one instance per independently
// tuned knob group.
type Controller struct {
	Tag uint64
	Kind Kind

	ctx *ctx
	kf  *kalman.Filter
	xs  *xupstate.State
	pa  *poleadapt.Adapter

	schedXup      float64
	scheduleCount int

	log         []logEntry
	logCapacity int
}

// New constructs a Controller. initialModelEntryIdx selects the profile row
// whose xup seeds the xup state machine and the scheduler's starting point.
func New(tag uint64, kind Kind, model, costModel [][]float64, constraint float64, constrainedMeasureIdx, window int, optType scheduler.OptType, objFunc string, objMeasures []string, initialModelEntryIdx int, pa *poleadapt.Adapter) (*Controller, error) {
	c, err := newCtx(model, costModel, constraint, constrainedMeasureIdx, window, optType, objFunc, objMeasures)
	if err != nil {
		return nil, err
	}

	initialXup := c.xupModel[initialModelEntryIdx]
	xs := xupstate.New(initialXup)
	if kind != ControlMultiConf {
		xs.Law = xupstate.LearningBased
	}

	if pa == nil {
		pa = poleadapt.New()
	}

	logrus.Infof("controller tag=%d: initialized at model_entry_idx=%d initial_xup=%v kind=%s", tag, initialModelEntryIdx, initialXup, kind)

	return &Controller{
		Tag:         tag,
		Kind:        kind,
		ctx:         c,
		kf:          kalman.New(),
		xs:          xs,
		pa:          pa,
		schedXup:    initialXup,
		logCapacity: defaultLogCapacity,
	}, nil
}

// SetLogCapacity overrides the schedule log ring's capacity; entries beyond
// it evict the oldest first.
func (c *Controller) SetLogCapacity(n int) {
	c.logCapacity = n
}

// ComputeSchedule runs one window's worth of the control loop: estimate
// workload from the measured constraint, adapt the xup multiplier via the
// pole-adaptation regulator, compute the next xup target, and bracket it
// into a (lower, upper, nLower) schedule.
func (c *Controller) ComputeSchedule(measuredConstraint float64) (lower, upper, nLower int) {
	mdiff := (c.schedXup * (1.0 / c.kf.XHat)) - measuredConstraint
	workload := c.kf.EstimateBaseWorkload(c.schedXup, measuredConstraint)
	multiplier := c.pa.CalculateMultiplier(mdiff, measuredConstraint, c.kf.XHat)

	switch c.Kind {
	case ControlMultiConf:
		c.xs.SetMultiplier(multiplier)
	default:
		c.kf.A = multiplier
	}

	maxXup := c.ctx.xupModel[len(c.ctx.xupModel)-1]
	xup := c.xs.CalculateXup(c.ctx.constraint, measuredConstraint, workload, maxXup)
	c.schedXup = xup

	var sched scheduler.Schedule
	if c.Kind == RLSingleConf {
		sched, c.schedXup = scheduler.ComputeSingle(xup, c.ctx.xupModel, c.ctx.window)
	} else {
		sched = scheduler.Compute(xup, scheduler.Params{
			XupModel:   c.ctx.xupModel,
			CostModel:  c.ctx.costModel,
			ExprType:   c.ctx.exprType,
			Expr:       c.ctx.expr,
			CostNames:  c.ctx.objMeasures,
			OptType:    c.ctx.optType,
			WindowSize: c.ctx.window,
		})
	}

	logrus.Infof("tag=%d measured=%v workload=%v derivative=%v xup=%v sched_xup=%v", c.Tag, measuredConstraint, workload, c.xs.ED, xup, c.schedXup)

	c.appendLog(logEntry{
		scheduleID: c.scheduleCount,
		tag:        c.Tag,
		measured:   measuredConstraint,
		workload:   workload,
		xHatMinus:  c.kf.XHatMinus,
		xHat:       c.kf.XHat,
		pMinus:     c.kf.PMinus,
		h:          c.kf.H,
		k:          c.kf.K,
		p:          c.kf.P,
		p1:         c.xs.P1,
		u:          c.xs.U,
		e:          c.xs.E,
		diff:       mdiff / c.kf.XHat,
		lowerIdx:   sched.Lower,
		upperIdx:   sched.Upper,
		nLower:     sched.NLower,
	})
	c.scheduleCount++

	return sched.Lower, sched.Upper, sched.NLower
}

// AdaptMultiplier recomputes the pole multiplier from the last two logged
// prediction errors and applies it to the xup state (ControlMultiConf) or
// the Kalman filter's A term (otherwise). With fewer than two logged
// windows there is nothing to difference against, so the call is a no-op.
func (c *Controller) AdaptMultiplier(mdiff, derivativeTarget float64) {
	if len(c.log) < 2 {
		logrus.Warnf("tag=%d: multiplier cannot be adapted without two windows of history, ignoring", c.Tag)
		return
	}

	last := c.log[len(c.log)-1]
	secondLast := c.log[len(c.log)-2]

	currentWorkload := 1.0 / c.kf.XHat
	e := currentWorkload * mdiff
	eo, eoo := last.diff, secondLast.diff

	derivative := e - 2.0*eo + eoo
	inaccuracy := derivative
	if inaccuracy < 0 {
		inaccuracy = -inaccuracy
	}

	var pole float64
	if inaccuracy > derivativeTarget {
		pole = 1.0 - (derivativeTarget / inaccuracy)
		if pole < 0 {
			pole = 0
		}
		if pole > 0.95 {
			pole = 0.95
		}
	} else if c.Kind == ControlMultiConf {
		pole = 1.0 - c.xs.Multiplier()
	} else {
		pole = c.kf.A
	}

	logrus.Infof("multiplier adaptation tag=%d workload=%v pole=%v derivative=%v inaccuracy=%v e=%v eo=%v eoo=%v", c.Tag, currentWorkload, pole, derivative, inaccuracy, e, eo, eoo)

	if c.Kind == ControlMultiConf {
		c.xs.SetMultiplier(1.0 - pole)
	} else {
		c.kf.SetMultiplier(1.0 - pole)
	}
}

func (c *Controller) appendLog(e logEntry) {
	c.log = append(c.log, e)
	if len(c.log) > c.logCapacity {
		c.log = c.log[len(c.log)-c.logCapacity:]
	}
}

// SetGain sets the xup state machine's control-law gain constant (mu).
func (c *Controller) SetGain(val float64) { c.xs.SetGain(val) }

// SetMultiplier directly sets the xup state machine's pole multiplier,
// bypassing adaptation.
func (c *Controller) SetMultiplier(val float64) { c.xs.SetMultiplier(val) }

// SetDerivativeMultiplier sets the xup state machine's derivative gain.
func (c *Controller) SetDerivativeMultiplier(val float64) { c.xs.SetDerivativeGain(val) }

// SetProportionalGain sets the xup state machine's proportional gain (kp).
func (c *Controller) SetProportionalGain(val float64) { c.xs.SetProportionalGain(val) }

// UseBasicKalman switches the workload estimator to the EWMA ("basic")
// law, preserving the current smoothing factor. Intended for callers in
// learning-based mode, which drive the Kalman filter's A term through
// AdaptMultiplier rather than the xup state's pole multiplier.
func (c *Controller) UseBasicKalman() {
	a := c.kf.A
	c.kf = kalman.NewBasic()
	c.kf.A = a
}

// UseConstantKalman fixes the workload estimate at a caller-supplied value,
// bypassing both the full and basic estimation laws entirely.
func (c *Controller) UseConstantKalman(xHat float64) {
	c.kf = kalman.NewConstant(xHat)
}

// ChangeObjective swaps the optimization objective and its cost model
// in-place, without resetting the control loop's estimator state.
func (c *Controller) ChangeObjective(optType scheduler.OptType, exprStr string, objMeasures []string, costModel [][]float64) error {
	return c.ctx.changeOptExpr(optType, exprStr, objMeasures, costModel)
}

// ChangeTarget updates the constraint's target value in-place.
func (c *Controller) ChangeTarget(newValue float64) {
	c.ctx.constraint = newValue
}

// FlushLogs renders the entire schedule log as CSV text, header first.
func (c *Controller) FlushLogs() string {
	out := logHeader + "\n"
	for _, e := range c.log {
		out += e.String() + "\n"
	}
	return out
}

// ScheduleCount returns how many windows have been scheduled so far.
func (c *Controller) ScheduleCount() int { return c.scheduleCount }

// SchedXup returns the current target speedup the scheduler is tracking.
func (c *Controller) SchedXup() float64 { return c.schedXup }
