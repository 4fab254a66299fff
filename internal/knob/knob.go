// Package knob implements the interior-mutable value holders the engine
// actuates every window: core count, frequency, hyperthreading, cache
// partition class, and any application-specific tunable.
//
// Actually writing MSRs, cpufreq files, or affinity masks is out of scope
// — ApplyFunc is the seam a real actuator backend plugs into.
package knob

import "fmt"

// Category distinguishes knobs whose actuation order matters. Hyperthreading
// and cache-partition knobs depend on the affinity mask produced by the
// core/thread knobs, so they must be applied after every Primary knob in the
// same window.
type Category int

const (
	// Primary knobs (core count, frequency, ...) are applied first.
	Primary Category = iota
	// Dependent knobs (hyperthreading, cache partition class) are applied
	// after every Primary knob, since their effect depends on the affinity
	// mask those knobs establish.
	Dependent
)

// ApplyFunc is invoked whenever a knob's value changes, with the previous
// value (nil the first time) and the new value. A real backend wires MSR
// writes, cpufreq file writes, or nginx control through this seam; it never
// runs inside this package.
type ApplyFunc[T comparable] func(prev *T, next T)

// Tunable is an interior-mutable knob: readable, settable, and able to
// report the set of values it may legally take on.
type Tunable[T comparable] interface {
	Name() string
	Category() Category
	Get() T
	Set(val T)
	PossibleValues() []T
}

// generic holds the state shared by every Tunable implementation.
type generic[T comparable] struct {
	name      string
	category  Category
	permitted []T
	current   T
	apply     ApplyFunc[T]
}

func (g *generic[T]) Name() string          { return g.name }
func (g *generic[T]) Category() Category    { return g.category }
func (g *generic[T]) Get() T                { return g.current }
func (g *generic[T]) PossibleValues() []T   { return append([]T(nil), g.permitted...) }

func (g *generic[T]) set(val T) {
	if g.current == val {
		return
	}
	prev := g.current
	g.current = val
	if g.apply != nil {
		g.apply(&prev, val)
	}
}

// ApplicationKnob is a knob whose permitted values come from offline
// profiling (core count, frequency step, hyperthreading state, ...).
// Grounded on apto/src/knobs/mod.rs's ApplicationKnob.
type ApplicationKnob[T comparable] struct {
	generic[T]
}

// NewApplicationKnob constructs a knob and immediately fires ApplyFunc with a
// nil previous value, matching the initial apply call at construction.
func NewApplicationKnob[T comparable](name string, category Category, values []T, initial T, apply ApplyFunc[T]) *ApplicationKnob[T] {
	k := &ApplicationKnob[T]{generic[T]{
		name:      name,
		category:  category,
		permitted: append([]T(nil), values...),
		current:   initial,
		apply:     apply,
	}}
	if apply != nil {
		apply(nil, initial)
	}
	return k
}

// Set actuates the knob, invoking ApplyFunc only when the value changes.
func (k *ApplicationKnob[T]) Set(val T) { k.set(val) }

// ConstantKnob is a knob fixed at construction; Set panics if given any
// value other than the constant, matching apto's ConstantKnob semantics
// (the profile restricts to the single permitted value, so a mismatched
// Set indicates a profiling or wiring bug, not a runtime condition to
// recover from).
type ConstantKnob[T comparable] struct {
	generic[T]
}

// NewConstantKnob constructs a knob with exactly one permitted value.
func NewConstantKnob[T comparable](name string, value T) *ConstantKnob[T] {
	return &ConstantKnob[T]{generic[T]{
		name:      name,
		category:  Primary,
		permitted: []T{value},
		current:   value,
	}}
}

// Set panics unless val equals the constant value.
func (k *ConstantKnob[T]) Set(val T) {
	if val != k.current {
		panic(fmt.Sprintf("knob %q is constant at %v, cannot set to %v", k.name, k.current, val))
	}
}
