// Package goalcfg loads the optimization Goal from YAML and classifies the
// difference between two goals as a Perturbation. Grounded on
// original_source/apto/src/goal.rs, with strict, unknown-fields-rejected
// YAML decoding.
package goalcfg

import (
	"bytes"
	"fmt"
	"os"

	"github.com/apto/aptoctl/internal/scheduler"
	"gopkg.in/yaml.v3"
)

// Goal is the controller's optimization target: minimize or maximize
// OptFunc subject to Constraint reaching Target.
type Goal struct {
	Constraint string           `yaml:"constraint"`
	Target     float64          `yaml:"target"`
	OptType    scheduler.OptType `yaml:"-"`
	OptTypeRaw string           `yaml:"opt_type"`
	OptFunc    string           `yaml:"opt_func"`
}

// Load reads and strictly decodes a Goal from a YAML file, rejecting
// unknown fields.
func Load(path string) (Goal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Goal{}, fmt.Errorf("reading goal file %s: %w", path, err)
	}

	var g Goal
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&g); err != nil {
		return Goal{}, fmt.Errorf("parsing goal YAML %s: %w", path, err)
	}

	switch g.OptTypeRaw {
	case "Minimize", "minimize":
		g.OptType = scheduler.Minimize
	case "Maximize", "maximize":
		g.OptType = scheduler.Maximize
	default:
		return Goal{}, fmt.Errorf("goal %s: unrecognized opt_type %q", path, g.OptTypeRaw)
	}
	return g, nil
}

func (g Goal) optTypeName() string {
	if g.OptType == scheduler.Maximize {
		return "Maximize"
	}
	return "Minimize"
}

func (g Goal) String() string {
	return fmt.Sprintf("%s(%s) such that %s == %v", g.optTypeName(), g.OptFunc, g.Constraint, g.Target)
}

// PerturbationKind classifies how a new Goal differs from the one it
// replaces.
type PerturbationKind int

const (
	NoChange PerturbationKind = iota
	ChangeObjective
	ChangeConstraintValue
	ChangeEntireGoal
)

// Perturbation is the classified difference between a new and old Goal, as
// computed by Diff.
type Perturbation struct {
	Kind       PerturbationKind
	OptType    scheduler.OptType
	OptFunc    string
	NewTarget  float64
	NewGoal    Goal
}

func (p Perturbation) String() string {
	switch p.Kind {
	case NoChange:
		return "NONE"
	case ChangeObjective:
		optName := "Minimize"
		if p.OptType == scheduler.Maximize {
			optName = "Maximize"
		}
		return fmt.Sprintf("%s(%s)", optName, p.OptFunc)
	case ChangeConstraintValue:
		return fmt.Sprintf("constraint value: %v", p.NewTarget)
	default:
		return fmt.Sprintf("new goal: %s", p.NewGoal)
	}
}

// Diff classifies how newGoal differs from oldGoal: identical
// goals yield NoChange; a change confined to opt_type/opt_func yields
// ChangeObjective; a change confined to target yields ChangeConstraintValue;
// anything touching constraint (or mixing the above) yields ChangeEntireGoal.
func Diff(newGoal, oldGoal Goal) Perturbation {
	sameConstraint := newGoal.Constraint == oldGoal.Constraint
	sameTarget := newGoal.Target == oldGoal.Target
	sameObjective := newGoal.OptType == oldGoal.OptType && newGoal.OptFunc == oldGoal.OptFunc

	switch {
	case sameConstraint && sameTarget && sameObjective:
		return Perturbation{Kind: NoChange}
	case sameConstraint && sameTarget && !sameObjective:
		return Perturbation{Kind: ChangeObjective, OptType: newGoal.OptType, OptFunc: newGoal.OptFunc}
	case sameConstraint && !sameTarget && sameObjective:
		return Perturbation{Kind: ChangeConstraintValue, NewTarget: newGoal.Target}
	default:
		return Perturbation{Kind: ChangeEntireGoal, NewGoal: newGoal}
	}
}
