package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/apto/aptoctl/internal/goalcfg"
	"github.com/apto/aptoctl/internal/knob"
	"github.com/apto/aptoctl/internal/profile"
	"github.com/apto/aptoctl/internal/scheduler"
)

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func sampleStoreAndKnobs(t *testing.T) (*profile.Store, map[string]knob.Tunable[uint64]) {
	t.Helper()
	dir := t.TempDir()
	mt := writeCSV(t, dir, "mt.csv", "id,performance,powerConsumption\n0,1.0,10.0\n1,1.5,12.0\n2,2.0,15.0\n")
	kt := writeCSV(t, dir, "kt.csv", "id,cores\n0,1\n1,2\n2,4\n")
	store, err := profile.Load(mt, kt, "performance")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	cores := knob.NewApplicationKnob[uint64]("cores", knob.Primary, []uint64{1, 2, 4}, 1, nil)
	return store, map[string]knob.Tunable[uint64]{"cores": cores}
}

func sampleGoal() goalcfg.Goal {
	return goalcfg.Goal{
		Constraint: "performance",
		Target:     1.5,
		OptType:    scheduler.Minimize,
		OptFunc:    "powerConsumption",
	}
}

func TestNewEngineActuatesInitialConfig(t *testing.T) {
	store, knobs := sampleStoreAndKnobs(t)
	e, err := New(store, Config{Tag: 1, WindowSize: 4, Mode: Adaptive, Goal: sampleGoal(), Knobs: knobs})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.currentIdx == ^uint64(0) {
		t.Fatalf("expected initial knob actuation to have set currentIdx")
	}
}

func TestWindowBoundaryAdaptiveRecomputesSchedule(t *testing.T) {
	store, knobs := sampleStoreAndKnobs(t)
	e, err := New(store, Config{Tag: 1, WindowSize: 4, Mode: Adaptive, Goal: sampleGoal(), Knobs: knobs})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e.Measure("performance", 1.2)
	e.Measure("performance", 1.3)
	e.WindowBoundary(0)
	if e.ctrl.ScheduleCount() != 1 {
		t.Fatalf("expected one scheduled window, got %d", e.ctrl.ScheduleCount())
	}
}

func TestTickSwitchesFromLowerToUpperAtBoundary(t *testing.T) {
	store, knobs := sampleStoreAndKnobs(t)
	e, err := New(store, Config{Tag: 1, WindowSize: 4, Mode: NonAdaptive, Goal: sampleGoal(), Knobs: knobs})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.sched = schedule{lower: 0, upper: 2, nLower: 2}
	e.currentIdx = ^uint64(0)

	idx := e.Tick(0)
	if idx != 0 {
		t.Fatalf("expected lower config at iteration 0, got %d", idx)
	}
	idx = e.Tick(2)
	if idx != 2 {
		t.Fatalf("expected upper config at iteration 2, got %d", idx)
	}
}

func TestChangeGoalConstraintValueOnly(t *testing.T) {
	store, knobs := sampleStoreAndKnobs(t)
	e, err := New(store, Config{Tag: 1, WindowSize: 4, Mode: Adaptive, Goal: sampleGoal(), Knobs: knobs})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	newGoal := sampleGoal()
	newGoal.Target = 2.0
	if err := e.ChangeGoal(newGoal); err != nil {
		t.Fatalf("ChangeGoal: %v", err)
	}
	if e.cfg.Goal.Target != 2.0 {
		t.Fatalf("expected target updated to 2.0, got %v", e.cfg.Goal.Target)
	}
}

func TestChangeGoalEntireGoalReinitializesController(t *testing.T) {
	store, knobs := sampleStoreAndKnobs(t)
	e, err := New(store, Config{Tag: 1, WindowSize: 4, Mode: Adaptive, Goal: sampleGoal(), Knobs: knobs})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	oldCtrl := e.ctrl

	newGoal := goalcfg.Goal{
		Constraint: "powerConsumption",
		Target:     12.0,
		OptType:    scheduler.Maximize,
		OptFunc:    "performance",
	}
	if err := e.ChangeGoal(newGoal); err != nil {
		t.Fatalf("ChangeGoal: %v", err)
	}
	if e.ctrl == oldCtrl {
		t.Fatalf("expected controller to be reinitialized on ChangeEntireGoal")
	}
}

func TestFreezeAndUnfreeze(t *testing.T) {
	store, knobs := sampleStoreAndKnobs(t)
	e, err := New(store, Config{Tag: 1, WindowSize: 4, Mode: Adaptive, Goal: sampleGoal(), Knobs: knobs})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.Freeze()
	if e.Mode() != NonAdaptive {
		t.Fatalf("expected NonAdaptive after Freeze")
	}
	e.Unfreeze()
	if e.Mode() != Adaptive {
		t.Fatalf("expected Adaptive after Unfreeze")
	}
}

func TestProfileRowSweepsCartesianProduct(t *testing.T) {
	store, knobs := sampleStoreAndKnobs(t)
	e, err := New(store, Config{Tag: 1, WindowSize: 4, Mode: Profile, Goal: sampleGoal(), Knobs: knobs})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rows, settings, err := e.ProfileRow(2, func(i uint64) {
		e.Measure("performance", 1.0)
		e.Measure("powerConsumption", 10.0)
	})
	if err != nil {
		t.Fatalf("ProfileRow: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows (one per cores value), got %d", len(rows))
	}
	if len(settings) != 3 {
		t.Fatalf("expected 3 settings entries, got %d", len(settings))
	}
}

func TestCurrentConfigIndexAndMeasureRow(t *testing.T) {
	store, knobs := sampleStoreAndKnobs(t)
	e, err := New(store, Config{Tag: 1, WindowSize: 4, Mode: Adaptive, Goal: sampleGoal(), Knobs: knobs})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	idx := e.CurrentConfigIndex()
	row := e.MeasureRow(idx)
	perfIdx := e.MeasureIndexOf("performance")
	if perfIdx < 0 {
		t.Fatalf("expected performance measure to be found")
	}
	if row[perfIdx] <= 0 {
		t.Fatalf("expected a positive profiled performance value, got %v", row[perfIdx])
	}
	if e.MeasureIndexOf("does-not-exist") != -1 {
		t.Fatalf("expected -1 for an unknown measure name")
	}
}

func TestSetProportionalGainAndKalmanSwitchForward(t *testing.T) {
	store, knobs := sampleStoreAndKnobs(t)
	e, err := New(store, Config{Tag: 1, WindowSize: 4, Mode: Adaptive, Goal: sampleGoal(), Knobs: knobs})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// These forward straight to the underlying Controller (tested directly
	// in internal/controller); here we only confirm Engine wires them
	// through without panicking and that scheduling still proceeds.
	e.SetProportionalGain(0.3)
	e.UseBasicKalman()
	e.WindowBoundary(0)
	e.UseConstantKalman(0.4)
	e.WindowBoundary(4)
}
