package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/apto/aptoctl/internal/knob"
)

func writeKnobTable(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "knobs.csv")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing knob table: %v", err)
	}
	return path
}

func TestBuildKnobsFromTable_DerivesPossibleValuesAndInitial(t *testing.T) {
	path := writeKnobTable(t, "id,core_count,frequency\n0,2,10\n1,4,10\n2,4,20\n")

	knobs, err := buildKnobsFromTable(path)
	if err != nil {
		t.Fatalf("buildKnobsFromTable: %v", err)
	}

	core, ok := knobs["core_count"]
	if !ok {
		t.Fatal("expected core_count knob")
	}
	if got := core.PossibleValues(); len(got) != 2 || got[0] != 2 || got[1] != 4 {
		t.Errorf("core_count possible values = %v, want [2 4]", got)
	}
	if got := core.Get(); got != 2 {
		t.Errorf("core_count initial = %d, want 2 (first row)", got)
	}
	if core.Category() != knob.Primary {
		t.Errorf("core_count category = %v, want Primary", core.Category())
	}
}

func TestBuildKnobsFromTable_DependentKnobsCategorized(t *testing.T) {
	path := writeKnobTable(t, "id,core_count,hyperthreading\n0,2,0\n1,2,1\n")

	knobs, err := buildKnobsFromTable(path)
	if err != nil {
		t.Fatalf("buildKnobsFromTable: %v", err)
	}

	if knobs["hyperthreading"].Category() != knob.Dependent {
		t.Errorf("hyperthreading must be categorized Dependent")
	}
	if knobs["core_count"].Category() != knob.Primary {
		t.Errorf("core_count must be categorized Primary")
	}
}

func TestBuildKnobsFromTable_SkipsIDColumn(t *testing.T) {
	path := writeKnobTable(t, "id,core_count\n0,2\n1,4\n")

	knobs, err := buildKnobsFromTable(path)
	if err != nil {
		t.Fatalf("buildKnobsFromTable: %v", err)
	}
	if _, ok := knobs["id"]; ok {
		t.Error("id column must not become a knob")
	}
}

func TestBuildKnobsFromTable_MissingFile(t *testing.T) {
	if _, err := buildKnobsFromTable(filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDistinctSortedUint64(t *testing.T) {
	got := distinctSortedUint64([]uint64{4, 2, 2, 4, 1})
	want := []uint64{1, 2, 4}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
