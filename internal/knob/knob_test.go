package knob

import "testing"

func TestApplicationKnobSetAndGet(t *testing.T) {
	var calls [][2]int
	k := NewApplicationKnob("cores", Primary, []int{1, 2, 4, 8}, 1, func(prev *int, next int) {
		p := -1
		if prev != nil {
			p = *prev
		}
		calls = append(calls, [2]int{p, next})
	})
	if k.Get() != 1 {
		t.Fatalf("expected initial value 1, got %d", k.Get())
	}
	k.Set(4)
	if k.Get() != 4 {
		t.Fatalf("expected 4 after Set, got %d", k.Get())
	}
	k.Set(4) // no-op, should not invoke apply again
	if len(calls) != 2 {
		t.Fatalf("expected 2 apply invocations (init + one change), got %d", len(calls))
	}
	if calls[1] != [2]int{1, 4} {
		t.Fatalf("expected transition (1 -> 4), got %v", calls[1])
	}
}

func TestConstantKnobRejectsChange(t *testing.T) {
	k := NewConstantKnob("cacheCOS", uint64(0))
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when setting a constant knob to a new value")
		}
	}()
	k.Set(1)
}

func TestConstantKnobAllowsSameValue(t *testing.T) {
	k := NewConstantKnob("cacheCOS", uint64(3))
	k.Set(3)
	if k.Get() != 3 {
		t.Fatalf("expected 3, got %d", k.Get())
	}
}

func TestKnobCategory(t *testing.T) {
	primary := NewApplicationKnob("cores", Primary, []int{1, 2}, 1, nil)
	dependent := NewApplicationKnob("hyperthreading", Dependent, []int{0, 1}, 0, nil)
	if primary.Category() != Primary {
		t.Fatalf("expected Primary category")
	}
	if dependent.Category() != Dependent {
		t.Fatalf("expected Dependent category")
	}
}

func TestPossibleValuesIsACopy(t *testing.T) {
	k := NewApplicationKnob("cores", Primary, []int{1, 2, 4}, 1, nil)
	values := k.PossibleValues()
	values[0] = 99
	if k.PossibleValues()[0] != 1 {
		t.Fatalf("PossibleValues should return a defensive copy")
	}
}
