package objective

import (
	"math"
	"testing"
)

func TestIdentifiers(t *testing.T) {
	ids := Identifiers("performance / powerConsumption")
	if len(ids) != 2 || ids[0] != "performance" || ids[1] != "powerConsumption" {
		t.Fatalf("unexpected identifiers: %v", ids)
	}
}

func TestClassify(t *testing.T) {
	if ClassifyByMeasureCount(0) != Value {
		t.Fatal("0 measures should classify as Value")
	}
	if ClassifyByMeasureCount(1) != Value {
		t.Fatal("1 measure should classify as Value")
	}
	if ClassifyByMeasureCount(2) != Expression {
		t.Fatal("2 measures should classify as Expression")
	}
}

func TestEvaluateDivision(t *testing.T) {
	expr, err := Compile("performance / powerConsumption")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	got := expr.Evaluate(map[string]float64{"performance": 100, "powerConsumption": 10})
	if math.Abs(got-10.0) > 1e-9 {
		t.Fatalf("expected 10.0, got %v", got)
	}

	got = expr.Evaluate(map[string]float64{"performance": 200, "powerConsumption": 10})
	if math.Abs(got-20.0) > 1e-9 {
		t.Fatalf("expected 20.0, got %v", got)
	}
}

func TestEvaluateDivisionByZeroDoesNotPanic(t *testing.T) {
	expr, err := Compile("performance / powerConsumption")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	got := expr.Evaluate(map[string]float64{"performance": 100, "powerConsumption": 0})
	if !math.IsInf(got, 1) {
		t.Fatalf("expected +Inf for division by zero, got %v", got)
	}
}

func TestEvaluatePrecedenceAndParens(t *testing.T) {
	expr, err := Compile("(a + b) * c - d / e")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	got := expr.Evaluate(map[string]float64{"a": 1, "b": 2, "c": 3, "d": 8, "e": 4})
	want := (1.0 + 2.0) * 3.0 - 8.0/4.0
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestEvaluateUnaryMinus(t *testing.T) {
	expr, err := Compile("-a * b")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	got := expr.Evaluate(map[string]float64{"a": 5, "b": 2})
	if got != -10 {
		t.Fatalf("expected -10, got %v", got)
	}
}
