package kalman

import (
	"math"
	"testing"
)

func TestFullKalmanScenarioS3(t *testing.T) {
	f := New()
	workload := f.EstimateBaseWorkload(1.5, 3.0)

	wantK := (1.00001 * 1.5) / (1.5 * 1.00001 * 1.5 + 0.01)
	if math.Abs(f.K-wantK) > 1e-4 {
		t.Fatalf("expected K ~= %v, got %v", wantK, f.K)
	}

	wantXHat := 0.2 + f.K*(3.0-1.5*0.2)
	if math.Abs(f.XHat-wantXHat) > 1e-9 {
		t.Fatalf("expected x_hat ~= %v, got %v", wantXHat, f.XHat)
	}

	wantWorkload := 1.0 / f.XHat
	if math.Abs(workload-wantWorkload) > 1e-12 {
		t.Fatalf("expected workload %v, got %v", wantWorkload, workload)
	}
}

func TestConstantModeAlwaysReturnsFixedWorkload(t *testing.T) {
	f := NewConstant(0.5)
	for i := 0; i < 5; i++ {
		w := f.EstimateBaseWorkload(1.2, 10.0)
		if w != 2.0 {
			t.Fatalf("expected constant workload 2.0, got %v", w)
		}
	}
}

func TestBasicModeBlendsTowardMeasurement(t *testing.T) {
	f := NewBasic()
	f.SetMultiplier(1.0) // fully trust the new measurement
	w := f.EstimateBaseWorkload(2.0, 4.0)
	// x_hat = (1-1)*0.2 + 1*(4.0/2.0) = 2.0 -> workload = 0.5
	if math.Abs(w-0.5) > 1e-12 {
		t.Fatalf("expected workload 0.5, got %v", w)
	}
}

func TestFullKalmanPIsMonotonicallyBoundedByUpdate(t *testing.T) {
	f := New()
	for i := 0; i < 10; i++ {
		f.EstimateBaseWorkload(1.0+0.1*float64(i), 1.0)
		if f.P < 0 {
			t.Fatalf("covariance P should never go negative, got %v at iteration %d", f.P, i)
		}
	}
}
