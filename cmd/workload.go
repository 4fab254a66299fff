package cmd

import (
	"context"
	"math/rand"
	"time"

	"github.com/apto/aptoctl/internal/engine"
)

// startSyntheticSource launches a background generator that samples the
// constraint measure of whatever configuration e currently has actuated,
// perturbed by gaussian noise, and delivers it on the returned channel
// once per period — a synthetic stand-in for GeneratePoissonArrivals'
// role in the simulator, driving the engine without a live traffic tap.
// Real measurement delivery plugs in behind mqueue.MeasurementSource
// instead; this is only the demo/test producer for "aptoctl run".
func startSyntheticSource(ctx context.Context, e *engine.Engine, constraintName string, seed int64, noise float64, period time.Duration) <-chan float64 {
	ch := make(chan float64)
	rng := rand.New(rand.NewSource(seed))
	constraintIdx := e.MeasureIndexOf(constraintName)

	go func() {
		defer close(ch)
		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				row := e.MeasureRow(e.CurrentConfigIndex())
				if constraintIdx < 0 || constraintIdx >= len(row) {
					continue
				}
				sample := row[constraintIdx] + rng.NormFloat64()*noise
				select {
				case ch <- sample:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch
}
