package cmd

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/apto/aptoctl/internal/engine"
	"github.com/apto/aptoctl/internal/goalcfg"
	"github.com/apto/aptoctl/internal/knob"
	"github.com/apto/aptoctl/internal/profile"
)

var (
	profileProfilePath string
	profileKnobsPath   string
	profileIterations  uint64
	profileOutputPath  string
	profileTag         uint64
	profileSampleNoise float64
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Sweep every knob combination and emit a fresh measure table",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, iterations, skip, err := resolveProfileMode()
		if err != nil {
			return err
		}
		if iterations == 0 {
			iterations = profileIterations
		}
		return runProfile(iterations, skip)
	},
}

// runProfile loads the existing profile and knob tables, sweeps every knob
// combination with a synthetic per-combo sampler, and writes the
// regenerated measure table to profileOutputPath. The first skip rows are
// dropped from the output, supporting resuming a partially completed
// profiling run.
func runProfile(iterations uint64, skip uint64) error {
	store, err := profile.Load(profileProfilePath, profileKnobsPath, "performance")
	if err != nil {
		return err
	}
	knobs, err := buildKnobsFromTable(profileKnobsPath)
	if err != nil {
		return err
	}

	e, err := engine.New(store, engine.Config{
		Tag:        profileTag,
		WindowSize: 1,
		Mode:       engine.Profile,
		Goal:       goalcfg.Goal{Constraint: "performance"},
		Knobs:      knobs,
	})
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(int64(profileTag)))
	rows, settings, err := e.ProfileRow(iterations, func(i uint64) {
		sampleProfileIteration(e, knobs, rng, profileSampleNoise)
	})
	if err != nil {
		return err
	}

	if skip > uint64(len(rows)) {
		skip = uint64(len(rows))
	}
	rows = rows[skip:]
	settings = settings[skip:]

	return writeMeasureTable(profileOutputPath, store.MeasureNames, rows, settings)
}

// sampleProfileIteration synthesizes one iteration's worth of raw measures
// for whatever knob combination ProfileRow currently has set, and feeds them
// through e.Measure. Unlike startSyntheticSource, this cannot read back a
// currently-actuated row: ProfileRow sweeps combinations by calling Set
// directly on the knobs, never through the engine's actuation path, so
// CurrentConfigIndex stays unmoved throughout a sweep. Instead it derives a
// plausible performance figure directly from the live knob values — more
// cores and higher frequency steps raise throughput, at a power cost — the
// same roofline shape optimize.rs's profiling pass measures from a live
// process, here produced synthetically for a table that was never run.
func sampleProfileIteration(e *engine.Engine, knobs map[string]knob.Tunable[uint64], rng *rand.Rand, noise float64) {
	var capacity float64 = 1.0
	for name, k := range knobs {
		switch name {
		case "core_count", "cores":
			capacity *= 1.0 + float64(k.Get())
		case "frequency", "freq":
			capacity *= 1.0 + float64(k.Get())/10.0
		}
	}
	if capacity <= 0 {
		capacity = 1.0
	}

	jitter := func(mean float64) float64 { return mean * (1.0 + rng.NormFloat64()*noise) }

	latency := jitter(1.0 / capacity)
	performance := jitter(capacity)
	powerConsumption := jitter(capacity)
	windowLatency := jitter(latency)
	energyDelta := jitter(powerConsumption * windowLatency)

	for name, value := range map[string]float64{
		"latency":          latency,
		"performance":      performance,
		"powerConsumption": powerConsumption,
		"windowLatency":    windowLatency,
		"energyDelta":      energyDelta,
	} {
		if e.MeasureIndexOf(name) >= 0 {
			e.Measure(name, value)
		}
	}
}

func writeMeasureTable(path string, measureNames []string, rows [][]float64, settings []map[string]uint64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output measure table %q: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := append([]string{"id"}, measureNames...)
	if err := w.Write(header); err != nil {
		return err
	}
	for i, row := range rows {
		record := make([]string, 0, len(row)+1)
		record = append(record, strconv.Itoa(i))
		for _, v := range row {
			record = append(record, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	logrus.Infof("wrote %d profiled rows to %s (settings for %d combinations retained)", len(rows), path, len(settings))
	return nil
}

func init() {
	profileCmd.Flags().StringVar(&profileProfilePath, "profile", "", "path to the seed measure table CSV (column layout only)")
	profileCmd.Flags().StringVar(&profileKnobsPath, "knobs", "", "path to the knob table CSV")
	profileCmd.Flags().Uint64Var(&profileIterations, "iterations", 100, "samples to average per knob combination")
	profileCmd.Flags().StringVar(&profileOutputPath, "out", "profiled.csv", "path to write the regenerated measure table")
	profileCmd.Flags().Uint64Var(&profileTag, "tag", 0, "instance tag, selects per-tag environment overrides")
	profileCmd.Flags().Float64Var(&profileSampleNoise, "noise", 0.02, "standard deviation of synthetic measurement noise")
	profileCmd.MarkFlagRequired("profile")
	profileCmd.MarkFlagRequired("knobs")

	rootCmd.AddCommand(profileCmd)
}
