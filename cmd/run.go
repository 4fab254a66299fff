package cmd

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/apto/aptoctl/internal/engine"
	"github.com/apto/aptoctl/internal/goalcfg"
	"github.com/apto/aptoctl/internal/mqueue"
	"github.com/apto/aptoctl/internal/profile"
)

var (
	runProfilePath string
	runKnobsPath   string
	runGoalPath    string
	runWindowSize  uint64
	runIterations  uint64
	runTag         uint64
	runNoise       float64
	runPeriod      time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive a profiled application adaptively against a goal",
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		logrus.SetLevel(level)

		profiling, iterations, skip, err := resolveProfileMode()
		if err != nil {
			return err
		}
		if profiling {
			profileProfilePath, profileKnobsPath, profileTag = runProfilePath, runKnobsPath, runTag
			return runProfile(profileIterationsOrDefault(iterations, runIterations), skip)
		}

		goal, err := goalcfg.Load(runGoalPath)
		if err != nil {
			return err
		}
		store, err := profile.Load(runProfilePath, runKnobsPath, goal.Constraint)
		if err != nil {
			return err
		}
		knobs, err := buildKnobsFromTable(runKnobsPath)
		if err != nil {
			return err
		}

		tc, err := resolveTagConfig(runTag)
		if err != nil {
			return err
		}

		e, err := engine.New(store, engine.Config{
			Tag:        runTag,
			WindowSize: runWindowSize,
			Mode:       engine.Adaptive,
			Goal:       goal,
			Knobs:      knobs,
			Kind:       tc.Kind,
			PoleAdapt:  tc.PoleAdapt,
		})
		if err != nil {
			return err
		}
		applyTagConfig(e, tc)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		samples := startSyntheticSource(ctx, e, goal.Constraint, int64(runTag), runNoise, runPeriod)

		src := mqueue.NewChannelSource(samples)
		for i := uint64(0); i < runIterations; i++ {
			if i%runWindowSize == 0 {
				e.WindowBoundary(i)
			}
			e.Tick(i)

			value, err := src.Receive(ctx, runPeriod*2)
			if err != nil {
				logrus.Warnf("no measurement received at iteration %d: %v", i, err)
				continue
			}
			e.Measure(goal.Constraint, value)
		}

		logrus.Info(e.FlushLogs())
		return nil
	},
}

// profileIterationsOrDefault prefers the PROFILE env var's iteration count
// over the --iterations flag, matching the original env-var's precedence
// over any command-line default.
func profileIterationsOrDefault(envIterations, flagIterations uint64) uint64 {
	if envIterations > 0 {
		return envIterations
	}
	return flagIterations
}

func init() {
	runCmd.Flags().StringVar(&runProfilePath, "profile", "", "path to the measure table CSV")
	runCmd.Flags().StringVar(&runKnobsPath, "knobs", "", "path to the knob table CSV")
	runCmd.Flags().StringVar(&runGoalPath, "goal", "", "path to the goal YAML file")
	runCmd.Flags().Uint64Var(&runWindowSize, "window", 16, "iterations per scheduling window")
	runCmd.Flags().Uint64Var(&runIterations, "iterations", 1000, "total iterations to drive")
	runCmd.Flags().Uint64Var(&runTag, "tag", 0, "instance tag, selects per-tag environment overrides")
	runCmd.Flags().Float64Var(&runNoise, "noise", 0.02, "standard deviation of synthetic measurement noise")
	runCmd.Flags().DurationVar(&runPeriod, "period", 10*time.Millisecond, "synthetic sample period")
	runCmd.MarkFlagRequired("profile")
	runCmd.MarkFlagRequired("knobs")
	runCmd.MarkFlagRequired("goal")

	rootCmd.AddCommand(runCmd)
}
