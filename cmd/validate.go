package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/apto/aptoctl/internal/profile"
)

var (
	validateProfilePath    string
	validateKnobsPath      string
	validateConstraintName string
)

// validateCmd restricts and sorts a profile store the same way engine.New
// does, then reports what survived: how many rows a live knob set dropped
// and the speedup model those rows derive. It never drives the engine; it
// only checks that a profile/knob table pair is internally consistent
// before "aptoctl run" is pointed at them.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a profile/knob table pair and report the derived xup model",
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		logrus.SetLevel(level)

		store, err := profile.Load(validateProfilePath, validateKnobsPath, validateConstraintName)
		if err != nil {
			return err
		}
		knobs, err := buildKnobsFromTable(validateKnobsPath)
		if err != nil {
			return err
		}

		dropped := store.Restrict(knobs)
		constraintIdx := store.MeasureIndex(validateConstraintName)
		if constraintIdx < 0 {
			return fmt.Errorf("constraint measure %q not found in profile table", validateConstraintName)
		}
		store.SortByConstraint(constraintIdx)

		fmt.Printf("rows retained: %d (dropped %d)\n", store.Len(), dropped)
		fmt.Printf("max xup: %.4f\n", store.MaxXup())
		fmt.Printf("xup model: %v\n", store.XupModel())

		if idx := store.FindID(knobs); idx >= 0 {
			fmt.Printf("knob table's initial settings match profile row %d\n", idx)
		} else {
			logrus.Warn("knob table's initial settings do not match any retained profile row")
		}

		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateProfilePath, "profile", "", "path to the measure table CSV")
	validateCmd.Flags().StringVar(&validateKnobsPath, "knobs", "", "path to the knob table CSV")
	validateCmd.Flags().StringVar(&validateConstraintName, "constraint", "performance", "measure column to sort and derive the xup model by")
	validateCmd.MarkFlagRequired("profile")
	validateCmd.MarkFlagRequired("knobs")

	rootCmd.AddCommand(validateCmd)
}
