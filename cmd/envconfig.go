package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/apto/aptoctl/internal/controller"
	"github.com/apto/aptoctl/internal/engine"
	"github.com/apto/aptoctl/internal/poleadapt"
)

// tagConfig collects every per-tag override ordinarily scattered across
// environment variables into one explicit value, resolved once at startup
// rather than read piecemeal deep inside the control loop.
type tagConfig struct {
	Kind             controller.Kind
	PoleAdapt        *poleadapt.Adapter
	LearningBased    bool
	ProportionalGain float64
	ConstantWorkload *float64
}

// resolveTagConfig reads the ADAPT_INST/DEV_TARGET/ADAPT_TYPE/ALPHA/
// MODEL_PATH_<tag>, LEARNING_BASED_<tag>/CONF_TYPE_<tag>, KP_<tag> and
// CONSTANT_WORKLOAD_<tag> environment variables relevant to tag.
func resolveTagConfig(tag uint64) (tagConfig, error) {
	cfg := tagConfig{Kind: controller.ControlMultiConf}

	pa, err := resolvePoleAdaptation(tag)
	if err != nil {
		return tagConfig{}, err
	}
	cfg.PoleAdapt = pa

	_, cfg.LearningBased = os.LookupEnv(fmt.Sprintf("LEARNING_BASED_%d", tag))

	if cfg.LearningBased {
		confType, ok := os.LookupEnv(fmt.Sprintf("CONF_TYPE_%d", tag))
		if !ok {
			return tagConfig{}, fmt.Errorf("LEARNING_BASED_%d set without CONF_TYPE_%d", tag, tag)
		}
		switch confType {
		case "multi":
			cfg.Kind = controller.RLMultiConf
		case "single":
			cfg.Kind = controller.RLSingleConf
		default:
			return tagConfig{}, fmt.Errorf("invalid CONF_TYPE_%d %q, want \"multi\" or \"single\"", tag, confType)
		}
	}

	if raw, ok := os.LookupEnv(fmt.Sprintf("KP_%d", tag)); ok {
		kp, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return tagConfig{}, fmt.Errorf("parsing KP_%d=%q: %w", tag, raw, err)
		}
		cfg.ProportionalGain = kp
	}

	if !cfg.LearningBased {
		if raw, ok := os.LookupEnv(fmt.Sprintf("CONSTANT_WORKLOAD_%d", tag)); ok {
			cw, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return tagConfig{}, fmt.Errorf("parsing CONSTANT_WORKLOAD_%d=%q: %w", tag, raw, err)
			}
			cfg.ConstantWorkload = &cw
		}
	}

	return cfg, nil
}

// resolvePoleAdaptation builds the pole-adaptation regulator for tag. A
// tag absent from ADAPT_INST (or when ADAPT_INST is unset) gets the no-op
// "None" methodology.
func resolvePoleAdaptation(tag uint64) (*poleadapt.Adapter, error) {
	instances, ok := os.LookupEnv("ADAPT_INST")
	if !ok || !csvContainsTag(instances, tag) {
		return poleadapt.New(), nil
	}

	targetRaw, ok := os.LookupEnv("DEV_TARGET")
	if !ok {
		return nil, fmt.Errorf("tag %d listed in ADAPT_INST but DEV_TARGET is not set", tag)
	}
	target, err := strconv.ParseFloat(targetRaw, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing DEV_TARGET=%q: %w", targetRaw, err)
	}

	switch adaptType := os.Getenv("ADAPT_TYPE"); adaptType {
	case "linear":
		return poleadapt.NewLinear(target), nil
	case "ewma":
		alphaRaw, ok := os.LookupEnv("ALPHA")
		if !ok {
			return nil, fmt.Errorf("ADAPT_TYPE=ewma requires ALPHA")
		}
		alpha, err := strconv.ParseFloat(alphaRaw, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing ALPHA=%q: %w", alphaRaw, err)
		}
		return poleadapt.NewEWMA(target, alpha), nil
	case "modeled":
		path, ok := os.LookupEnv(fmt.Sprintf("MODEL_PATH_%d", tag))
		if !ok {
			return nil, fmt.Errorf("ADAPT_TYPE=modeled requires MODEL_PATH_%d", tag)
		}
		forecast, err := loadForecast(path)
		if err != nil {
			return nil, err
		}
		return poleadapt.NewModeled(target, forecast), nil
	default:
		return nil, fmt.Errorf("unknown ADAPT_TYPE %q, want \"linear\", \"ewma\", or \"modeled\"", adaptType)
	}
}

func csvContainsTag(csv string, tag uint64) bool {
	for _, field := range strings.Split(csv, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.ParseUint(field, 10, 64)
		if err == nil && v == tag {
			return true
		}
	}
	return false
}

// loadForecast parses a newline-separated file of forecast derivative
// values into a slice, in file order.
func loadForecast(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening forecast file %q: %w", path, err)
	}
	defer f.Close()

	var values []float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing forecast line %q in %q: %w", line, path, err)
		}
		values = append(values, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading forecast file %q: %w", path, err)
	}
	return values, nil
}

// applyTagConfig wires a resolved tagConfig into a freshly constructed
// Engine, before its first window boundary runs.
func applyTagConfig(e *engine.Engine, tc tagConfig) {
	if tc.ProportionalGain != 0 {
		e.SetProportionalGain(tc.ProportionalGain)
	}
	switch {
	case tc.LearningBased:
		e.UseBasicKalman()
	case tc.ConstantWorkload != nil:
		e.UseConstantKalman(*tc.ConstantWorkload)
	}
}

// resolveProfileMode reports whether the PROFILE environment variable
// requests profiling mode, its iteration count, and how many leading
// profile rows to skip (PROFILE_SKIP), supporting resuming a partially
// completed profiling run.
func resolveProfileMode() (profiling bool, iterations uint64, skip uint64, err error) {
	raw, ok := os.LookupEnv("PROFILE")
	if !ok {
		return false, 0, 0, nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return false, 0, 0, fmt.Errorf("parsing PROFILE=%q: %w", raw, err)
	}

	if skipRaw, ok := os.LookupEnv("PROFILE_SKIP"); ok {
		skip, err = strconv.ParseUint(skipRaw, 10, 64)
		if err != nil {
			return false, 0, 0, fmt.Errorf("parsing PROFILE_SKIP=%q: %w", skipRaw, err)
		}
	}

	return true, n, skip, nil
}
