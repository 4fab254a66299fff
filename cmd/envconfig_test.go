package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/apto/aptoctl/internal/controller"
)

func TestResolveTagConfigDefaultsToControlMultiConf(t *testing.T) {
	cfg, err := resolveTagConfig(7)
	if err != nil {
		t.Fatalf("resolveTagConfig: %v", err)
	}
	if cfg.Kind != controller.ControlMultiConf {
		t.Fatalf("expected ControlMultiConf by default, got %s", cfg.Kind)
	}
	if cfg.LearningBased {
		t.Fatalf("expected LearningBased false by default")
	}
}

func TestResolveTagConfigLearningBasedRequiresConfType(t *testing.T) {
	t.Setenv("LEARNING_BASED_3", "1")
	if _, err := resolveTagConfig(3); err == nil {
		t.Fatalf("expected error when LEARNING_BASED_3 is set without CONF_TYPE_3")
	}
}

func TestResolveTagConfigLearningBasedMulti(t *testing.T) {
	t.Setenv("LEARNING_BASED_3", "1")
	t.Setenv("CONF_TYPE_3", "multi")
	cfg, err := resolveTagConfig(3)
	if err != nil {
		t.Fatalf("resolveTagConfig: %v", err)
	}
	if cfg.Kind != controller.RLMultiConf {
		t.Fatalf("expected RLMultiConf, got %s", cfg.Kind)
	}
}

func TestResolveTagConfigLearningBasedSingle(t *testing.T) {
	t.Setenv("LEARNING_BASED_3", "1")
	t.Setenv("CONF_TYPE_3", "single")
	cfg, err := resolveTagConfig(3)
	if err != nil {
		t.Fatalf("resolveTagConfig: %v", err)
	}
	if cfg.Kind != controller.RLSingleConf {
		t.Fatalf("expected RLSingleConf, got %s", cfg.Kind)
	}
}

func TestResolveTagConfigRejectsUnknownConfType(t *testing.T) {
	t.Setenv("LEARNING_BASED_3", "1")
	t.Setenv("CONF_TYPE_3", "bogus")
	if _, err := resolveTagConfig(3); err == nil {
		t.Fatalf("expected error for unknown CONF_TYPE_3")
	}
}

func TestResolveTagConfigParsesKP(t *testing.T) {
	t.Setenv("KP_5", "0.25")
	cfg, err := resolveTagConfig(5)
	if err != nil {
		t.Fatalf("resolveTagConfig: %v", err)
	}
	if cfg.ProportionalGain != 0.25 {
		t.Fatalf("expected proportional gain 0.25, got %v", cfg.ProportionalGain)
	}
}

func TestResolveTagConfigConstantWorkloadIgnoredWhenLearningBased(t *testing.T) {
	t.Setenv("LEARNING_BASED_9", "1")
	t.Setenv("CONF_TYPE_9", "multi")
	t.Setenv("CONSTANT_WORKLOAD_9", "3.5")
	cfg, err := resolveTagConfig(9)
	if err != nil {
		t.Fatalf("resolveTagConfig: %v", err)
	}
	if cfg.ConstantWorkload != nil {
		t.Fatalf("expected ConstantWorkload to be ignored when LEARNING_BASED is set")
	}
}

func TestResolveTagConfigConstantWorkload(t *testing.T) {
	t.Setenv("CONSTANT_WORKLOAD_9", "3.5")
	cfg, err := resolveTagConfig(9)
	if err != nil {
		t.Fatalf("resolveTagConfig: %v", err)
	}
	if cfg.ConstantWorkload == nil || *cfg.ConstantWorkload != 3.5 {
		t.Fatalf("expected constant workload 3.5, got %v", cfg.ConstantWorkload)
	}
}

func TestResolvePoleAdaptationDefaultsToNoneOutsideAdaptInst(t *testing.T) {
	t.Setenv("ADAPT_INST", "1,2")
	pa, err := resolvePoleAdaptation(99)
	if err != nil {
		t.Fatalf("resolvePoleAdaptation: %v", err)
	}
	if pa.MethodologyName() != "none" {
		t.Fatalf("expected none methodology outside ADAPT_INST, got %s", pa.MethodologyName())
	}
}

func TestResolvePoleAdaptationLinear(t *testing.T) {
	t.Setenv("ADAPT_INST", "4")
	t.Setenv("DEV_TARGET", "0.1")
	t.Setenv("ADAPT_TYPE", "linear")
	pa, err := resolvePoleAdaptation(4)
	if err != nil {
		t.Fatalf("resolvePoleAdaptation: %v", err)
	}
	if pa.MethodologyName() != "linear" {
		t.Fatalf("expected linear methodology, got %s", pa.MethodologyName())
	}
	if pa.Target != 0.1 {
		t.Fatalf("expected target 0.1, got %v", pa.Target)
	}
}

func TestResolvePoleAdaptationEWMARequiresAlpha(t *testing.T) {
	t.Setenv("ADAPT_INST", "4")
	t.Setenv("DEV_TARGET", "0.1")
	t.Setenv("ADAPT_TYPE", "ewma")
	if _, err := resolvePoleAdaptation(4); err == nil {
		t.Fatalf("expected error when ADAPT_TYPE=ewma is missing ALPHA")
	}
}

func TestResolvePoleAdaptationModeledLoadsForecastFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forecast.txt")
	if err := os.WriteFile(path, []byte("0.1\n0.2\n0.3\n"), 0o644); err != nil {
		t.Fatalf("write forecast file: %v", err)
	}

	t.Setenv("ADAPT_INST", "4")
	t.Setenv("DEV_TARGET", "0.1")
	t.Setenv("ADAPT_TYPE", "modeled")
	t.Setenv("MODEL_PATH_4", path)

	pa, err := resolvePoleAdaptation(4)
	if err != nil {
		t.Fatalf("resolvePoleAdaptation: %v", err)
	}
	if pa.MethodologyName() != "modeled" {
		t.Fatalf("expected modeled methodology, got %s", pa.MethodologyName())
	}
}

func TestResolvePoleAdaptationRejectsUnknownAdaptType(t *testing.T) {
	t.Setenv("ADAPT_INST", "4")
	t.Setenv("DEV_TARGET", "0.1")
	t.Setenv("ADAPT_TYPE", "quadratic")
	if _, err := resolvePoleAdaptation(4); err == nil {
		t.Fatalf("expected error for unknown ADAPT_TYPE")
	}
}

func TestResolveProfileModeDefaultsOff(t *testing.T) {
	profiling, _, _, err := resolveProfileMode()
	if err != nil {
		t.Fatalf("resolveProfileMode: %v", err)
	}
	if profiling {
		t.Fatalf("expected profiling disabled when PROFILE is unset")
	}
}

func TestResolveProfileModeParsesIterationsAndSkip(t *testing.T) {
	t.Setenv("PROFILE", "10")
	t.Setenv("PROFILE_SKIP", "3")
	profiling, iterations, skip, err := resolveProfileMode()
	if err != nil {
		t.Fatalf("resolveProfileMode: %v", err)
	}
	if !profiling || iterations != 10 || skip != 3 {
		t.Fatalf("expected profiling=true iterations=10 skip=3, got profiling=%v iterations=%d skip=%d", profiling, iterations, skip)
	}
}
