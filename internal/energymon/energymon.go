// Package energymon defines the hardware energy-sampling collaborator the
// engine reads at window boundaries. The real
// hardware interface (RAPL/NVML/etc.) is out of scope; this package gives it
// a seam so the engine can be driven and tested without hardware access.
// Grounded on original_source/apto/src/system_measures.rs (Energymon's
// start/stop/energy_delta/power_consumption/duration cycle).
package energymon

import (
	"errors"
	"time"
)

var (
	// ErrZeroEnergy is returned when the sampling window measured no
	// energy delta, guarding against a zero-energy delta.
	ErrZeroEnergy = errors.New("energymon: zero energy consumed in window")
	// ErrZeroDuration is returned when Start and Stop land at the same
	// instant.
	ErrZeroDuration = errors.New("energymon: zero time elapsed in window")
)

// EnergyMonitor samples cumulative energy in microjoules around a window.
// Start resets and begins a new sample; Stop closes it. EnergyDelta,
// PowerConsumption, and Duration describe the interval between the two.
type EnergyMonitor interface {
	Start()
	Stop()
	EnergyDelta() (float64, error)
	PowerConsumption() (float64, error)
	Duration() (float64, error)
	CurrentEnergy() (float64, error)
}

// NopMonitor is an EnergyMonitor that always reports zero energy and zero
// duration, for runs without hardware energy instrumentation (NonAdaptive
// mode, or development machines lacking RAPL/NVML access).
type NopMonitor struct{}

func NewNop() *NopMonitor { return &NopMonitor{} }

func (n *NopMonitor) Start() {}
func (n *NopMonitor) Stop()  {}

func (n *NopMonitor) EnergyDelta() (float64, error) {
	return 0, ErrZeroEnergy
}

func (n *NopMonitor) PowerConsumption() (float64, error) {
	return 0, ErrZeroEnergy
}

func (n *NopMonitor) Duration() (float64, error) {
	return 0, ErrZeroDuration
}

func (n *NopMonitor) CurrentEnergy() (float64, error) {
	return 0, nil
}

// clockMonitor is a software EnergyMonitor for test and demo use: it reports
// a caller-supplied energy reading function and measures wall-clock
// duration between Start and Stop, reproducing
// start/stop bookkeeping without requiring real hardware counters.
type clockMonitor struct {
	readUJ     func() uint64
	startEnergy, endEnergy uint64
	startTime, endTime     time.Time
}

// NewClockMonitor builds an EnergyMonitor backed by readUJ, a cumulative
// energy-in-microjoules reader (e.g. a test fake or a /sys RAPL file
// reader), using wall-clock time for Duration.
func NewClockMonitor(readUJ func() uint64) EnergyMonitor {
	return &clockMonitor{readUJ: readUJ, startTime: time.Now(), endTime: time.Now()}
}

func (c *clockMonitor) Start() {
	c.startEnergy = 0
	c.endEnergy = 0
	c.startTime = time.Now()
	c.endTime = time.Now()
	c.startEnergy = c.readUJ()
}

func (c *clockMonitor) Stop() {
	c.endEnergy = c.readUJ()
	c.endTime = time.Now()
}

func (c *clockMonitor) EnergyDelta() (float64, error) {
	delta := float64(c.endEnergy - c.startEnergy)
	if delta == 0 {
		return 0, ErrZeroEnergy
	}
	return delta, nil
}

func (c *clockMonitor) Duration() (float64, error) {
	elapsed := c.endTime.Sub(c.startTime).Seconds()
	if elapsed == 0 {
		return 0, ErrZeroDuration
	}
	return elapsed, nil
}

func (c *clockMonitor) PowerConsumption() (float64, error) {
	energy, err := c.EnergyDelta()
	if err != nil {
		return 0, err
	}
	duration, err := c.Duration()
	if err != nil {
		return 0, err
	}
	return energy / duration, nil
}

func (c *clockMonitor) CurrentEnergy() (float64, error) {
	return float64(c.readUJ()), nil
}
