// Package motion turns motion segments into timed output toggles: per-axis
// constant acceleration integration, two phase commutation with a software
// current limiter, and a servo pulse locked to wall-clock time.
package motion

import (
	"time"

	"github.com/pkg/errors"
)

// PWMConfig sizes the current limiting frame. FrameLength is a power of two
// counted in loop cycles; DutyFactor caps the on-time of every winding.
type PWMConfig struct {
	FrameLength int
	DutyFactor  float64
}

// StepperConfig names the two direction lines of each winding.
type StepperConfig struct {
	Out1, Out2 int // winding 1
	Out3, Out4 int // winding 2
}

// ServoConfig maps a position factor onto a pulse width. Low and High bound
// the mechanical range, PulseLow and PulseHigh are the matching fractions of
// Period.
type ServoConfig struct {
	Out       int
	Low       float64
	High      float64
	PulseLow  float64
	PulseHigh float64
	Period    time.Duration
}

// Config is built once at startup and only read afterwards.
type Config struct {
	CyclesPerSecond float64
	PWM             PWMConfig
	Egg             StepperConfig
	Pen             StepperConfig
	Servo           ServoConfig
	// Commutation is the exponent applied to the winding sine and cosine.
	// 1 is plain sine commutation.
	Commutation float64
	// DryRun marks the calibration configuration.
	DryRun bool
}

// Lines lists every output line the configuration drives.
func (c *Config) Lines() []int {
	return []int{
		c.Servo.Out,
		c.Egg.Out1, c.Egg.Out2, c.Egg.Out3, c.Egg.Out4,
		c.Pen.Out1, c.Pen.Out2, c.Pen.Out3, c.Pen.Out4,
	}
}

// OutputMask is the register mask covering Lines.
func (c *Config) OutputMask() uint32 {
	var m uint32
	for _, l := range c.Lines() {
		m |= 1 << uint(l)
	}
	return m
}

// Validate checks what the loop relies on without rechecking per cycle.
func (c *Config) Validate() error {
	if !(c.CyclesPerSecond > 0) {
		return errors.Errorf("cycles per second %v must be positive", c.CyclesPerSecond)
	}
	if n := c.PWM.FrameLength; n <= 0 || n&(n-1) != 0 {
		return errors.Errorf("pwm frame length %d is not a power of two", n)
	}
	if f := c.PWM.DutyFactor; !(f > 0 && f <= 1) {
		return errors.Errorf("pwm duty factor %v outside (0,1]", f)
	}
	if c.Servo.Period <= 0 {
		return errors.New("servo period must be positive")
	}
	if !(c.Commutation > 0) {
		return errors.Errorf("commutation exponent %v must be positive", c.Commutation)
	}
	seen := map[int]bool{}
	for _, l := range c.Lines() {
		if l < 0 || l > 31 {
			return errors.Errorf("output line %d out of range", l)
		}
		if seen[l] {
			return errors.Errorf("output line %d used twice", l)
		}
		seen[l] = true
	}
	return nil
}
