// Package calibrate measures how fast the motion loop runs on the core that
// will drive the motors, and sizes the PWM frame from it. There is no
// hardware timer; iterations per wall-clock second is the only clock.
package calibrate

import (
	"math/bits"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"eggbot/modules/gpio"
	"eggbot/modules/motion"
	"eggbot/modules/unit"
)

const (
	// Cycles is the length of the measurement run.
	Cycles = 8 * 1024 * 1024
	// FrameLength and DutyFactor keep the coils nearly unpowered while
	// measuring.
	FrameLength = 2048
	DutyFactor  = 1.0 / 512
	// TargetPWMPeriod is the wall-clock period a PWM frame should last.
	TargetPWMPeriod = 40 * time.Microsecond
)

var (
	// ErrClockAnomaly means the measurement produced no usable elapsed time.
	ErrClockAnomaly = errors.New("calibration elapsed time is not positive")
	// ErrAborted means a shutdown arrived before calibration finished.
	ErrAborted = errors.New("calibration aborted")
)

// Result is the outcome of a measurement.
type Result struct {
	Cycles          uint64
	Elapsed         time.Duration
	CyclesPerSecond float64
	MicrosPerCycle  float64
	FrameLength     int
}

// Derive turns a cycle count and the time it took into loop timing.
func Derive(cycles uint64, elapsed, target time.Duration) (Result, error) {
	if elapsed <= 0 {
		return Result{}, errors.Wrapf(ErrClockAnomaly, "%v for %d cycles", elapsed, cycles)
	}
	if cycles == 0 {
		return Result{}, errors.New("calibration ran no cycles")
	}
	secs := elapsed.Seconds()
	us := secs * 1e6 / float64(cycles)
	return Result{
		Cycles:          cycles,
		Elapsed:         elapsed,
		CyclesPerSecond: float64(cycles) / secs,
		MicrosPerCycle:  us,
		FrameLength:     NextPowerOfTwo(int(float64(target.Microseconds()) / us)),
	}, nil
}

// NextPowerOfTwo returns the smallest power of two not below n.
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// Config is base with the conservative PWM used while measuring. Running
// `cycles` cycles takes one logical second.
func Config(base motion.Config, cycles uint64) motion.Config {
	base.CyclesPerSecond = float64(cycles)
	base.PWM = motion.PWMConfig{FrameLength: FrameLength, DutyFactor: DutyFactor}
	base.DryRun = true
	return base
}

// Apply builds the production configuration.
func (r Result) Apply(base motion.Config, duty float64) motion.Config {
	base.CyclesPerSecond = r.CyclesPerSecond
	base.PWM = motion.PWMConfig{FrameLength: r.FrameLength, DutyFactor: duty}
	base.DryRun = false
	return base
}

// Calibrator runs the measurement on the register capability. Control is the
// worker's; a shutdown requested during the measurement cuts it short.
type Calibrator struct {
	Regs    gpio.Registers
	Control *motion.Control
	Log     logrus.FieldLogger
	Now     func() time.Time
	Cycles  uint64
	Target  time.Duration
}

// Run steps a zero-distance segment for c.Cycles cycles and times it. It must
// run on the thread the worker will use.
func (c *Calibrator) Run(base motion.Config) (Result, error) {
	now := c.Now
	if now == nil {
		now = time.Now
	}
	cycles := c.Cycles
	if cycles == 0 {
		cycles = Cycles
	}
	target := c.Target
	if target == 0 {
		target = TargetPWMPeriod
	}
	log := c.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	control := c.Control
	if control == nil {
		control = &motion.Control{}
	}

	cfg := Config(base, cycles)
	synth := motion.NewSynthesizer(cfg, c.Regs, control)
	var origin unit.Coordinate

	log.Info("calibrate stepper loop...")
	start := now()
	ran := synth.Step(origin, origin, 1.0)
	elapsed := now().Sub(start)
	c.Regs.Clear(cfg.OutputMask())
	if control.AbortRequested() {
		log.WithField("cycles", ran).Warn("calibration aborted")
		return Result{}, errors.Wrapf(ErrAborted, "after %d of %d cycles", ran, cycles)
	}

	res, err := Derive(ran, elapsed, target)
	if err != nil {
		return Result{}, err
	}
	log.WithFields(logrus.Fields{
		"elapsed":   res.Elapsed,
		"cycles":    res.Cycles,
		"us_cycle":  res.MicrosPerCycle,
		"cycles_s":  res.CyclesPerSecond,
		"pwm_frame": res.FrameLength,
	}).Info("calibrate stepper loop OK")
	return res, nil
}

// BurnIn spins for d so the core leaves its idle clock before measuring. It
// gives up with ErrAborted as soon as control asks for a stop.
func BurnIn(log logrus.FieldLogger, d time.Duration, control *motion.Control) error {
	log.Info("cpu burn in...")
	start := time.Now()
	for time.Since(start) < d {
		if control != nil && control.AbortRequested() {
			log.Warn("cpu burn in aborted")
			return ErrAborted
		}
	}
	log.Info("cpu burn in OK")
	return nil
}
