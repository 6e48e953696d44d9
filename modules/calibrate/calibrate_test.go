package calibrate

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eggbot/modules/gpio"
	"eggbot/modules/motion"
)

func baseConfig() motion.Config {
	return motion.Config{
		Egg: motion.StepperConfig{Out1: 4, Out2: 17, Out3: 18, Out4: 27},
		Pen: motion.StepperConfig{Out1: 22, Out2: 23, Out3: 24, Out4: 25},
		Servo: motion.ServoConfig{
			Out: 26, Low: 0.16, High: 0.4, PulseLow: 0.025, PulseHigh: 0.15,
			Period: 20 * time.Millisecond,
		},
		Commutation: 1,
	}
}

func TestNextPowerOfTwo(t *testing.T) {
	cases := map[int]int{-3: 1, 0: 1, 1: 1, 2: 2, 3: 4, 4: 4, 5: 8, 335: 512, 512: 512, 513: 1024}
	for in, want := range cases {
		assert.Equal(t, want, NextPowerOfTwo(in), "n=%d", in)
	}
}

func TestDerive(t *testing.T) {
	res, err := Derive(Cycles, time.Second, TargetPWMPeriod)
	require.NoError(t, err)
	assert.InDelta(t, float64(Cycles), res.CyclesPerSecond, 1e-6)
	assert.InDelta(t, 1e6/float64(Cycles), res.MicrosPerCycle, 1e-12)
	// 40us at ~0.119us per cycle is ~335 cycles
	assert.Equal(t, 512, res.FrameLength)

	for _, elapsed := range []time.Duration{250 * time.Millisecond, 3 * time.Second, 40 * time.Second} {
		res, err := Derive(Cycles, elapsed, TargetPWMPeriod)
		require.NoError(t, err)
		assert.Positive(t, res.CyclesPerSecond)
		assert.Positive(t, res.FrameLength)
		assert.Zero(t, res.FrameLength&(res.FrameLength-1), "power of two")
	}
}

func TestDeriveClockAnomaly(t *testing.T) {
	_, err := Derive(Cycles, 0, TargetPWMPeriod)
	require.ErrorIs(t, err, ErrClockAnomaly)
	_, err = Derive(Cycles, -time.Millisecond, TargetPWMPeriod)
	require.ErrorIs(t, err, ErrClockAnomaly)
}

func TestConfigAndApply(t *testing.T) {
	base := baseConfig()
	cal := Config(base, 4096)
	assert.Equal(t, 4096.0, cal.CyclesPerSecond)
	assert.Equal(t, FrameLength, cal.PWM.FrameLength)
	assert.Equal(t, DutyFactor, cal.PWM.DutyFactor)
	assert.True(t, cal.DryRun)
	require.NoError(t, cal.Validate())

	res, err := Derive(4096, time.Millisecond, TargetPWMPeriod)
	require.NoError(t, err)
	prod := res.Apply(base, 0.55)
	assert.False(t, prod.DryRun)
	assert.Equal(t, 0.55, prod.PWM.DutyFactor)
	assert.Equal(t, res.FrameLength, prod.PWM.FrameLength)
	assert.Equal(t, base.Servo, prod.Servo)
	require.NoError(t, prod.Validate())
}

func TestRun(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	t0 := time.Unix(100, 0)
	readings := []time.Time{t0, t0.Add(2 * time.Millisecond)}
	rec := gpio.NewRecorder()
	c := &Calibrator{
		Regs:   rec,
		Log:    log,
		Cycles: 4096,
		Now: func() time.Time {
			r := readings[0]
			readings = readings[1:]
			return r
		},
	}
	res, err := c.Run(baseConfig())
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), res.Cycles)
	assert.Equal(t, 2*time.Millisecond, res.Elapsed)
	assert.InDelta(t, 2048000.0, res.CyclesPerSecond, 1e-6)
	assert.Zero(t, rec.Level(), "outputs released after measuring")
	assert.Equal(t, "calibrate stepper loop OK", hook.LastEntry().Message)
}

func TestRunClockAnomaly(t *testing.T) {
	log, _ := test.NewNullLogger()
	at := time.Unix(100, 0)
	c := &Calibrator{
		Regs:   gpio.NewRecorder(),
		Log:    log,
		Cycles: 1024,
		Now:    func() time.Time { return at },
	}
	_, err := c.Run(baseConfig())
	require.ErrorIs(t, err, ErrClockAnomaly)
}

func TestRunAborted(t *testing.T) {
	log, _ := test.NewNullLogger()
	rec := gpio.NewRecorder()
	ctl := &motion.Control{}
	ctl.RequestAbort()
	c := &Calibrator{Regs: rec, Control: ctl, Log: log, Cycles: Cycles}
	_, err := c.Run(baseConfig())
	require.ErrorIs(t, err, ErrAborted)
	assert.Zero(t, rec.Level())
	assert.Zero(t, ctl.Cycles(), "stopped at the first check")
}

func TestBurnIn(t *testing.T) {
	log, hook := test.NewNullLogger()
	require.NoError(t, BurnIn(log, time.Millisecond, &motion.Control{}))
	assert.Equal(t, "cpu burn in OK", hook.LastEntry().Message)

	ctl := &motion.Control{}
	ctl.RequestAbort()
	start := time.Now()
	require.ErrorIs(t, BurnIn(log, time.Hour, ctl), ErrAborted)
	assert.Less(t, time.Since(start), time.Second)
}
