package motion

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"eggbot/modules/gpio"
	"eggbot/modules/unit"
)

// AbortCheckCycles is how often the loop looks at the abort flag.
const AbortCheckCycles = 1024

// Synthesizer runs segments on the register capability. It is not safe for
// concurrent use; the worker is its only caller.
type Synthesizer struct {
	cfg     Config
	regs    gpio.Registers
	control *Control
	now     func() time.Time
	epoch   time.Time

	last uint32 // line state after the previous cycle
}

// Option tweaks a Synthesizer.
type Option func(*Synthesizer)

// WithClock replaces time.Now for the servo phase.
func WithClock(now func() time.Time) Option {
	return func(s *Synthesizer) { s.now = now }
}

// NewSynthesizer assumes every configured line starts deasserted.
func NewSynthesizer(cfg Config, regs gpio.Registers, control *Control, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		cfg:     cfg,
		regs:    regs,
		control: control,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.epoch = s.now()
	return s
}

func (s *Synthesizer) Config() Config { return s.cfg }

// windingBits picks the direction line for the sign of w.
func windingBits(w float64, pos, neg int) uint32 {
	switch {
	case w > 0:
		return 1 << uint(pos)
	case w < 0:
		return 1 << uint(neg)
	}
	return 0
}

// Step drives one segment from `from` to `to` over dt seconds and returns the
// number of cycles it ran. A negative dt is a bug in segment generation and
// panics.
func (s *Synthesizer) Step(from, to unit.Coordinate, dt float64) uint64 {
	if !(dt >= 0) {
		panic(errors.Errorf("segment with negative duration %v", dt))
	}
	cycles := int(dt * s.cfg.CyclesPerSecond)
	if cycles <= 0 {
		return 0
	}

	egg := newProfile(from.Egg.Substep, unit.Difference(from.Egg, to.Egg), dt, from.EggSpeed)
	pen := newProfile(from.Pen.Substep, unit.Difference(from.Pen, to.Pen), dt, from.PenSpeed)

	var (
		cfg      = &s.cfg
		frame    = cfg.PWM.FrameLength
		factor   = cfg.PWM.DutyFactor
		exp      = cfg.Commutation
		cps      = cfg.CyclesPerSecond
		period   = cfg.Servo.Period
		periodS  = period.Seconds()
		servoBit = uint32(1) << uint(cfg.Servo.Out)
		last     = s.last
		i        = 0
		since    = AbortCheckCycles
	)

	for i < cycles {
		if since >= AbortCheckCycles {
			since = 0
			if s.control.AbortRequested() {
				break
			}
		}

		t := float64(i) / float64(cycles)
		phase := (s.now().Sub(s.epoch) % period).Seconds()

		eggSin, eggCos := math.Sincos(2 * math.Pi * fraction(egg.at(t)))
		penSin, penCos := math.Sincos(2 * math.Pi * fraction(pen.at(t)))
		egg1, egg2 := Winding(eggSin, exp), Winding(eggCos, exp)
		pen1, pen2 := Winding(penSin, exp), Winding(penCos, exp)

		var (
			limEgg1 = DutyCycles(factor, egg1, frame)
			limEgg2 = DutyCycles(factor, egg2, frame)
			limPen1 = DutyCycles(factor, pen1, frame)
			limPen2 = DutyCycles(factor, pen2, frame)

			bitsEgg1 = windingBits(egg1, cfg.Egg.Out1, cfg.Egg.Out2)
			bitsEgg2 = windingBits(egg2, cfg.Egg.Out3, cfg.Egg.Out4)
			bitsPen1 = windingBits(pen1, cfg.Pen.Out1, cfg.Pen.Out2)
			bitsPen2 = windingBits(pen2, cfg.Pen.Out3, cfg.Pen.Out4)
		)

		// The pulse is high from the period start until toLow and again from
		// toHigh, when the next period begins inside this frame.
		servo := ServoFactor(cfg.Servo, Blend(t, from.Servo, to.Servo))
		toLow := int((servo*periodS - phase) * cps)
		toHigh := int((periodS - phase) * cps)

		n := min(frame, cycles-i)
		for k := 0; k < n; k++ {
			var bits uint32
			if k < limEgg1 {
				bits |= bitsEgg1
			}
			if k < limEgg2 {
				bits |= bitsEgg2
			}
			if k < limPen1 {
				bits |= bitsPen1
			}
			if k < limPen2 {
				bits |= bitsPen2
			}
			if k < toLow || k >= toHigh {
				bits |= servoBit
			}
			s.regs.Clear(last &^ bits)
			s.regs.Set(bits &^ last)
			last = bits
		}
		i += n
		since += n
	}

	s.last = last
	s.control.cycles.Add(uint64(i))
	return uint64(i)
}

func fraction(x float64) float64 {
	return x - math.Floor(x)
}
