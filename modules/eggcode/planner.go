package eggcode

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"eggbot/modules/motion"
	"eggbot/modules/queue"
	"eggbot/modules/unit"
)

// SpeedMode chooses the start speed of a stepper move.
type SpeedMode string

const (
	// Continuous starts each move at the speed the previous one ended with.
	Continuous SpeedMode = "continuous"
	// Instant starts each move at its own average speed.
	Instant SpeedMode = "instant"
)

// Options for a Planner. Zero fields take the defaults below.
type Options struct {
	EggStepsPerRev float64
	PenStepsPerRev float64
	PenMin, PenMax float64 // revolutions
	Speed          SpeedMode
	SpeedScale     float64 // multiplies every duration
}

func (o *Options) defaults() {
	if o.EggStepsPerRev == 0 {
		o.EggStepsPerRev = 64
	}
	if o.PenStepsPerRev == 0 {
		o.PenStepsPerRev = 90
	}
	if o.PenMin == 0 && o.PenMax == 0 {
		o.PenMin, o.PenMax = -5, 5
	}
	if o.Speed == "" {
		o.Speed = Continuous
	}
	if o.SpeedScale == 0 {
		o.SpeedScale = 1
	}
}

// Pusher is the producer side of the command queue.
type Pusher interface {
	Push(ctx context.Context, t queue.Task) error
}

// Planner owns the commanded position and turns commands into segments. It
// is the queue's only producer.
type Planner struct {
	out Pusher
	pos unit.Coordinate
	opt Options
	log logrus.FieldLogger
}

func NewPlanner(out Pusher, start unit.Coordinate, opt Options, log logrus.FieldLogger) *Planner {
	opt.defaults()
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Planner{out: out, pos: start, opt: opt, log: log}
}

func (p *Planner) Position() unit.Coordinate { return p.pos }

// Advance queues a segment from the current position by the given deltas and
// stamps the segment's end speed into the new position.
func (p *Planner) Advance(ctx context.Context, dt, egg, pen, servo float64) error {
	next := unit.Advance(p.pos, egg, pen, servo)
	if err := p.queue(ctx, p.pos, next, dt); err != nil {
		return err
	}
	// a zero length segment has no end speed; the machine is left at rest
	if dt > 0 {
		next.EggSpeed = motion.EndSpeed(unit.Difference(p.pos.Egg, next.Egg), dt, p.pos.EggSpeed)
		next.PenSpeed = motion.EndSpeed(unit.Difference(p.pos.Pen, next.Pen), dt, p.pos.PenSpeed)
	}
	p.pos = next
	return nil
}

// SetPen moves only the servo; both axes stop.
func (p *Planner) SetPen(ctx context.Context, state float64, dt float64) error {
	p.pos.EggSpeed, p.pos.PenSpeed = 0, 0
	return p.Advance(ctx, dt, 0, 0, state)
}

// Move turns step counts into revolutions and queues the move.
func (p *Planner) Move(ctx context.Context, dt float64, penSteps, eggSteps int) error {
	egg := float64(eggSteps) / p.opt.EggStepsPerRev
	pen := float64(penSteps) / p.opt.PenStepsPerRev
	if p.opt.Speed == Instant && dt > 0 {
		next := unit.Advance(p.pos, egg, pen, p.pos.Servo)
		p.pos.EggSpeed = unit.Difference(p.pos.Egg, next.Egg) / dt
		p.pos.PenSpeed = unit.Difference(p.pos.Pen, next.Pen) / dt
	}
	return p.Advance(ctx, dt, egg, pen, p.pos.Servo)
}

// Apply runs one parsed command. Commands without motion are ignored.
func (p *Planner) Apply(ctx context.Context, c Command) error {
	dt := float64(c.Duration) * p.opt.SpeedScale / 1000
	switch c.Kind {
	case SetPen:
		return p.SetPen(ctx, float64(c.PenState), dt)
	case Move:
		return p.Move(ctx, dt, c.PenSteps, c.EggSteps)
	}
	return nil
}

// Quit queues the stop sentinel.
func (p *Planner) Quit(ctx context.Context) error {
	return errors.Wrap(p.out.Push(ctx, queue.QuitTask()), "queue quit")
}

func (p *Planner) queue(ctx context.Context, from, to unit.Coordinate, dt float64) error {
	p.bound(&from)
	p.bound(&to)
	return errors.Wrap(p.out.Push(ctx, queue.Task{From: from, To: to, Dt: dt}), "queue segment")
}

// bound clamps the pen axis into its soft range.
func (p *Planner) bound(c *unit.Coordinate) {
	pen := c.Pen.Value()
	switch {
	case pen < p.opt.PenMin:
		p.log.WithField("pen", pen).Warn("attempt to set pen position out of bounds")
		c.Pen = unit.Normalize(unit.Unit{Substep: p.opt.PenMin})
	case pen > p.opt.PenMax:
		p.log.WithField("pen", pen).Warn("attempt to set pen position out of bounds")
		c.Pen = unit.Normalize(unit.Unit{Substep: p.opt.PenMax})
	}
}
