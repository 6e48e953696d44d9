// Package worker owns the real-time thread: it pins itself to one core,
// feeds queued segments to the synthesizer and keeps the outputs refreshed
// when the queue runs dry.
package worker

import (
	"runtime"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"eggbot/modules/gpio"
	"eggbot/modules/motion"
	"eggbot/modules/queue"
	"eggbot/modules/unit"
)

// IdleDt is the length of the hold segments run while the queue is empty.
const IdleDt = 0.1

type State int32

const (
	NotStarted State = iota
	Running
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	}
	return "not started"
}

// Setup runs on the pinned thread before the loop starts and returns the
// configuration the loop uses. Calibration belongs here so it measures the
// core the motors run on. Long-running setup must watch control for an abort
// request, the same as the loop does.
type Setup func(regs gpio.Registers, control *motion.Control) (motion.Config, error)

type Worker struct {
	queue   *queue.Queue
	regs    gpio.Registers
	control *motion.Control
	log     logrus.FieldLogger
	core    int
	idleDt  float64
	sup     *Supervisor

	state     atomic.Int32
	underruns atomic.Uint64
	position  atomic.Pointer[unit.Coordinate]
	config    atomic.Pointer[motion.Config]
}

// Options configure a Worker. Core below zero leaves the thread unpinned.
type Options struct {
	Queue   *queue.Queue
	Regs    gpio.Registers
	Control *motion.Control
	Log     logrus.FieldLogger
	Core    int
	IdleDt  float64
}

func New(o Options) *Worker {
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}
	if o.IdleDt <= 0 {
		o.IdleDt = IdleDt
	}
	w := &Worker{
		queue:   o.Queue,
		regs:    o.Regs,
		control: o.Control,
		log:     o.Log,
		core:    o.Core,
		idleDt:  o.IdleDt,
	}
	w.position.Store(&unit.Coordinate{})
	return w
}

func (w *Worker) State() State { return State(w.state.Load()) }

// Active reports whether the loop may still write outputs.
func (w *Worker) Active() bool {
	s := w.State()
	return s == Running || s == Draining
}

// Underruns counts how often the queue was found empty.
func (w *Worker) Underruns() uint64 { return w.underruns.Load() }

// Position is the end of the last segment executed.
func (w *Worker) Position() unit.Coordinate { return *w.position.Load() }

// Config is the loop configuration, nil until Setup returned.
func (w *Worker) Config() *motion.Config { return w.config.Load() }

// Start runs the worker on its own goroutine. The channel yields Run's
// result once the loop has ended.
func (w *Worker) Start(setup Setup) <-chan error {
	w.state.Store(int32(Running))
	done := make(chan error, 1)
	go func() {
		done <- w.Run(setup)
	}()
	return done
}

// Run pins the calling goroutine's thread, runs setup and then the loop until
// a quit segment or an abort request.
func (w *Worker) Run(setup Setup) (err error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	w.state.Store(int32(Running))
	defer func() {
		if r := recover(); r != nil {
			w.finish()
			if w.sup != nil {
				w.sup.shutdown(true)
			}
			panic(r)
		}
		w.finish()
	}()

	if w.core >= 0 {
		if err := pinToCore(w.core); err != nil {
			return err
		}
		w.log.WithField("core", w.core).Debug("worker pinned")
	}
	cfg, err := setup(w.regs, w.control)
	if err != nil {
		return err
	}
	w.config.Store(&cfg)
	w.loop(motion.NewSynthesizer(cfg, w.regs, w.control))
	return nil
}

func (w *Worker) finish() {
	w.state.Store(int32(Stopped))
	w.control.Acknowledge()
}

func (w *Worker) loop(synth *motion.Synthesizer) {
	defer w.state.Store(int32(Draining))

	last := w.Position()
	for !w.control.AbortRequested() {
		if w.queue.HasNext() {
			t := w.queue.Pop()
			if t.Quit {
				w.log.Debug("worker quit")
				return
			}
			synth.Step(t.From, t.To, t.Dt)
			last = t.To
			pos := last
			w.position.Store(&pos)
			continue
		}

		w.underruns.Add(1)
		w.log.Warn("ring buffer underrun, idling")
		hold := last
		hold.EggSpeed, hold.PenSpeed = 0, 0
		for !w.queue.HasNext() && !w.control.AbortRequested() {
			synth.Step(hold, hold, w.idleDt)
		}
	}
	w.log.Debug("worker aborted")
}
