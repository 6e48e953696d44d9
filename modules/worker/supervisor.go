package worker

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"eggbot/modules/gpio"
	"eggbot/modules/motion"
)

// poll is the nap between checks while waiting for the worker to stop.
var poll = time.Millisecond

// Supervisor stops the worker and leaves every output deasserted. Shutdown
// may be called from a signal handler goroutine and from normal program
// exit; the outputs are cleared once.
type Supervisor struct {
	worker  *Worker
	control *motion.Control
	dev     gpio.Device
	log     logrus.FieldLogger
	once    sync.Once
}

func NewSupervisor(w *Worker, control *motion.Control, dev gpio.Device, log logrus.FieldLogger) *Supervisor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Supervisor{worker: w, control: control, dev: dev, log: log}
	if w != nil {
		w.sup = s
	}
	return s
}

// Shutdown halts the worker if it is running and clears all outputs.
func (s *Supervisor) Shutdown() {
	s.shutdown(false)
}

// shutdown with self set is the worker's own panic path; it must not wait
// for itself.
func (s *Supervisor) shutdown(self bool) {
	s.once.Do(func() {
		s.log.Info("clear all...")
		if !self && s.worker != nil && s.worker.Active() {
			s.log.Info("halting worker thread")
			s.control.RequestAbort()
			for !s.control.Acknowledged() {
				time.Sleep(poll)
			}
		}
		s.dev.Reset()
		s.log.Info("clear all OK")
	})
}
