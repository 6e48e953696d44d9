package eggcode

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// VersionReply answers the V query the way EBB firmware does, so host
// software that checks it keeps going.
const VersionReply = "EBBv13_and_above EB Firmware Version 2.4.2\r\n"

var ErrClosed = errors.New("feeder closed")

type job struct {
	name  string
	src   io.Reader
	reply io.Writer
	done  chan error
}

// Feeder serializes every command source onto the planner, so the queue
// keeps a single producer no matter where commands come from.
type Feeder struct {
	planner *Planner
	jobs    chan job
	closed  chan struct{}
	log     logrus.FieldLogger

	current   atomic.Pointer[string]
	lines     atomic.Uint64
	completed atomic.Uint64
	pending   atomic.Int64
}

func NewFeeder(p *Planner, backlog int, log logrus.FieldLogger) *Feeder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Feeder{
		planner: p,
		jobs:    make(chan job, backlog),
		closed:  make(chan struct{}),
		log:     log,
	}
}

// Submit schedules a command file. The channel yields the job's outcome.
func (f *Feeder) Submit(name string, src io.Reader) <-chan error {
	return f.submit(job{name: name, src: src})
}

// Session schedules an interactive stream: every command gets an EBB style
// reply on w.
func (f *Feeder) Session(name string, rw io.ReadWriter) <-chan error {
	return f.submit(job{name: name, src: rw, reply: rw})
}

func (f *Feeder) submit(j job) <-chan error {
	j.done = make(chan error, 1)
	select {
	case <-f.closed:
		j.done <- ErrClosed
		return j.done
	default:
	}
	f.pending.Add(1)
	select {
	case f.jobs <- j:
	case <-f.closed:
		f.pending.Add(-1)
		j.done <- ErrClosed
	}
	return j.done
}

// Close stops accepting jobs. Run finishes the queued ones, then queues the
// quit segment.
func (f *Feeder) Close() {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
}

// Run processes jobs in order until Close. A malformed command ends Run with
// ErrMalformed; the caller must treat that as fatal.
func (f *Feeder) Run(ctx context.Context) error {
	for {
		select {
		case j := <-f.jobs:
			if err := f.run(ctx, j); err != nil {
				return err
			}
			continue
		default:
		}
		select {
		case j := <-f.jobs:
			if err := f.run(ctx, j); err != nil {
				return err
			}
		case <-f.closed:
			if len(f.jobs) > 0 {
				continue
			}
			return f.planner.Quit(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *Feeder) run(ctx context.Context, j job) error {
	f.pending.Add(-1)
	f.current.Store(&j.name)
	defer f.current.Store(nil)

	log := f.log.WithField("job", j.name)
	log.Info("printing...")
	err := f.process(ctx, j, log)
	j.done <- err
	f.completed.Add(1)
	if err != nil {
		log.WithError(err).Error("printing failed")
		return err
	}
	log.Info("printing OK")
	return nil
}

func (f *Feeder) process(ctx context.Context, j job, log logrus.FieldLogger) error {
	sc := bufio.NewScanner(j.src)
	sc.Split(scanCommands)
	for sc.Scan() {
		cmd, err := Parse(sc.Text())
		if err != nil {
			return err
		}
		if cmd.Raw == "" {
			continue
		}
		f.lines.Add(1)
		switch cmd.Kind {
		case Unknown:
			log.WithField("command", cmd.Raw).Debug("unknown command")
		case Version:
			if j.reply != nil {
				if _, err := io.WriteString(j.reply, VersionReply); err != nil {
					return errors.Wrap(err, "reply")
				}
			}
			continue
		}
		if err := f.planner.Apply(ctx, cmd); err != nil {
			return err
		}
		if j.reply != nil {
			if _, err := fmt.Fprint(j.reply, "OK\r\n"); err != nil {
				return errors.Wrap(err, "reply")
			}
		}
	}
	if err := sc.Err(); err != nil {
		return errors.Wrapf(err, "read %s", j.name)
	}
	return nil
}

// Current is the name of the job being printed, empty when idle.
func (f *Feeder) Current() string {
	if p := f.current.Load(); p != nil {
		return *p
	}
	return ""
}

// Lines counts commands read so far.
func (f *Feeder) Lines() uint64 { return f.lines.Load() }

// Completed counts finished jobs.
func (f *Feeder) Completed() uint64 { return f.completed.Load() }

// Pending counts jobs waiting to start.
func (f *Feeder) Pending() int64 { return f.pending.Load() }

// scanCommands splits on CR or LF; EBB hosts end commands with CR only.
func scanCommands(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
