package gpio

import "sync/atomic"

// Recorder is an in-memory Device. It backs dry runs and tests, and keeps
// enough accounting to check that callers only write real changes.
type Recorder struct {
	outputs
	level     atomic.Uint32
	ever      atomic.Uint32
	writes    atomic.Uint64
	redundant atomic.Uint64
	resets    atomic.Uint64
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Set(mask uint32) {
	r.writes.Add(1)
	old := r.level.Or(mask)
	if old&mask != 0 {
		r.redundant.Add(1)
	}
	r.ever.Or(mask)
}

func (r *Recorder) Clear(mask uint32) {
	r.writes.Add(1)
	old := r.level.And(^mask)
	if ^old&mask != 0 {
		r.redundant.Add(1)
	}
}

func (r *Recorder) Output(line int) error {
	return r.add(line)
}

func (r *Recorder) Reset() {
	r.resets.Add(1)
	r.level.And(^r.Outputs())
}

func (r *Recorder) Close() error { return nil }

// Level is the current state of every line.
func (r *Recorder) Level() uint32 { return r.level.Load() }

// Ever is every line that has been asserted at least once.
func (r *Recorder) Ever() uint32 { return r.ever.Load() }

// Writes counts register writes, set and clear alike.
func (r *Recorder) Writes() uint64 { return r.writes.Load() }

// Redundant counts writes that touched a line already in the target state.
func (r *Recorder) Redundant() uint64 { return r.redundant.Load() }

// Resets counts calls to Reset.
func (r *Recorder) Resets() uint64 { return r.resets.Load() }
