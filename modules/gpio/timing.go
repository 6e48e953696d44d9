package gpio

import (
	"fmt"
	"io"
	"time"
)

// TimingLog wraps Registers and writes one "<seconds>\t<0|1>" line to W each
// time the watched line changes. It is a debugging aid for servo pulses.
type TimingLog struct {
	Registers
	Line  int
	W     io.Writer
	Clock func() time.Time

	high bool
}

func (l *TimingLog) Set(mask uint32) {
	l.Registers.Set(mask)
	if mask&(1<<uint(l.Line)) != 0 && !l.high {
		l.high = true
		l.log()
	}
}

func (l *TimingLog) Clear(mask uint32) {
	l.Registers.Clear(mask)
	if mask&(1<<uint(l.Line)) != 0 && l.high {
		l.high = false
		l.log()
	}
}

func (l *TimingLog) log() {
	now := time.Now
	if l.Clock != nil {
		now = l.Clock
	}
	v := 0
	if l.high {
		v = 1
	}
	t := now()
	fmt.Fprintf(l.W, "%f\t%d\n", float64(t.UnixNano())/1e9, v)
}
