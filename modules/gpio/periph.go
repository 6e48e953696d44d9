package gpio

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// periphBank goes through periph.io pin drivers. It is the portable choice
// for boards the mmap layout does not match.
type periphBank struct {
	outputs
	mu   sync.Mutex
	pins [MaxLine + 1]pgpio.PinIO
}

func openPeriph() (Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "periph host init")
	}
	return &periphBank{}, nil
}

func (b *periphBank) write(mask uint32, l pgpio.Level) {
	eachLine(mask&b.Outputs(), func(line int) {
		_ = b.pins[line].Out(l)
	})
}

func (b *periphBank) Set(mask uint32)   { b.write(mask, pgpio.High) }
func (b *periphBank) Clear(mask uint32) { b.write(mask, pgpio.Low) }

func (b *periphBank) Output(line int) error {
	if line < 0 || line > MaxLine {
		return errors.Errorf("gpio line %d out of range", line)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", line))
	if p == nil {
		return errors.Errorf("no periph pin GPIO%d", line)
	}
	if err := p.Out(pgpio.Low); err != nil {
		return errors.Wrapf(err, "configure %s", p)
	}
	b.pins[line] = p
	return b.add(line)
}

func (b *periphBank) Reset() {
	b.Clear(b.Outputs())
}

func (b *periphBank) Close() error {
	return nil
}
