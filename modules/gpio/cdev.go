//go:build linux

package gpio

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
)

// cdevBank drives lines through the GPIO character device. Every bit is its
// own ioctl, so the calibrated loop rate is much lower than with mmap.
type cdevBank struct {
	outputs
	chip  string
	mu    sync.Mutex
	lines [MaxLine + 1]*gpiocdev.Line
}

func openCdev(chip string) (Device, error) {
	if chip == "" {
		chip = "gpiochip0"
	}
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", chip)
	}
	c.Close()
	return &cdevBank{chip: chip}, nil
}

func (b *cdevBank) write(mask uint32, value int) {
	eachLine(mask&b.Outputs(), func(line int) {
		_ = b.lines[line].SetValue(value)
	})
}

func (b *cdevBank) Set(mask uint32)   { b.write(mask, 1) }
func (b *cdevBank) Clear(mask uint32) { b.write(mask, 0) }

func (b *cdevBank) Output(line int) error {
	if line < 0 || line > MaxLine {
		return errors.Errorf("gpio line %d out of range", line)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lines[line] != nil {
		return nil
	}
	l, err := gpiocdev.RequestLine(b.chip, line, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("eggbot"))
	if err != nil {
		return errors.Wrapf(err, "request %s line %d", b.chip, line)
	}
	b.lines[line] = l
	return b.add(line)
}

func (b *cdevBank) Reset() {
	b.Clear(b.Outputs())
}

func (b *cdevBank) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var first error
	for i, l := range b.lines {
		if l == nil {
			continue
		}
		if err := l.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "release line %d", i)
		}
		b.lines[i] = nil
	}
	return first
}
