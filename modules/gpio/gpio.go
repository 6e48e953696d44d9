// Package gpio provides the output register capability the motion loop writes
// to: a set word and a clear word where bit N drives line N.
package gpio

import (
	"math/bits"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Registers asserts and deasserts output lines by mask. Bits that are zero
// in mask are left alone.
type Registers interface {
	Set(mask uint32)
	Clear(mask uint32)
}

// Device is an opened GPIO bank.
type Device interface {
	Registers
	// Output switches line to output mode and remembers it for Reset.
	Output(line int) error
	// Outputs is the mask of every line switched to output so far.
	Outputs() uint32
	// Reset deasserts every line ever switched to output.
	Reset()
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMem    = "mmap"
	BackendCdev   = "cdev"
	BackendPeriph = "periph"
	BackendNull   = "null"
)

// MaxLine is the highest line number a 32 bit register word can address.
const MaxLine = 31

var ErrUnknownBackend = errors.New("unknown gpio backend")

// Options selects and parametrizes a backend.
type Options struct {
	Backend string
	Memory  string // register device for mmap, usually /dev/gpiomem
	Chip    string // character device for cdev, usually gpiochip0
}

// Open returns the requested backend. Any failure here means the register
// mapping is unavailable and no motion may be attempted.
func Open(o Options) (Device, error) {
	switch o.Backend {
	case BackendMem, "":
		return openMem(o.Memory)
	case BackendCdev:
		return openCdev(o.Chip)
	case BackendPeriph:
		return openPeriph()
	case BackendNull:
		return NewRecorder(), nil
	}
	return nil, errors.Wrap(ErrUnknownBackend, o.Backend)
}

// outputs tracks the reset mask shared by all backends.
type outputs struct {
	mask atomic.Uint32
}

func (o *outputs) add(line int) error {
	if line < 0 || line > MaxLine {
		return errors.Errorf("gpio line %d out of range", line)
	}
	o.mask.Or(1 << uint(line))
	return nil
}

func (o *outputs) Outputs() uint32 {
	return o.mask.Load()
}

// eachLine calls fn for every set bit of mask.
func eachLine(mask uint32, fn func(line int)) {
	for mask != 0 {
		line := bits.TrailingZeros32(mask)
		fn(line)
		mask &^= 1 << uint(line)
	}
}
