//go:build linux

package gpio

import (
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio/v4"
	"golang.org/x/sys/unix"
)

const (
	pageSize  = 4096
	setOffset = 0x1C
	clrOffset = 0x28
)

// memBank writes the BCM set and clear words directly. go-rpio owns the
// function select registers; the set and clear words are mapped separately so
// a whole mask lands in one store.
type memBank struct {
	outputs
	raw []byte
	mem []uint32
}

func openMem(path string) (Device, error) {
	if path == "" {
		path = "/dev/gpiomem"
	}
	if err := rpio.Open(); err != nil {
		return nil, errors.Wrap(err, "open gpio registers")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		rpio.Close()
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	raw, err := unix.Mmap(int(f.Fd()), 0, pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		rpio.Close()
		return nil, errors.Wrapf(err, "mmap %s", path)
	}
	return &memBank{
		raw: raw,
		mem: unsafe.Slice((*uint32)(unsafe.Pointer(&raw[0])), pageSize/4),
	}, nil
}

func (b *memBank) Set(mask uint32) {
	b.mem[setOffset/4] = mask
}

func (b *memBank) Clear(mask uint32) {
	b.mem[clrOffset/4] = mask
}

func (b *memBank) Output(line int) error {
	if err := b.add(line); err != nil {
		return err
	}
	pin := rpio.Pin(line)
	pin.Output()
	pin.Low()
	return nil
}

func (b *memBank) Reset() {
	b.Clear(b.Outputs())
}

func (b *memBank) Close() error {
	err := unix.Munmap(b.raw)
	if cerr := rpio.Close(); err == nil {
		err = cerr
	}
	return errors.Wrap(err, "close gpio registers")
}
