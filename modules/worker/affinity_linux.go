package worker

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// pinToCore binds the calling thread to one CPU.
func pinToCore(core int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	return errors.Wrapf(unix.SchedSetaffinity(0, &set), "pin worker to core %d", core)
}
