package eggcode

import (
	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// OpenSerial opens the port an EBB host talks to, typically a USB gadget
// serial device.
func OpenSerial(name string, baud int) (serial.Port, error) {
	if baud == 0 {
		baud = 9600
	}
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, errors.Wrapf(err, "open serial %s", name)
	}
	return port, nil
}
