//go:build !linux

package gpio

import "github.com/pkg/errors"

var errNotLinux = errors.New("register access needs linux")

func openMem(string) (Device, error)  { return nil, errNotLinux }
func openCdev(string) (Device, error) { return nil, errNotLinux }
