//go:build !linux

package worker

import "github.com/pkg/errors"

func pinToCore(core int) error {
	return errors.Errorf("pinning to core %d needs linux", core)
}
