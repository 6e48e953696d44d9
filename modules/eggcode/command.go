// Package eggcode turns the EiBotBoard style command stream into motion
// segments. Two commands move the machine:
//
//	SP,<pen state>,<duration ms>                 set the pen servo
//	SM,<duration ms>,<pen steps>,<egg steps>     move both steppers
//
// Everything else is accepted and ignored.
package eggcode

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrMalformed is returned for an SP or SM line whose arguments do not parse.
var ErrMalformed = errors.New("malformed command")

type Kind int

const (
	Unknown Kind = iota
	SetPen
	Move
	Version
)

// Command is one parsed line.
type Command struct {
	Kind     Kind
	Raw      string
	PenState int
	Duration int // ms
	PenSteps int
	EggSteps int
}

// Parse reads one line. Arguments beyond the ones used are ignored.
func Parse(line string) (Command, error) {
	raw := strings.TrimSpace(line)
	cmd := Command{Raw: raw}
	fields := strings.Split(raw, ",")
	switch strings.ToUpper(fields[0]) {
	case "SP":
		args, err := ints(raw, fields[1:], 2)
		if err != nil {
			return cmd, err
		}
		cmd.Kind, cmd.PenState, cmd.Duration = SetPen, args[0], args[1]
	case "SM":
		args, err := ints(raw, fields[1:], 3)
		if err != nil {
			return cmd, err
		}
		cmd.Kind, cmd.Duration, cmd.PenSteps, cmd.EggSteps = Move, args[0], args[1], args[2]
	case "V":
		cmd.Kind = Version
	default:
		return cmd, nil
	}
	if cmd.Duration < 0 {
		return cmd, errors.Wrapf(ErrMalformed, "negative duration in %q", raw)
	}
	return cmd, nil
}

func ints(raw string, fields []string, n int) ([]int, error) {
	if len(fields) < n {
		return nil, errors.Wrapf(ErrMalformed, "%q needs %d arguments", raw, n)
	}
	out := make([]int, n)
	for i := range out {
		v, err := strconv.Atoi(strings.TrimSpace(fields[i]))
		if err != nil {
			return nil, errors.Wrapf(ErrMalformed, "%q argument %d", raw, i+1)
		}
		out[i] = v
	}
	return out, nil
}
