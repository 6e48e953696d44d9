// Package unit holds the angular coordinate model: revolutions stored as a
// whole step count plus a fractional substep.
package unit

import "math"

// Unit is an absolute angle in revolutions, Step + Substep.
type Unit struct {
	Step    int
	Substep float64
}

// Coordinate is the machine position at a segment boundary. Speeds are in
// revolutions per second, Servo is a position factor in [0,1].
type Coordinate struct {
	Egg      Unit
	EggSpeed float64
	Pen      Unit
	PenSpeed float64
	Servo    float64
}

// maxWhole bounds the revolutions Normalize will move into Step; beyond it
// the int conversion is not defined.
const maxWhole = 1 << 62

// Normalize moves whole revolutions from Substep into Step so that Substep
// ends up in [0,1). The total angle is preserved. Non-finite values and
// substeps too large for Step are returned unchanged.
func Normalize(u Unit) Unit {
	if math.IsNaN(u.Substep) || math.IsInf(u.Substep, 0) {
		return u
	}
	whole := math.Floor(u.Substep)
	if math.Abs(whole) >= maxWhole {
		return u
	}
	u.Step += int(whole)
	u.Substep -= whole
	// -1e-20 floors to -1 and rounds back up to exactly 1.0
	if u.Substep >= 1 {
		u.Step++
		u.Substep--
	}
	return u
}

// Add returns u advanced by f revolutions.
func (u Unit) Add(f float64) Unit {
	u.Substep += f
	return Normalize(u)
}

// Value returns the angle as a single float.
func (u Unit) Value() float64 {
	return float64(u.Step) + u.Substep
}

// Advance moves both axes by relative revolution deltas and sets the absolute
// servo factor. Speeds of the result are zero; the planner stamps them.
func Advance(from Coordinate, egg, pen, servo float64) Coordinate {
	return Coordinate{
		Egg:   from.Egg.Add(egg),
		Pen:   from.Pen.Add(pen),
		Servo: servo,
	}
}

// Difference returns to relative to from in revolutions. This is the literal
// accumulated distance, not the shortest way around the circle.
func Difference(from, to Unit) float64 {
	to.Step -= from.Step
	to.Substep -= from.Substep
	return Normalize(to).Value()
}
