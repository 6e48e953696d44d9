package motion

import "math"

// Accel is the constant acceleration that covers distance d in dt seconds
// starting at speed v0: d = v0*dt + a*dt^2/2.
func Accel(d, dt, v0 float64) float64 {
	return 2 * (d/(dt*dt) - v0/dt)
}

// EndSpeed is the speed reached at the end of the segment. The planner stamps
// it into the next segment's start so queued moves join without a jump.
func EndSpeed(d, dt, v0 float64) float64 {
	return Accel(d, dt, v0)*dt + v0
}

// profile is one axis of a segment with the coefficients scaled to unit
// progress t in [0,1).
type profile struct {
	start float64 // substep at t=0
	half  float64 // a*dt^2/2
	v     float64 // v0*dt
}

func newProfile(start, d, dt, v0 float64) profile {
	a := Accel(d, dt, v0)
	return profile{start: start, half: a * dt * dt / 2, v: v0 * dt}
}

// at returns the angle in revolutions at progress t.
func (p profile) at(t float64) float64 {
	return p.start + p.half*t*t + p.v*t
}

// Winding shapes a commutation value: the magnitude is raised to exp and the
// sign kept.
func Winding(v, exp float64) float64 {
	if exp == 1 {
		return v
	}
	return math.Copysign(math.Pow(math.Abs(v), exp), v)
}

// DutyCycles is how many cycles of a frame a winding at value w stays on.
func DutyCycles(factor, w float64, frame int) int {
	return int(factor * math.Abs(w) * float64(frame))
}

// Blend interpolates linearly from low to high.
func Blend(t, low, high float64) float64 {
	return low + (high-low)*t
}

// ServoFactor maps a servo position (1 is up) to the fraction of the servo
// period the pulse stays high.
func ServoFactor(s ServoConfig, f float64) float64 {
	return Blend(Blend(1-f, s.Low, s.High), s.PulseLow, s.PulseHigh)
}
