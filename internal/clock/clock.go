package clock

import "time"

// Clock supplies the current instant. Scheduling components take a Clock
// instead of calling time.Now so due-time math is deterministic in tests.
// All instants are UTC; display conversion happens at the presentation edge.
type Clock interface {
	Now() time.Time
}

// System returns a Clock backed by the wall clock, normalized to UTC.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Func adapts a plain function to the Clock interface.
type Func func() time.Time

func (f Func) Now() time.Time {
	return f()
}
