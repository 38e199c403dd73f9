package ecs

import "sync/atomic"

// Tick is a point on the world's change clock. The clock advances once at the start of every
// schedule run, once for every system execution, and once for every batch of structural changes,
// so each system invocation writes under its own tick and remembers the tick of its previous
// run. Ticks are 64 bits and never wrap in practice.
type Tick uint64

// ComponentTicks records when a stored value was added and when it was last written.
type ComponentTicks struct {
	Added   Tick
	Changed Tick
}

// IsAdded reports whether the value was added after lastRun.
func (t ComponentTicks) IsAdded(lastRun Tick) bool {
	return t.Added > lastRun
}

// IsChanged reports whether the value was written after lastRun. Adding counts as a write.
func (t ComponentTicks) IsChanged(lastRun Tick) bool {
	return t.Changed > lastRun
}

// changeClock is the world's change clock. It's explicit world state, handed to systems by value
// through their lastRun/thisRun snapshots rather than read ad hoc.
type changeClock struct {
	now atomic.Uint64
}

// advance moves the clock forward and returns the new tick.
func (c *changeClock) advance() Tick {
	return Tick(c.now.Add(1))
}

// current returns the latest tick handed out.
func (c *changeClock) current() Tick {
	return Tick(c.now.Load())
}
