// Package sched implements the Clock and its Ticks, the periodic triggers
// that drive simulation steps.
//
// A Tick fires every Dt simulated seconds starting at its Phase and calls
// its target functions on every local instance of its target elements.
// Ticks sharing a Dt are coalesced into one group; groups fire in order of
// increasing Dt and ticks within a group in registration order. The group
// structure changes only through scheduling commands, never during a step.
package sched
