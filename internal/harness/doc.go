// Package harness runs declarative simulation scenarios against a cluster
// and checks their outcome.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: pulse_relay_chain
//	description: "Pulses feed relays which fan out to accumulators"
//	runtime:
//	  clocks: [{tick: 0, dt: 0.5}]
//	elements:
//	  - {path: /src, class: Pulse, n: 3}
//	  - {path: /acc, class: Accumulator, n: 2}
//	fields:
//	  - {obj: /src, field: value, value: 1}
//	msgs:
//	  - {kind: one_to_all, src: /src, src_port: out, dst: /acc, dst_port: add}
//	use:
//	  - {pattern: /src, tick: 0}
//	run:
//	  - step: 3
//	  - dump: after
//	assertions:
//	  - {type: field, obj: "/acc[0]", field: sum, expect: 9}
//	  - {type: totals, counts: {processed: 9}}
//
// Elements are created in order, so parents come first. Object references
// are "path", "path[i]" or, for field arrays, "path[i.k]".
//
// # Assertion Types
//
//   - field: a field of one object equals expect (within tolerance)
//   - time: the simulated time at the end of the run
//   - totals: a subset of the summed step statistics
//   - dump_rows: the number of rows captured by a labelled dump
//   - journal_steps: the number of distinct steps in the journal
//
// # Determinism
//
// Every run uses a fixed run id and an in-memory SQLite journal unless
// WithStore is given. Trace events record only counts that do not depend
// on the node and thread layout, so a golden trace and CheckInvariance
// hold on any cluster shape.
package harness
