// Package msg implements Msgs, the connectors that route typed payloads
// between two elements' arrays, and the per-node Msg table.
//
// A Msg's routing function maps a source DataID to the set of target
// DataIDs under one of five topologies:
//   - OneToOne: i -> {i}
//   - OneToAll: i -> every instance of the other end
//   - Diagonal: i -> {i + stride} when in range, never wrapping
//   - Sparse: i -> a fixed random subset, built once from a seeded PCG
//   - Single: any -> one fixed target
//
// Msgs are traversable both ways. Exec delivers a payload to the targets
// resident on this node that the calling worker owns.
package msg
