// Package data implements DataHandlers, the node-sharding-aware backing
// stores of element instances.
//
// A handler owns the bytes of one element's instances. Three variants
// exist:
//   - OneDim: the array is range partitioned across nodes by ir.Partition
//   - Global: the array is replicated on every node, node 0 is the writer
//   - Field: each instance owns a variable-length sub-array of entries
//
// Data returns nil for targets that are not resident on this node. That is
// routine traffic during delivery and is never reported as an error.
package data
