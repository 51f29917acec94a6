// Package engine implements the per-node runtime and the cluster control
// plane.
//
// ARCHITECTURE:
//
// An Engine owns one node's share of a simulation: the element arena, the
// Msg table, the double-buffered queue pair and the scheduler clock. A
// Cluster joins N Engines through a Transport and applies every control
// command to all of them.
//
// Process loop:
// Each step runs on a fixed pool of worker goroutines plus one exchange
// goroutine. They meet at three barriers and nowhere else:
//  1. Phase 1: workers invoke the process handler of every target of the
//     fired ticks on their block of the local shard. Sends go to the
//     worker's own outgoing segment.
//  2. swap: the last arriver swaps the queue pair.
//  3. Phase 2: workers drain the incoming queue for targets they own.
//  4. exchange, once per node: node k broadcasts its incoming queue and
//     every other node drains the records for its local targets.
//  5. endCycle: statistics are recorded, all nodes agree by AllOr whether
//     to stop, and the clock advances to the next fire time.
//
// Receivers see exactly what the preceding Phase 1 produced, so a send in
// step n is handled in step n and its own sends are handled in step n+1.
//
// Structure (elements, Msgs, clocks, field values) changes only between
// runs. Structural calls made during a run fail with ErrRunning.
//
// Tree:
// The element tree is an arena indexed by ElementID. Parent and child
// edges are OneToAll Msgs from the parent's childOut port to the child's
// parentIn port, so tree traversal and routing share one table.
//
// Determinism:
// Every node applies the same commands in the same order and finalizes the
// same dispatch table, so ElementIDs, MsgIDs and FuncIDs agree across nodes
// without negotiation. Disagreement is detected (fingerprint at run start,
// tags on every collective, acks on every command) and is always fatal.
package engine
