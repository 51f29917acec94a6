// Package queue implements Qinfo and the double-buffered queue pair that
// decouples producing a message from delivering it.
//
// Every producer (each compute worker and the control thread) owns one
// outgoing Segment and never touches another's. Pair.Swap, run inside the
// swap barrier, turns all outgoing segments into the incoming queue in
// segment order. Nothing appended during Phase 1 is visible before the swap.
package queue
