// Package ir holds the addressing types shared by every other package:
// element, data and object ids, message and function ids, the per-thread
// ProcInfo, the even-split shard rule and the runtime error taxonomy.
//
// ir imports nothing internal. All other internal packages import ir.
//
// Key constraints:
//   - ElementIDs are never reused; a destroyed element's id stays dangling
//   - Only ids (MsgID, FuncID) cross thread and node boundaries, never handlers
//   - Names used as sort keys are NFC normalized
package ir
