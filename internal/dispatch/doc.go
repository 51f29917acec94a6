// Package dispatch implements the function table: a canonical, node-
// identical mapping from (class, port) to handler functions.
//
// Classes register during startup. Finalize then sorts every destination
// port by its NFC canonical name and assigns FuncIDs, so the same
// registration set yields the same ids on every node regardless of
// registration order. After Finalize the table is read-only and is shared
// between worker goroutines without locking.
package dispatch
