package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/substrate/internal/ir"
)

// ErrRunning is returned by structural calls made while a run is in
// progress. Structure may only change between runs.
var ErrRunning = errors.New("engine is running")

// ErrRootElement is returned by operations the root element does not
// support (delete, move, copy).
var ErrRootElement = errors.New("operation not permitted on the root element")

// FailedError wraps the protocol error that took a cluster down. Every
// command issued after the failure returns it.
type FailedError struct {
	Cause error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("cluster failed: %v", e.Cause)
}

func (e *FailedError) Unwrap() error { return e.Cause }

// IsFailed returns true if err reports a failed cluster.
// Uses errors.As to handle wrapped errors.
func IsFailed(err error) bool {
	var fe *FailedError
	return errors.As(err, &fe)
}

func errNoPath(p string) error {
	return ir.NewError(ir.ErrCodeUnknownPath, "no element at path", "path", p)
}

func errDuplicateName(parent ir.ElementID, name string) error {
	return fmt.Errorf("element %q already exists under %s", name, parent)
}

func errCycle(id, parent ir.ElementID) error {
	return fmt.Errorf("cannot place %s under its own descendant %s", id, parent)
}
