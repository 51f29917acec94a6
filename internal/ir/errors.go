package ir

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// RuntimeError represents an error detected by the messaging runtime.
//
// Runtime errors fall into categories:
//   - Addressing: stale element id, out-of-range DataID, unknown field
//   - Routing: incompatible ports or shapes on Msg creation
//   - Dispatch: unfinalized table, unregistered or mismatched function id
//   - StaleMsg: lookup or delivery against a freed MsgID
//   - Sharding: resize or query against an unsized handler
//   - Protocol: cross-node divergence; always fatal
type RuntimeError struct {
	// Code identifies the specific error.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Details contains additional context.
	Details map[string]string
}

// ErrorCode identifies a runtime error.
type ErrorCode string

// Category groups error codes.
type Category string

const (
	CategoryAddressing Category = "ADDRESSING"
	CategoryRouting    Category = "ROUTING"
	CategoryDispatch   Category = "DISPATCH"
	CategoryStaleMsg   Category = "STALE_MSG"
	CategorySharding   Category = "SHARDING"
	CategoryProtocol   Category = "PROTOCOL"
)

const (
	// ErrCodeStaleElement indicates an ElementID whose element was destroyed.
	ErrCodeStaleElement ErrorCode = "STALE_ELEMENT"

	// ErrCodeOutOfRange indicates a DataID beyond the element's array.
	ErrCodeOutOfRange ErrorCode = "OUT_OF_RANGE"

	// ErrCodeUnknownField indicates a field name the class does not declare.
	ErrCodeUnknownField ErrorCode = "UNKNOWN_FIELD"

	// ErrCodeUnknownPath indicates a path that names no element.
	ErrCodeUnknownPath ErrorCode = "UNKNOWN_PATH"

	// ErrCodeUnknownClass indicates a class name that was never registered.
	ErrCodeUnknownClass ErrorCode = "UNKNOWN_CLASS"

	// ErrCodeIncompatiblePorts indicates source and destination signatures differ.
	ErrCodeIncompatiblePorts ErrorCode = "INCOMPATIBLE_PORTS"

	// ErrCodeDimensionMismatch indicates shapes unusable by the routing kind.
	ErrCodeDimensionMismatch ErrorCode = "DIMENSION_MISMATCH"

	// ErrCodeUnknownPort indicates a port name the class does not declare.
	ErrCodeUnknownPort ErrorCode = "UNKNOWN_PORT"

	// ErrCodeUnsupportedCopy indicates array expansion on a kind that lacks it.
	ErrCodeUnsupportedCopy ErrorCode = "UNSUPPORTED_COPY"

	// ErrCodeUninitializedDispatch indicates use of the table before Finalize.
	ErrCodeUninitializedDispatch ErrorCode = "UNINITIALIZED_DISPATCH"

	// ErrCodeAlreadyFinalized indicates a second Finalize or a late registration.
	ErrCodeAlreadyFinalized ErrorCode = "ALREADY_FINALIZED"

	// ErrCodeUnregisteredFunc indicates a FuncID with no handler.
	ErrCodeUnregisteredFunc ErrorCode = "UNREGISTERED_FUNC"

	// ErrCodeSignatureMismatch indicates argument bytes of the wrong size.
	ErrCodeSignatureMismatch ErrorCode = "SIGNATURE_MISMATCH"

	// ErrCodeStaleMsg indicates a freed MsgID.
	ErrCodeStaleMsg ErrorCode = "STALE_MSG"

	// ErrCodeUninitializedHandler indicates a handler that was never sized.
	ErrCodeUninitializedHandler ErrorCode = "UNINITIALIZED_HANDLER"

	// ErrCodeUnsupportedExpansion indicates a copy that would grow an array.
	ErrCodeUnsupportedExpansion ErrorCode = "UNSUPPORTED_EXPANSION"

	// ErrCodeBarrierMismatch indicates nodes arrived at different collectives.
	ErrCodeBarrierMismatch ErrorCode = "BARRIER_MISMATCH"

	// ErrCodeTableMismatch indicates nodes finalized different dispatch tables.
	ErrCodeTableMismatch ErrorCode = "TABLE_MISMATCH"

	// ErrCodeAckMismatch indicates nodes acknowledged a command differently.
	ErrCodeAckMismatch ErrorCode = "ACK_MISMATCH"
)

var codeCategories = map[ErrorCode]Category{
	ErrCodeStaleElement:          CategoryAddressing,
	ErrCodeOutOfRange:            CategoryAddressing,
	ErrCodeUnknownField:          CategoryAddressing,
	ErrCodeUnknownPath:           CategoryAddressing,
	ErrCodeUnknownClass:          CategoryAddressing,
	ErrCodeIncompatiblePorts:     CategoryRouting,
	ErrCodeDimensionMismatch:     CategoryRouting,
	ErrCodeUnknownPort:           CategoryRouting,
	ErrCodeUnsupportedCopy:       CategoryRouting,
	ErrCodeUninitializedDispatch: CategoryDispatch,
	ErrCodeAlreadyFinalized:      CategoryDispatch,
	ErrCodeUnregisteredFunc:      CategoryDispatch,
	ErrCodeSignatureMismatch:     CategoryDispatch,
	ErrCodeStaleMsg:              CategoryStaleMsg,
	ErrCodeUninitializedHandler:  CategorySharding,
	ErrCodeUnsupportedExpansion:  CategorySharding,
	ErrCodeBarrierMismatch:       CategoryProtocol,
	ErrCodeTableMismatch:         CategoryProtocol,
	ErrCodeAckMismatch:           CategoryProtocol,
}

// Category returns the category of the error's code.
func (e *RuntimeError) Category() Category {
	return codeCategories[e.Code]
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + e.Details[k]
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(pairs, ", "))
}

// NewError creates a RuntimeError. details are alternating key, value pairs.
func NewError(code ErrorCode, message string, details ...string) *RuntimeError {
	e := &RuntimeError{Code: code, Message: message}
	if len(details) > 0 {
		e.Details = make(map[string]string, len(details)/2)
		for i := 0; i+1 < len(details); i += 2 {
			e.Details[details[i]] = details[i+1]
		}
	}
	return e
}

// Errorf creates a RuntimeError with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *RuntimeError {
	return &RuntimeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsCode returns true if err is a RuntimeError with the given code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code ErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsCategory returns true if err is a RuntimeError in the given category.
func IsCategory(err error, cat Category) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Category() == cat
	}
	return false
}

// IsFatal returns true for protocol errors. A node that sees one must stop.
func IsFatal(err error) bool {
	return IsCategory(err, CategoryProtocol)
}

// IsStaleMsg returns true if err reports a freed MsgID.
func IsStaleMsg(err error) bool {
	return IsCode(err, ErrCodeStaleMsg)
}

// NewStaleElementError reports a lookup of a destroyed element.
func NewStaleElementError(id ElementID) *RuntimeError {
	return NewError(ErrCodeStaleElement, "element was destroyed", "element", id.String())
}

// NewOutOfRangeError reports a DataID outside an element's array.
func NewOutOfRangeError(id ElementID, d DataID, n uint32) *RuntimeError {
	return NewError(ErrCodeOutOfRange, "data id out of range",
		"element", id.String(), "data", d.String(), "count", fmt.Sprintf("%d", n))
}

// NewStaleMsgError reports a lookup of a freed MsgID.
func NewStaleMsgError(id MsgID) *RuntimeError {
	return NewError(ErrCodeStaleMsg, "msg was dropped", "msg", fmt.Sprintf("%d", id))
}
