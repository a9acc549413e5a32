package agent

import "fmt"

// DuplicateTypeError reports a second Register call for the same agent type.
type DuplicateTypeError struct {
	TypeID string
}

// Error implements the error interface.
func (e *DuplicateTypeError) Error() string {
	return fmt.Sprintf("agent type %q is already registered", e.TypeID)
}

// UnknownTypeError reports a GetOrCreate for an unregistered agent type.
type UnknownTypeError struct {
	TypeID string
}

// Error implements the error interface.
func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("agent type %q is not registered", e.TypeID)
}

// BusyError is returned in BusyReject mode when a run is already in flight
// for the conversation key.
type BusyError struct {
	Key string
}

// Error implements the error interface.
func (e *BusyError) Error() string {
	return fmt.Sprintf("a run is already in flight for conversation %q", e.Key)
}
