package domain

import "fmt"

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Is enables errors.Is matching on NotFoundError.
func (e NotFoundError) Is(target error) bool {
	_, ok := target.(NotFoundError)
	if ok {
		return true
	}
	_, ok = target.(*NotFoundError)
	return ok
}

// TransportError means the event log or the content store could not be reached.
// It is retryable by the caller.
type TransportError struct {
	Op  string
	Err error
}

func (e TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport error: %s", e.Op)
	}
	return fmt.Sprintf("transport error: %s: %v", e.Op, e.Err)
}

func (e TransportError) Unwrap() error { return e.Err }

func (e TransportError) Is(target error) bool {
	_, ok := target.(TransportError)
	if ok {
		return true
	}
	_, ok = target.(*TransportError)
	return ok
}

// MalformedRecordError marks a content record that resolved but must be dropped.
type MalformedRecordError struct {
	ContentID string
	Reason    string
}

func (e MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record %s: %s", e.ContentID, e.Reason)
}

func (e MalformedRecordError) Is(target error) bool {
	_, ok := target.(MalformedRecordError)
	if ok {
		return true
	}
	_, ok = target.(*MalformedRecordError)
	return ok
}

// WriteError is returned when a mutation submitted to the chain failed.
type WriteError struct {
	Op  string
	Err error
}

func (e WriteError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("write failed: %s", e.Op)
	}
	return fmt.Sprintf("write failed: %s: %v", e.Op, e.Err)
}

func (e WriteError) Unwrap() error { return e.Err }

func (e WriteError) Is(target error) bool {
	_, ok := target.(WriteError)
	if ok {
		return true
	}
	_, ok = target.(*WriteError)
	return ok
}

// Sentinels for errors.Is.
var (
	ErrNotFound        = NotFoundError{}
	ErrTransport       = TransportError{}
	ErrMalformedRecord = MalformedRecordError{}
	ErrWrite           = WriteError{}
)
