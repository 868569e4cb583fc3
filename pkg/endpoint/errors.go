package endpoint

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by GetNode and CreateRelationship when a
// referenced id does not exist.
var ErrNotFound = errors.New("endpoint: entity not found")

// ExecutionError reports a transport, protocol or timeout failure while
// running a statement. The compiled template stays cached, so the fetch
// can be retried as is.
type ExecutionError struct {
	Statement string
	Timeout   bool
	Err       error
}

func (e *ExecutionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("execution timed out: %v", e.Err)
	}
	return fmt.Sprintf("execution failed: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ResultShapeError reports a response, or a requested row type, that does
// not match the declared projection. Row is -1 when the mismatch is not
// specific to one row.
type ResultShapeError struct {
	Column string
	Row    int
	Reason string
}

func (e *ResultShapeError) Error() string {
	var where string
	if e.Column != "" {
		where = fmt.Sprintf(" column %q", e.Column)
	}
	if e.Row >= 0 {
		where += fmt.Sprintf(" row %d", e.Row)
	}
	return "result shape" + where + ": " + e.Reason
}

func shapeErr(column string, format string, args ...any) *ResultShapeError {
	return &ResultShapeError{Column: column, Row: -1, Reason: fmt.Sprintf(format, args...)}
}
