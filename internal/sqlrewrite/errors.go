package sqlrewrite

import "fmt"

// ParseError reports that the input to Transform is not valid SQL.
type ParseError struct {
	SQL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid SQL: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// InternalError reports that a rewrite could not be produced safely,
// e.g. when the grouping key of a matched scope cannot be resolved for
// the 2-phase join. It is surfaced rather than emitting a query with
// silently wrong semantics.
type InternalError struct {
	Reason string
}

func (e *InternalError) Error() string {
	return "rewrite failed: " + e.Reason
}

func internalErrorf(format string, args ...any) *InternalError {
	return &InternalError{Reason: fmt.Sprintf(format, args...)}
}
