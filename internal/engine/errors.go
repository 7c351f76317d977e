package engine

import "fmt"

// ForbiddenError indicates the caller is not the operator authorized for the
// action.
type ForbiddenError struct {
	OperatorID string
	Action     string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("operator %s is not allowed to %s", e.OperatorID, e.Action)
}

// InvalidStateError indicates an action attempted from a state that does not
// permit it. Nothing is mutated when it is returned.
type InvalidStateError struct {
	Reason string
}

func (e InvalidStateError) Error() string { return e.Reason }

func invalidStatef(format string, args ...any) error {
	return InvalidStateError{Reason: fmt.Sprintf(format, args...)}
}

func forbidden(operatorID, action string) error {
	return ForbiddenError{OperatorID: operatorID, Action: action}
}
