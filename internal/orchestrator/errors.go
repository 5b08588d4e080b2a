package orchestrator

import (
	"fmt"

	"github.com/sebas/holepunch/internal/errs"
)

// StateError reports a precondition violation when a phase is entered out
// of order (e.g. Start called before Create completed).
type StateError struct {
	Op       string
	Required string
	Have     StateMask
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: requires state %s, have %s", e.Op, e.Required, e.Have)
}

func (e *StateError) Unwrap() error {
	return errs.ErrUninitialized
}
