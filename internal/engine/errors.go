package engine

import (
	"errors"
	"fmt"

	"kanline/internal/domain"
)

// ErrNotFound reports an unknown task id. Recoverable; the ledger is left
// unmodified.
var ErrNotFound = errors.New("task not found")

// TransitionError reports an operation that is not legal from the task's
// current state. Recoverable; the ledger is left unmodified.
type TransitionError struct {
	ID   string
	From domain.State
	Op   string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("task %s: cannot %s from %s", e.ID, e.Op, e.From)
}
