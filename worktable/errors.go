package worktable

import "fmt"

// Sentinel errors surfaced to callers (spec §6): NotFound, NotOwned, and
// LockError (the persistent-continuity-violation case, spec §7) are
// closed, comparable sentinels; SerializeError and PagesError are not
// redeclared here since rowstore.Error and page.Error already carry the
// finer-grained kind a caller might want to switch on, and errors.Is
// against those sentinels still works through a wrapped worktable error.
var (
	ErrNotFound  = fmt.Errorf("worktable: not found")
	ErrNotOwned  = fmt.Errorf("worktable: link not owned by this table")
	ErrLockError = fmt.Errorf("worktable: persistent event-continuity violation")
)

// AlreadyExistsError reports a unique-index insert collision (spec §6
// "AlreadyExists{at, inserted_already}"). At names the index the
// collision happened on; InsertedAlready lists every secondary index the
// failed insert had already entered (and was rolled back from) by the
// time the collision was detected. The primary index is not listed.
type AlreadyExistsError struct {
	At              string
	InsertedAlready []string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("worktable: row already exists at index %q (rolled back from: %v)", e.At, e.InsertedAlready)
}
