package kv

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for ids with no live record.
	ErrNotFound = errors.New("kv: item not found")
	// ErrRejected is returned when the provider dropped a write.
	ErrRejected = errors.New("kv: write rejected by provider")
)

// DeleteError reports a delete that did not fully complete. A failed bump
// alone leaves a readable record; a failed delete alone leaves a stale record
// that is healed on its next read.
type DeleteError struct {
	ID      string
	BumpErr error
	DelErr  error
}

func (e *DeleteError) Error() string {
	switch {
	case e.BumpErr != nil && e.DelErr != nil:
		return fmt.Sprintf("kv: delete %q: revision bump and delete failed: bump=%v; delete=%v",
			e.ID, e.BumpErr, e.DelErr)
	case e.BumpErr != nil:
		return fmt.Sprintf("kv: delete %q: revision bump failed: %v", e.ID, e.BumpErr)
	case e.DelErr != nil:
		return fmt.Sprintf("kv: delete %q: delete failed: %v", e.ID, e.DelErr)
	default:
		return fmt.Sprintf("kv: delete %q: unknown error", e.ID)
	}
}

func (e *DeleteError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.BumpErr != nil {
		errs = append(errs, e.BumpErr)
	}
	if e.DelErr != nil {
		errs = append(errs, e.DelErr)
	}
	return errs
}
