package itemstore

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnsupported is returned when the adapter declares no capability
	// for the requested operation.
	ErrUnsupported = errors.New("itemstore: operation not supported by adapter")

	// ErrInvalidHandler is returned for nil handlers and handlers whose
	// dynamic type cannot be compared for identity (e.g. bare funcs).
	ErrInvalidHandler = errors.New("itemstore: handler must be a non-nil comparable value")

	ErrEmptyID = errors.New("itemstore: item id must not be empty")

	// ErrNotReturned is routed into an item whose id was part of a read
	// batch but absent from the adapter's result.
	ErrNotReturned = errors.New("itemstore: item missing from batch result")
)

// CapabilityError reports a mutation the adapter cannot serve.
type CapabilityError struct {
	Op   string
	Need Capability
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("itemstore: %s requires one of [%s]", e.Op, e.Need)
}

func (e *CapabilityError) Unwrap() error { return ErrUnsupported }

// BatchError reports per-item failures of a multi-item adapter call. Ids
// absent from Errs succeeded.
type BatchError struct {
	Errs map[string]error
}

func (e *BatchError) ids() []string {
	ids := make([]string, 0, len(e.Errs))
	for id := range e.Errs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *BatchError) Error() string {
	ids := e.ids()
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%q: %v", id, e.Errs[id])
	}
	return fmt.Sprintf("itemstore: %d of batch failed: %s", len(ids), strings.Join(parts, "; "))
}

func (e *BatchError) Unwrap() []error {
	ids := e.ids()
	errs := make([]error, len(ids))
	for i, id := range ids {
		errs[i] = e.Errs[id]
	}
	return errs
}

// itemErr narrows a batch completion error to one id. A *BatchError yields
// that id's own error, nil when it succeeded; any other error applies to
// every id.
func itemErr(err error, id string) error {
	var be *BatchError
	if errors.As(err, &be) {
		return be.Errs[id]
	}
	return err
}
