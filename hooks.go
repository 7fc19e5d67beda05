package itemstore

// Op names one adapter call kind as reported to Hooks and logs.
type Op string

const (
	OpCreate             Op = "create"
	OpCreateAndRead      Op = "create_and_read"
	OpCreateMultiple     Op = "create_multiple"
	OpCreateAndReadMulti Op = "create_and_read_multiple"
	OpWrite              Op = "write"
	OpWriteAndRead       Op = "write_and_read"
	OpWriteMultiple      Op = "write_multiple"
	OpWriteAndReadMulti  Op = "write_and_read_multiple"
	OpDelete             Op = "delete"
	OpDeleteMultiple     Op = "delete_multiple"
	OpRead               Op = "read"
	OpReadMultiple       Op = "read_multiple"
)

// Hooks are lightweight callbacks for scheduler events.
// Implementations MUST be cheap and non-blocking and MUST NOT call back
// into the Store; they run inline on the store's execution context.
type Hooks interface {
	// An adapter call was issued with size request records.
	BatchDispatched(op Op, size int)

	// An adapter call completed with an error. ids is empty for creates.
	AdapterError(op Op, ids []string, err error)

	// An adapter invoked the same completion callback more than once.
	DuplicateCompletion(op Op)

	// A record was dropped after a successful delete.
	ItemRemoved(id string)

	// The scheduler found no pending work and went idle.
	SchedulerIdle()
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) BatchDispatched(Op, int)          {}
func (NopHooks) AdapterError(Op, []string, error) {}
func (NopHooks) DuplicateCompletion(Op)           {}
func (NopHooks) ItemRemoved(string)               {}
func (NopHooks) SchedulerIdle()                   {}
