package kv

// Hooks report backend events. Implementations must be cheap and
// non-blocking; with Config.Deliver set they are called from I/O goroutines.
type Hooks interface {
	// A record was deleted on read.
	// reason ∈ {"corrupt", "stale_revision", "value_decode"}
	SelfHeal(storageKey, reason string)

	// The provider returned ok=false on Set.
	SetRejected(storageKey string)

	// The revision store failed. count is the number of keys involved.
	RevisionError(count int, err error)

	// Both the revision bump and the record delete failed.
	DeleteOutage(id string, bumpErr, delErr error)
}

type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)           {}
func (NopHooks) SetRejected(string)                {}
func (NopHooks) RevisionError(int, error)          {}
func (NopHooks) DeleteOutage(string, error, error) {}
