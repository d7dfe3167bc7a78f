package models

// SyncStatus is the replication state of a reading. The integer values are
// the persisted representation and must not be renumbered.
type SyncStatus int16

const (
	// StatusPending marks a local edit that has not been confirmed remotely.
	StatusPending SyncStatus = 0
	// StatusSynced marks a record whose current version reached the remote store.
	StatusSynced SyncStatus = 1
	// StatusError marks a record whose last push attempt failed; it is
	// retried on the next trigger.
	StatusError SyncStatus = 2
	// StatusConflict marks a record with divergent edits awaiting an
	// explicit user choice.
	StatusConflict SyncStatus = 3
)

func (s SyncStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSynced:
		return "synced"
	case StatusError:
		return "error"
	case StatusConflict:
		return "conflict"
	}
	return "unknown"
}

// Pushable reports whether a record in this state is picked up by a push
// cycle.
func (s SyncStatus) Pushable() bool {
	return s == StatusPending || s == StatusError
}
