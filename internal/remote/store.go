package remote

import "context"

// Store is the remote document store: one document per reading under the
// (ownerId, recordId) key.
type Store interface {
	// Put creates or replaces a document and emits an added/modified event
	// to the change stream.
	Put(ctx context.Context, doc Document) error

	// Remove deletes a document and emits a removed event. Removing an
	// absent document is a no-op.
	Remove(ctx context.Context, ownerID, recordID string) error

	// List returns every document of the owner, used to replay the initial
	// snapshot when a device subscribes.
	List(ctx context.Context, ownerID string) ([]Document, error)

	// Ping reports remote reachability.
	Ping(ctx context.Context) error
}

// EventPublisher delivers change events to subscribed devices. Implemented
// by the message-broker publisher; nil-safe wrappers are the store's concern.
type EventPublisher interface {
	Publish(ctx context.Context, ev ChangeEvent) error
}

// Subscriber delivers the owner's change stream. The returned channel is
// closed when ctx is cancelled or the underlying consumer stops.
type Subscriber interface {
	Subscribe(ctx context.Context, ownerID string) (<-chan ChangeEvent, error)
}
