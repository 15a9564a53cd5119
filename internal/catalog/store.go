package catalog

import "context"

// Store is the read capability the syncer needs from the primary store.
// FetchEntity returns ErrNotFound when the entity is absent; absence is not
// an error condition for the syncer, which treats it as a benign skip.
type Store interface {
	// FetchEntity retrieves the current snapshot of an entity by id.
	FetchEntity(ctx context.Context, family Family, id string) (*Entity, error)

	// Close releases the underlying connection.
	Close(ctx context.Context) error
}
