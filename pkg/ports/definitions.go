package ports

import "context"

// DefinitionStore is the storage collaborator for machine definitions.
// Identifiers are store keys (a file name without extension, a redis key suffix).
type DefinitionStore interface {
	// List returns every known identifier in a stable order.
	List(ctx context.Context) ([]string, error)

	// Read returns the raw definition bytes (JSON or YAML).
	// Returns an error matching domain.ErrDefinitionNotFound when the id is unknown.
	Read(ctx context.Context, id string) ([]byte, error)

	// Write creates or replaces a definition.
	Write(ctx context.Context, id string, data []byte) error

	// Delete removes a definition and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
}

// Watchable defines an interface for stores that can notify about backend changes.
type Watchable interface {
	// Watch returns a channel that receives the identifier of every changed definition.
	// An empty identifier means "anything may have changed".
	// The channel is closed when ctx is done.
	Watch(ctx context.Context) (<-chan string, error)
}
