package domain

import "context"

// Store is the persistence the relay path depends on. Find methods return
// nil and no error when nothing matches.
type Store interface {
	FindConversation(ctx context.Context, key Key) (*Conversation, error)
	UpsertConversation(ctx context.Context, conv Conversation) error
	FindConnectionsFor(ctx context.Context, key Key) ([]Connection, error)
	FindPerson(ctx context.Context, key Key) (*Person, error)
}
