package domain

import (
	"context"
	"time"
)

// Provider is a chat platform adapter.
type Provider interface {
	Name() string
	// Connect starts receiving events. Calling it while connected is a no-op.
	Connect(ctx context.Context) error
	// Disconnect stops receiving and waits for the receive loop until ctx ends.
	Disconnect(ctx context.Context) error
	Connected() bool
	SendMessage(ctx context.Context, conv Conversation, msg *Message) error
}

// EventKind separates commands from messages to relay.
type EventKind int

const (
	EventMessage EventKind = iota
	EventCommand
)

func (k EventKind) String() string {
	if k == EventCommand {
		return "command"
	}
	return "message"
}

// Event is an inbound message handed from an adapter to the router.
type Event struct {
	Kind     EventKind
	Message  *Message
	Received time.Time
}

// NewEvent classifies msg by its body.
func NewEvent(msg *Message) Event {
	kind := EventMessage
	if msg.IsCommand() {
		kind = EventCommand
	}
	return Event{Kind: kind, Message: msg, Received: time.Now()}
}

// EventBus carries inbound events from adapters to the router.
type EventBus interface {
	Publish(ev Event)
	Subscribe() <-chan Event
	Close()
}
