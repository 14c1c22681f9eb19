package domain

import "time"

// Direction restricts which way a connection relays messages.
type Direction int

const (
	TwoWay Direction = iota
	ToRight
	ToLeft
	None
)

func (d Direction) String() string {
	switch d {
	case TwoWay:
		return "both"
	case ToRight:
		return "right"
	case ToLeft:
		return "left"
	case None:
		return "none"
	}
	return "unknown"
}

// ParseDirection accepts the names produced by String.
func ParseDirection(s string) (Direction, bool) {
	for _, d := range []Direction{TwoWay, ToRight, ToLeft, None} {
		if d.String() == s {
			return d, true
		}
	}
	return None, false
}

// Connection bridges two conversations. Right is nil while the connection
// waits for its token to be redeemed.
type Connection struct {
	ID        int64
	Left      Conversation
	Right     *Conversation
	Direction Direction
	Token     string
	CreatedAt time.Time
}

// Pending reports whether the token has not been redeemed yet.
func (c Connection) Pending() bool { return c.Right == nil }

// Other returns the side opposite to origin, ignoring direction.
func (c Connection) Other(origin Key) (Conversation, bool) {
	if c.Right == nil {
		return Conversation{}, false
	}
	switch origin {
	case c.Left.Key:
		return *c.Right, true
	case c.Right.Key:
		return c.Left, true
	}
	return Conversation{}, false
}

// Target returns the conversation a message from origin must be relayed to.
func (c Connection) Target(origin Key) (Conversation, bool) {
	if c.Right == nil || c.Direction == None {
		return Conversation{}, false
	}
	fromLeft := origin == c.Left.Key
	fromRight := origin == c.Right.Key
	switch {
	case fromLeft && fromRight:
		// Both sides are the same chat.
		return Conversation{}, false
	case fromLeft && (c.Direction == TwoWay || c.Direction == ToRight):
		return *c.Right, true
	case fromRight && (c.Direction == TwoWay || c.Direction == ToLeft):
		return c.Left, true
	}
	return Conversation{}, false
}
