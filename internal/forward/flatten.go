// Package forward flattens trees of forwarded and replied-to messages into
// a list suitable for quote-style rendering.
package forward

import (
	"fmt"

	"bridgebot/internal/attachment"
	"bridgebot/internal/domain"
)

// DefaultMaxDepth bounds how deep forwards are followed.
const DefaultMaxDepth = 100

// Entry is a forwarded message and its nesting level. Messages forwarded
// directly by the root message have level 0.
type Entry struct {
	Message *domain.Message
	Level   int
}

// TooDeepError is returned when the tree is deeper than the limit. The
// entries up to the limit are still returned alongside it.
type TooDeepError struct {
	Limit int
}

func (e *TooDeepError) Error() string {
	return fmt.Sprintf("forwarded messages nested deeper than %d levels", e.Limit)
}

// Flatten walks msg's forwards in post-order: a message's own forwards come
// before it, so the oldest quoted message is rendered first.
func Flatten(msg *domain.Message) ([]Entry, error) {
	return FlattenDepth(msg, DefaultMaxDepth)
}

// FlattenDepth is Flatten with an explicit depth limit. Nodes at level
// maxDepth and below are dropped and reported with a TooDeepError.
func FlattenDepth(msg *domain.Message, maxDepth int) ([]Entry, error) {
	if msg == nil {
		return nil, nil
	}
	w := walker{maxDepth: maxDepth}
	for _, fwd := range msg.Forwarded() {
		w.visit(fwd, 0)
	}
	if w.truncated {
		return w.entries, &TooDeepError{Limit: maxDepth}
	}
	return w.entries, nil
}

type walker struct {
	maxDepth  int
	entries   []Entry
	truncated bool
}

func (w *walker) visit(m *domain.Message, level int) {
	if m == nil {
		return
	}
	if level >= w.maxDepth {
		w.truncated = true
		return
	}
	for _, child := range m.Forwarded() {
		w.visit(child, level+1)
	}
	w.entries = append(w.entries, Entry{Message: m, Level: level})
}

// Attachments collects the attachments of the flattened forwards, in entry
// order, followed by the message's own.
func Attachments(msg *domain.Message, entries []Entry) []attachment.Attachment {
	var out []attachment.Attachment
	for _, e := range entries {
		out = append(out, e.Message.Attachments()...)
	}
	return append(out, msg.Attachments()...)
}
