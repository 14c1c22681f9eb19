package domain

import (
	"slices"
	"strings"

	"bridgebot/internal/attachment"
)

// CommandPrefix marks a message body as a bot command.
const CommandPrefix = "/"

// Message is a provider-independent chat message. It is immutable: accessors
// return copies and With* methods build new messages.
type Message struct {
	conversation Conversation
	sender       *Person
	body         string
	forwarded    []*Message
	attachments  []attachment.Attachment
}

// NewMessage builds a message. A nil sender marks a system message.
func NewMessage(conv Conversation, sender *Person, body string, forwarded []*Message, attachments []attachment.Attachment) *Message {
	m := &Message{
		conversation: conv,
		body:         body,
		forwarded:    slices.Clone(forwarded),
		attachments:  slices.Clone(attachments),
	}
	if sender != nil {
		s := *sender
		m.sender = &s
	}
	return m
}

// NewSystemMessage builds a text message without sender.
func NewSystemMessage(conv Conversation, body string) *Message {
	return NewMessage(conv, nil, body, nil, nil)
}

func (m *Message) Conversation() Conversation { return m.conversation }
func (m *Message) Body() string               { return m.body }

// Sender returns a copy of the sender, or nil for system messages.
func (m *Message) Sender() *Person {
	if m.sender == nil {
		return nil
	}
	s := *m.sender
	return &s
}

func (m *Message) Forwarded() []*Message                { return slices.Clone(m.forwarded) }
func (m *Message) Attachments() []attachment.Attachment { return slices.Clone(m.attachments) }

// WithAttachments returns a copy of m carrying the given attachments.
func (m *Message) WithAttachments(attachments []attachment.Attachment) *Message {
	return NewMessage(m.conversation, m.sender, m.body, m.forwarded, attachments)
}

// WithForwarded returns a copy of m forwarding the given messages.
func (m *Message) WithForwarded(forwarded []*Message) *Message {
	return NewMessage(m.conversation, m.sender, m.body, forwarded, m.attachments)
}

// WithBody returns a copy of m with a different body.
func (m *Message) WithBody(body string) *Message {
	return NewMessage(m.conversation, m.sender, body, m.forwarded, m.attachments)
}

// IsCommand reports whether the body starts with the command prefix.
func (m *Message) IsCommand() bool {
	return strings.HasPrefix(strings.TrimSpace(m.body), CommandPrefix)
}

// IsEmpty reports whether there is nothing to relay.
func (m *Message) IsEmpty() bool {
	return strings.TrimSpace(m.body) == "" && len(m.forwarded) == 0 && len(m.attachments) == 0
}
