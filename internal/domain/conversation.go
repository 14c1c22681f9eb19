package domain

import "fmt"

// Provider identifiers as stored in the database.
const (
	ProviderTelegram = "tg"
	ProviderVK       = "vk"
)

// Key identifies a conversation or person on a provider.
type Key struct {
	Provider string
	ID       string
}

func (k Key) String() string { return k.Provider + ":" + k.ID }

// Conversation is a chat on one provider. Identity is the Key; Title is
// informational and may change when the chat is renamed.
type Conversation struct {
	Key
	Title string
}

// Equal compares identity only.
func (c Conversation) Equal(other Conversation) bool { return c.Key == other.Key }

// DisplayTitle falls back to "#<id>" for untitled chats.
func (c Conversation) DisplayTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return "#" + c.ID
}

// Person is a message author on one provider.
type Person struct {
	Key
	DisplayName string
	Username    string
	IsAdmin     bool
}

// Equal compares identity only.
func (p Person) Equal(other Person) bool { return p.Key == other.Key }

// Name returns the display name, falling back to the username and the id.
func (p Person) Name() string {
	switch {
	case p.DisplayName != "":
		return p.DisplayName
	case p.Username != "":
		return p.Username
	default:
		return "id" + p.ID
	}
}

// ProfileURL links to the person's public profile, or "" when unknown.
func (p Person) ProfileURL() string {
	switch p.Provider {
	case ProviderTelegram:
		if p.Username != "" {
			return "https://t.me/" + p.Username
		}
	case ProviderVK:
		if len(p.ID) > 1 && p.ID[0] == '-' {
			return "https://vk.com/club" + p.ID[1:]
		}
		if p.ID != "" {
			return fmt.Sprintf("https://vk.com/id%s", p.ID)
		}
	}
	return ""
}
