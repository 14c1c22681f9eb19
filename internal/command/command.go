package command

import (
	"strings"

	"bridgebot/internal/domain"
)

// Command is a parsed chat command.
type Command struct {
	Name string   // without the prefix, lower case
	Args []string // arguments after the command
	Raw  string   // original full text
}

// Parse splits text into a command and its arguments. Arguments may also be
// joined to the name with underscores, as in "/disconnect_3", which chat
// clients render as a tappable link. Returns nil if text is not a command.
func Parse(text string) *Command {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, domain.CommandPrefix) {
		return nil
	}
	parts := strings.Fields(text)
	head := strings.TrimPrefix(parts[0], domain.CommandPrefix)
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head = head[:at]
	}
	if head == "" {
		return nil
	}

	inline := strings.Split(head, "_")
	var args []string
	for _, a := range inline[1:] {
		if a != "" {
			args = append(args, a)
		}
	}
	args = append(args, parts[1:]...)

	return &Command{
		Name: strings.ToLower(inline[0]),
		Args: args,
		Raw:  text,
	}
}

// Arg returns the i-th argument or "".
func (c *Command) Arg(i int) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return ""
}

const helpText = `Bridge bot relays messages between Telegram and VK chats.

/token - create a connection token in this chat
/connect <token> - connect this chat using a token from another chat
/list - show connections of this chat
/disconnect <id> - remove a connection
/direction <id> <both|right|left|none> - choose which way messages go
/auth <password> - authorise yourself to manage connections
/deauth - drop your authorisation
/help - show this message`
