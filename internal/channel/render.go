package channel

import (
	"errors"
	"html"
	"log/slog"
	"strings"

	"bridgebot/internal/attachment"
	"bridgebot/internal/domain"
	"bridgebot/internal/forward"
)

// Both platforms cap messages at 4096 characters.
const maxTextLen = 4000

// textStyle adapts rendered text to a platform's markup.
type textStyle struct {
	escape func(string) string
	sender func(domain.Person) string
}

var plainText = textStyle{
	escape: func(s string) string { return s },
	sender: func(p domain.Person) string { return "💬 " + p.Name() + ":" },
}

var telegramHTML = textStyle{
	escape: html.EscapeString,
	sender: func(p domain.Person) string {
		name := html.EscapeString(p.Name())
		if link := p.ProfileURL(); link != "" {
			name = `<a href="` + html.EscapeString(link) + `">` + name + `</a>`
		}
		return "💬 " + name + ":"
	},
}

// quotePrefix marks a forwarded line, one › per nesting level.
func quotePrefix(level int) string {
	return "|" + strings.Repeat("›", level+1) + " "
}

// renderForwarded quotes flattened forwards. A sender line is written only
// when the sender or the level changes from the previous entry.
func (s textStyle) renderForwarded(entries []forward.Entry) string {
	var b strings.Builder
	var prev *domain.Person
	prevLevel := -1
	for _, e := range entries {
		prefix := quotePrefix(e.Level)
		sender := e.Message.Sender()
		if sender != nil && (prev == nil || prevLevel != e.Level || !prev.Equal(*sender)) {
			b.WriteString(prefix + s.sender(*sender) + "\n")
		}
		prev, prevLevel = sender, e.Level

		body := strings.TrimSpace(e.Message.Body())
		if body == "" {
			continue
		}
		for _, line := range strings.Split(body, "\n") {
			b.WriteString(prefix + s.escape(line) + "\n")
		}
	}
	return b.String()
}

// renderBody combines the sender line, quoted forwards and the message's
// own text. The sender line is skipped when there is nothing to attribute.
func (s textStyle) renderBody(msg *domain.Message, entries []forward.Entry, hasAttachments bool) string {
	own := strings.TrimSpace(msg.Body())
	var b strings.Builder
	if sender := msg.Sender(); sender != nil && (own != "" || len(entries) > 0 || hasAttachments) {
		b.WriteString(s.sender(*sender) + "\n")
	}
	b.WriteString(s.renderForwarded(entries))
	if own != "" {
		b.WriteString(s.escape(own))
	}
	return strings.TrimRight(b.String(), "\n")
}

// sendPlan is a message broken down into platform-independent send steps.
type sendPlan struct {
	body      string
	groupable []attachment.Groupable
	rest      []attachment.Attachment
}

func (p sendPlan) empty() bool {
	return p.body == "" && len(p.groupable) == 0 && len(p.rest) == 0
}

func planMessage(msg *domain.Message, style textStyle, maxDepth int, logger *slog.Logger) sendPlan {
	entries, err := forward.FlattenDepth(msg, maxDepth)
	var tooDeep *forward.TooDeepError
	if errors.As(err, &tooDeep) {
		logger.Warn("forwarded messages truncated", "limit", tooDeep.Limit)
	}
	atts := forward.Attachments(msg, entries)
	groupable, rest := attachment.Partition(atts)
	return sendPlan{
		body:      style.renderBody(msg, entries, len(atts) > 0),
		groupable: groupable,
		rest:      rest,
	}
}

// splitMessage cuts msg into pieces of at most maxLen characters, preferring
// line breaks. With markup set, msg is Telegram HTML and a piece never ends
// inside an entity, inside a tag or between a tag and its closing tag.
func splitMessage(msg string, maxLen int, markup bool) []string {
	var chunks []string
	for msg != "" {
		limit := runeOffset(msg, maxLen)
		if limit == len(msg) {
			chunks = append(chunks, msg)
			break
		}

		cut := limit
		if idx := strings.LastIndex(msg[:limit], "\n"); idx > limit/2 {
			cut = idx + 1
		}
		if markup {
			if safe := htmlSafeCut(msg, cut); safe > 0 {
				cut = safe
			} else if safe = htmlSafeCut(msg, limit); safe > 0 {
				cut = safe
			}
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}

// runeOffset returns the byte offset just past the first n runes of s.
func runeOffset(s string, n int) int {
	for i := range s {
		if n == 0 {
			return i
		}
		n--
	}
	return len(s)
}

// htmlSafeCut moves cut back until s[:cut] is well-formed markup. It returns
// 0 when no such point exists before cut.
func htmlSafeCut(s string, cut int) int {
	head := s[:cut]
	if i := strings.LastIndexByte(head, '&'); i >= 0 && !strings.Contains(head[i:], ";") {
		cut = i
	}
	head = s[:cut]
	if i := strings.LastIndexByte(head, '<'); i >= 0 && !strings.Contains(head[i:], ">") {
		cut = i
	}

	depth, open := 0, 0
	for i := 0; i < cut; i++ {
		if s[i] != '<' {
			continue
		}
		if i+1 < cut && s[i+1] == '/' {
			depth--
			continue
		}
		if depth == 0 {
			open = i
		}
		depth++
	}
	if depth > 0 {
		cut = open
	}
	return cut
}
