package channel

import (
	"errors"
	"strconv"
	"strings"
	"unicode/utf16"

	"bridgebot/internal/attachment"
	"bridgebot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// telegramFile is the provider meta of Telegram attachments. The file id
// lets the bot resend the file to Telegram without downloading it.
type telegramFile struct {
	FileID string
}

func telegramConversation(chat *tgbotapi.Chat) domain.Conversation {
	id := strconv.FormatInt(chat.ID, 10)
	title := chat.Title
	if title == "" {
		title = chat.UserName
	}
	if title == "" {
		title = "#" + id
	}
	return domain.Conversation{
		Key:   domain.Key{Provider: domain.ProviderTelegram, ID: id},
		Title: title,
	}
}

func telegramPerson(u *tgbotapi.User) *domain.Person {
	if u == nil {
		return nil
	}
	return &domain.Person{
		Key:         domain.Key{Provider: domain.ProviderTelegram, ID: strconv.FormatInt(u.ID, 10)},
		DisplayName: strings.TrimSpace(u.FirstName + " " + u.LastName),
		Username:    u.UserName,
	}
}

// chatPerson represents a channel or group posting under its own name.
func chatPerson(c *tgbotapi.Chat) *domain.Person {
	return &domain.Person{
		Key:         domain.Key{Provider: domain.ProviderTelegram, ID: strconv.FormatInt(c.ID, 10)},
		DisplayName: c.Title,
		Username:    c.UserName,
	}
}

// forwardOrigin returns the original author of a forwarded message.
func forwardOrigin(m *tgbotapi.Message) *domain.Person {
	switch {
	case m.ForwardFrom != nil:
		return telegramPerson(m.ForwardFrom)
	case m.ForwardFromChat != nil:
		return chatPerson(m.ForwardFromChat)
	case m.ForwardSenderName != "":
		// Hidden accounts have a name but no id.
		return &domain.Person{
			Key:         domain.Key{Provider: domain.ProviderTelegram},
			DisplayName: m.ForwardSenderName,
		}
	}
	return nil
}

// extractMessage converts a native message, following its reply chain up
// to the forward depth limit.
func (t *Telegram) extractMessage(m *tgbotapi.Message, depth int) *domain.Message {
	conv := telegramConversation(m.Chat)
	sender := telegramPerson(m.From)
	if sender == nil {
		sender = chatPerson(m.Chat)
	}

	body := m.Text
	if body == "" {
		body = m.Caption
	}
	body = t.stripBotMention(body)

	var atts []attachment.Attachment
	primary, err := t.extractAttachment(m)
	var unsupported *attachment.UnsupportedAttachmentError
	switch {
	case errors.As(err, &unsupported):
		t.logger.Info("skipping unsupported attachment", "kind", unsupported.Kind, "conversation", conv.Key.String())
	case err != nil:
		t.logger.Warn("attachment extraction failed", "conversation", conv.Key.String(), "err", err)
	case primary != nil:
		atts = append(atts, primary)
	}
	atts = append(atts, textLinks(m)...)

	var fwd []*domain.Message
	if m.ReplyToMessage != nil && m.ReplyToMessage.Chat != nil && depth < t.forwardDepth {
		fwd = append(fwd, t.extractMessage(m.ReplyToMessage, depth+1))
	}

	if origin := forwardOrigin(m); origin != nil {
		inner := domain.NewMessage(conv, origin, body, fwd, atts)
		return domain.NewMessage(conv, sender, "", []*domain.Message{inner}, nil)
	}
	return domain.NewMessage(conv, sender, body, fwd, atts)
}

// stripBotMention turns "/cmd@thisbot args" into "/cmd args".
func (t *Telegram) stripBotMention(body string) string {
	if !strings.HasPrefix(body, domain.CommandPrefix) || t.self.UserName == "" {
		return body
	}
	cmd, rest, found := strings.Cut(body, " ")
	name, mention, ok := strings.Cut(cmd, "@")
	if !ok || !strings.EqualFold(mention, t.self.UserName) {
		return body
	}
	if found {
		return name + " " + rest
	}
	return name
}

// fileRef resolves a file id to its download URL. The URL carries the bot
// token, so attachments built from it are marked private. A failed lookup
// (files over 20 MB cannot be fetched by bots) leaves the URL empty; the
// file id still allows resending within Telegram.
func (t *Telegram) fileRef(fileID string) (string, int64) {
	api, err := t.client()
	if err != nil {
		return "", 0
	}
	f, err := api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		t.logger.Warn("telegram getFile failed", "file_id", fileID, "err", err)
		return "", 0
	}
	return f.Link(t.token), int64(f.FileSize)
}

// extractAttachment returns the message's media, if any. Native messages
// carry at most one media kind. The caption stays in the message body.
func (t *Telegram) extractAttachment(m *tgbotapi.Message) (attachment.Attachment, error) {
	switch {
	case m.Audio != nil:
		a := m.Audio
		url, size := t.fileRef(a.FileID)
		return attachment.MarkPrivate(attachment.NewAudio(url,
			attachment.FileInfo{Name: a.FileName, MimeType: a.MimeType, Size: max(size, int64(a.FileSize))},
			attachment.TrackInfo{Title: a.Title, Performer: a.Performer, Duration: a.Duration},
			telegramFile{a.FileID})), nil

	case m.Animation != nil:
		a := m.Animation
		url, size := t.fileRef(a.FileID)
		return attachment.MarkPrivate(attachment.NewAnimation(url,
			attachment.FileInfo{Name: a.FileName, MimeType: a.MimeType, Size: max(size, int64(a.FileSize))},
			attachment.MediaInfo{Duration: a.Duration, Width: a.Width, Height: a.Height},
			telegramFile{a.FileID})), nil

	case m.Document != nil:
		d := m.Document
		url, size := t.fileRef(d.FileID)
		return attachment.MarkPrivate(attachment.NewFile(url,
			attachment.FileInfo{Name: d.FileName, MimeType: d.MimeType, Size: max(size, int64(d.FileSize))},
			telegramFile{d.FileID})), nil

	case m.Game != nil:
		return nil, &attachment.UnsupportedAttachmentError{Kind: "game"}

	case len(m.Photo) > 0:
		best := m.Photo[0]
		for _, p := range m.Photo[1:] {
			if p.Width*p.Height > best.Width*best.Height {
				best = p
			}
		}
		url, size := t.fileRef(best.FileID)
		photo := attachment.NewPhoto(url,
			attachment.FileInfo{Size: max(size, int64(best.FileSize))},
			telegramFile{best.FileID})
		photo.Width, photo.Height = best.Width, best.Height
		return attachment.MarkPrivate(photo), nil

	case m.Sticker != nil:
		s := m.Sticker
		url, size := t.fileRef(s.FileID)
		info := attachment.FileInfo{Size: max(size, int64(s.FileSize))}
		if s.IsAnimated {
			info.MimeType = "application/x-tgsticker"
		}
		sticker := attachment.NewSticker(url, info, s.Emoji, telegramFile{s.FileID})
		sticker.Animated = s.IsAnimated
		return attachment.MarkPrivate(sticker), nil

	case m.Video != nil:
		v := m.Video
		url, size := t.fileRef(v.FileID)
		return attachment.MarkPrivate(attachment.NewVideo(url,
			attachment.FileInfo{Name: v.FileName, MimeType: v.MimeType, Size: max(size, int64(v.FileSize))},
			attachment.MediaInfo{Duration: v.Duration, Width: v.Width, Height: v.Height},
			telegramFile{v.FileID})), nil

	case m.Voice != nil:
		v := m.Voice
		url, size := t.fileRef(v.FileID)
		return attachment.MarkPrivate(attachment.NewVoice(url,
			attachment.FileInfo{MimeType: v.MimeType, Size: max(size, int64(v.FileSize))},
			v.Duration, telegramFile{v.FileID})), nil

	case m.VideoNote != nil:
		v := m.VideoNote
		url, size := t.fileRef(v.FileID)
		return attachment.MarkPrivate(attachment.NewVideo(url,
			attachment.FileInfo{MimeType: "video/mp4", Size: max(size, int64(v.FileSize))},
			attachment.MediaInfo{Duration: v.Duration, Width: v.Length, Height: v.Length},
			telegramFile{v.FileID})), nil

	case m.Contact != nil:
		c := m.Contact
		if c.VCard != "" {
			parsed, err := attachment.ParseContact(c.VCard, c)
			if err == nil {
				if parsed.Phone == "" {
					parsed.Phone = c.PhoneNumber
				}
				return parsed, nil
			}
			t.logger.Debug("contact vcard unreadable, using fields", "err", err)
		}
		return attachment.NewContact(c.FirstName, c.LastName, c.PhoneNumber, "", c), nil

	case m.Venue != nil:
		v := m.Venue
		return attachment.NewPlace(v.Location.Latitude, v.Location.Longitude, v.Title, v.Address, v), nil

	case m.Location != nil:
		return attachment.NewPlace(m.Location.Latitude, m.Location.Longitude, "", "", m.Location), nil

	case m.Poll != nil:
		return nil, &attachment.UnsupportedAttachmentError{Kind: "poll"}

	case m.Dice != nil:
		return nil, &attachment.UnsupportedAttachmentError{Kind: "dice"}
	}
	return nil, nil
}

// textLinks extracts the targets of inline links in text and caption.
func textLinks(m *tgbotapi.Message) []attachment.Attachment {
	var links []attachment.Attachment
	collect := func(text string, entities []tgbotapi.MessageEntity) {
		units := utf16.Encode([]rune(text))
		for _, e := range entities {
			if e.Type != "text_link" || e.URL == "" {
				continue
			}
			title := ""
			if e.Offset >= 0 && e.Length > 0 && e.Offset+e.Length <= len(units) {
				title = string(utf16.Decode(units[e.Offset : e.Offset+e.Length]))
			}
			links = append(links, attachment.NewLink(e.URL, title, e))
		}
	}
	collect(m.Text, m.Entities)
	collect(m.Caption, m.CaptionEntities)
	return links
}
