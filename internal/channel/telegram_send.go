package channel

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"bridgebot/internal/attachment"
	"bridgebot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram fetches documents by URL only for these types.
var telegramURLDocumentTypes = map[string]bool{
	"image/gif":       true,
	"application/pdf": true,
	"application/zip": true,
}

// SendMessage relays msg into the Telegram chat conv.
func (t *Telegram) SendMessage(ctx context.Context, conv domain.Conversation, msg *domain.Message) error {
	chatID, err := strconv.ParseInt(conv.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", conv.ID, err)
	}
	api, err := t.client()
	if err != nil {
		return err
	}

	out := &telegramOutbox{
		t:      t,
		api:    api,
		chatID: chatID,
		reuse:  msg.Conversation().Provider == t.Name(),
	}
	plan := planMessage(msg, telegramHTML, t.forwardDepth, t.logger)
	d := t.deliverer
	d.logger = t.logger.With("conversation", conv.Key.String())
	return d.deliver(ctx, out, plan)
}

type telegramOutbox struct {
	t      *Telegram
	api    telegramAPI
	chatID int64
	// reuse allows resending Telegram file ids instead of the content.
	reuse bool
}

// send performs one API call, waiting once when Telegram asks to slow down.
func (o *telegramOutbox) send(ctx context.Context, c tgbotapi.Chattable) error {
	_, err := o.api.Send(c)
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		wait := time.Duration(apiErr.RetryAfter) * time.Second
		o.t.logger.Warn("telegram rate limited, backing off", "retry_after", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		_, err = o.api.Send(c)
	}
	return err
}

func (o *telegramOutbox) sendText(ctx context.Context, text string) error {
	for _, chunk := range splitMessage(text, maxTextLen, true) {
		m := tgbotapi.NewMessage(o.chatID, chunk)
		m.ParseMode = tgbotapi.ModeHTML
		if err := o.send(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// fileData picks how Telegram gets the content: a file id it already has,
// a URL it can fetch itself, or uploaded bytes.
func (o *telegramOutbox) fileData(ctx context.Context, f attachment.FileLike, byURL bool) (tgbotapi.RequestFileData, error) {
	if ref, ok := f.Meta().(telegramFile); ok && o.reuse && ref.FileID != "" {
		return tgbotapi.FileID(ref.FileID), nil
	}
	u := f.URL()
	if u == "" {
		return nil, errors.New("attachment has no source")
	}
	if byURL && (strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "http://")) {
		return tgbotapi.FileURL(u), nil
	}
	blob, err := o.t.downloader.Fetch(ctx, u)
	if err != nil {
		return nil, err
	}
	return tgbotapi.FileBytes{Name: f.Details().Name, Bytes: blob.Data}, nil
}

func (o *telegramOutbox) sendAlbum(ctx context.Context, items []attachment.Groupable) error {
	if len(items) == 1 {
		return o.sendSingle(ctx, items[0])
	}

	media := make([]interface{}, 0, len(items))
	var prepared []attachment.Groupable
	for _, item := range items {
		data, err := o.fileData(ctx, item, true)
		if err != nil {
			o.t.logger.Warn("album item skipped", "attachment", item.Kind(), "err", err)
			continue
		}
		prepared = append(prepared, item)
		switch v := item.(type) {
		case *attachment.Video:
			im := tgbotapi.NewInputMediaVideo(data)
			im.Caption = v.Caption
			im.Duration = v.Duration
			im.Width, im.Height = v.Width, v.Height
			media = append(media, im)
		default:
			im := tgbotapi.NewInputMediaPhoto(data)
			im.Caption = item.Details().Caption
			media = append(media, im)
		}
	}

	switch len(media) {
	case 0:
		return errors.New("no album item could be prepared")
	case 1:
		// Media groups need at least two items.
		return o.sendSingle(ctx, prepared[0])
	}
	_, err := o.api.SendMediaGroup(tgbotapi.NewMediaGroup(o.chatID, media))
	return err
}

func (o *telegramOutbox) sendSingle(ctx context.Context, a attachment.Attachment) error {
	return a.Accept(&telegramSend{o: o, ctx: ctx})
}

// telegramSend maps each attachment kind to its Bot API method.
type telegramSend struct {
	o   *telegramOutbox
	ctx context.Context
}

func (s *telegramSend) VisitFile(f *attachment.File) error {
	data, err := s.o.fileData(s.ctx, f, telegramURLDocumentTypes[f.MimeType])
	if err != nil {
		return err
	}
	doc := tgbotapi.NewDocument(s.o.chatID, data)
	doc.Caption = f.Caption
	return s.o.send(s.ctx, doc)
}

func (s *telegramSend) VisitPhoto(p *attachment.Photo) error {
	data, err := s.o.fileData(s.ctx, p, true)
	if err != nil {
		return err
	}
	photo := tgbotapi.NewPhoto(s.o.chatID, data)
	photo.Caption = p.Caption
	return s.o.send(s.ctx, photo)
}

func (s *telegramSend) VisitVideo(v *attachment.Video) error {
	data, err := s.o.fileData(s.ctx, v, true)
	if err != nil {
		return err
	}
	video := tgbotapi.NewVideo(s.o.chatID, data)
	video.Caption = v.Caption
	video.Duration = v.Duration
	return s.o.send(s.ctx, video)
}

func (s *telegramSend) VisitAnimation(a *attachment.Animation) error {
	data, err := s.o.fileData(s.ctx, a, true)
	if err != nil {
		return err
	}
	anim := tgbotapi.NewAnimation(s.o.chatID, data)
	anim.Caption = a.Caption
	return s.o.send(s.ctx, anim)
}

func (s *telegramSend) VisitAudio(a *attachment.Audio) error {
	data, err := s.o.fileData(s.ctx, a, true)
	if err != nil {
		return err
	}
	audio := tgbotapi.NewAudio(s.o.chatID, data)
	audio.Caption = a.Caption
	audio.Title = a.TrackInfo.Title
	audio.Performer = a.Performer
	audio.Duration = a.Duration
	return s.o.send(s.ctx, audio)
}

// VisitVoice always uploads: Telegram plays voice notes only as OGG/Opus
// and does not fetch them by URL reliably.
func (s *telegramSend) VisitVoice(v *attachment.Voice) error {
	data, err := s.o.fileData(s.ctx, v, false)
	if err != nil {
		return err
	}
	voice := tgbotapi.NewVoice(s.o.chatID, data)
	voice.Duration = v.Duration
	voice.Caption = v.Caption
	return s.o.send(s.ctx, voice)
}

func (s *telegramSend) VisitSticker(st *attachment.Sticker) error {
	if ref, ok := st.Meta().(telegramFile); ok && s.o.reuse && ref.FileID != "" {
		return s.o.send(s.ctx, tgbotapi.NewSticker(s.o.chatID, tgbotapi.FileID(ref.FileID)))
	}
	blob, err := s.o.t.downloader.Fetch(s.ctx, st.URL())
	if err != nil {
		return err
	}
	data := blob.Data
	if blob.MimeType != "image/webp" {
		if data, err = toWebPSticker(blob.Data); err != nil {
			return fmt.Errorf("convert sticker: %w", err)
		}
	}
	return s.o.send(s.ctx, tgbotapi.NewSticker(s.o.chatID, tgbotapi.FileBytes{Name: "sticker.webp", Bytes: data}))
}

func (s *telegramSend) VisitContact(c *attachment.Contact) error {
	if c.Phone == "" {
		return s.o.sendText(s.ctx, html.EscapeString(c.String()))
	}
	contact := tgbotapi.NewContact(s.o.chatID, c.Phone, c.FirstName)
	contact.LastName = c.LastName
	contact.VCard = c.VCard
	return s.o.send(s.ctx, contact)
}

func (s *telegramSend) VisitPlace(p *attachment.Place) error {
	if p.IsVenue() {
		return s.o.send(s.ctx, tgbotapi.NewVenue(s.o.chatID, p.Name, p.Address, p.Latitude, p.Longitude))
	}
	return s.o.send(s.ctx, tgbotapi.NewLocation(s.o.chatID, p.Latitude, p.Longitude))
}

func (s *telegramSend) VisitLink(l *attachment.Link) error {
	text := html.EscapeString(l.URL())
	if l.Title != "" {
		text = `<a href="` + text + `">` + html.EscapeString(l.Title) + `</a>`
	}
	return s.o.sendText(s.ctx, "🔗 "+text)
}

func (s *telegramSend) VisitPlatformItem(p *attachment.PlatformItem) error {
	return s.o.sendText(s.ctx, html.EscapeString(p.String()))
}

func (s *telegramSend) VisitAlbum(a *attachment.Album) error {
	var errs []error
	for _, chunk := range attachment.Chunk(a.Items, s.o.t.deliverer.albumSize) {
		errs = append(errs, s.o.sendAlbum(s.ctx, chunk))
	}
	return errors.Join(errs...)
}
