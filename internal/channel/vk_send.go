package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"bridgebot/internal/attachment"
	"bridgebot/internal/domain"

	"github.com/SevereCloud/vksdk/v2/api"
)

// VK accepts uploads of these photo formats; others are converted to PNG.
var vkPhotoTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// SendMessage relays msg into the VK peer conv.
func (v *VK) SendMessage(ctx context.Context, conv domain.Conversation, msg *domain.Message) error {
	peerID, err := strconv.Atoi(conv.ID)
	if err != nil {
		return fmt.Errorf("vk: invalid peer id %q: %w", conv.ID, err)
	}
	out := &vkOutbox{
		v:      v,
		peerID: peerID,
		reuse:  msg.Conversation().Provider == v.Name(),
	}
	plan := planMessage(msg, plainText, v.forwardDepth, v.logger)
	d := v.deliverer
	d.logger = v.logger.With("conversation", conv.Key.String())
	return d.deliver(ctx, out, plan)
}

type vkOutbox struct {
	v      *VK
	peerID int
	// reuse allows attaching VK objects by handle instead of uploading.
	reuse bool
}

func (o *vkOutbox) send(ctx context.Context, params api.Params) error {
	if err := o.v.limiter.Wait(ctx); err != nil {
		return err
	}
	params["peer_id"] = o.peerID
	params["random_id"] = 0
	_, err := o.v.api.MessagesSend(params)
	return err
}

func (o *vkOutbox) sendText(ctx context.Context, text string) error {
	for _, chunk := range splitMessage(text, maxTextLen, false) {
		if err := o.send(ctx, api.Params{"message": chunk}); err != nil {
			return err
		}
	}
	return nil
}

func (o *vkOutbox) attach(ctx context.Context, text string, handles ...vkHandle) error {
	parts := make([]string, len(handles))
	for i, h := range handles {
		parts[i] = string(h)
	}
	params := api.Params{"attachment": strings.Join(parts, ",")}
	if text != "" {
		params["message"] = text
	}
	return o.send(ctx, params)
}

// existing returns the handle of a VK object that can be attached as is.
func (o *vkOutbox) existing(a attachment.Attachment) (vkHandle, bool) {
	h, ok := a.Meta().(vkHandle)
	return h, ok && o.reuse && h != ""
}

func (o *vkOutbox) fetch(ctx context.Context, a attachment.Attachment) (*Blob, error) {
	if a.URL() == "" {
		return nil, errors.New("attachment has no source")
	}
	return o.v.downloader.Fetch(ctx, a.URL())
}

func (o *vkOutbox) uploadPhoto(ctx context.Context, f attachment.FileLike) (vkHandle, error) {
	if h, ok := o.existing(f); ok {
		return h, nil
	}
	blob, err := o.fetch(ctx, f)
	if err != nil {
		return "", err
	}
	data := blob.Data
	if !vkPhotoTypes[blob.MimeType] {
		if data, err = toPNG(blob.Data); err != nil {
			return "", fmt.Errorf("convert photo: %w", err)
		}
	}
	return o.uploadPhotoBytes(ctx, data)
}

func (o *vkOutbox) uploadPhotoBytes(ctx context.Context, data []byte) (vkHandle, error) {
	if err := o.v.limiter.Wait(ctx); err != nil {
		return "", err
	}
	resp, err := o.v.api.UploadMessagesPhoto(o.peerID, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	if len(resp) == 0 {
		return "", errors.New("photo upload returned no photo")
	}
	p := resp[0]
	return newVKHandle("photo", p.OwnerID, p.ID, p.AccessKey), nil
}

func (o *vkOutbox) uploadDoc(ctx context.Context, f attachment.FileLike, typ string) (vkHandle, error) {
	if h, ok := o.existing(f); ok {
		return h, nil
	}
	blob, err := o.fetch(ctx, f)
	if err != nil {
		return "", err
	}
	return o.uploadDocBytes(ctx, typ, f.Details().Name, blob.Data)
}

// uploadDocBytes uploads a document; VK takes the file type from name.
func (o *vkOutbox) uploadDocBytes(ctx context.Context, typ, name string, data []byte) (vkHandle, error) {
	if err := o.v.limiter.Wait(ctx); err != nil {
		return "", err
	}
	resp, err := o.v.api.UploadMessagesDoc(o.peerID, typ, name, "", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	if resp.Type == "audio_message" {
		m := resp.AudioMessage
		return newVKHandle("doc", m.OwnerID, m.ID, m.AccessKey), nil
	}
	d := resp.Doc
	return newVKHandle("doc", d.OwnerID, d.ID, d.AccessKey), nil
}

// sendAlbum uploads the items concurrently and sends them as one message in
// their original order. Items that fail to upload are skipped.
func (o *vkOutbox) sendAlbum(ctx context.Context, items []attachment.Groupable) error {
	handles := make([]vkHandle, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item attachment.Groupable) {
			defer wg.Done()
			var (
				h   vkHandle
				err error
			)
			if item.Kind() == attachment.KindPhoto {
				h, err = o.uploadPhoto(ctx, item)
			} else {
				h, err = o.uploadDoc(ctx, item, "doc")
			}
			if err != nil {
				o.v.logger.Warn("album item skipped", "attachment", item.Kind(), "err", err)
				return
			}
			handles[i] = h
		}(i, item)
	}
	wg.Wait()

	var (
		uploaded []vkHandle
		captions []string
	)
	for i, h := range handles {
		if h == "" {
			continue
		}
		uploaded = append(uploaded, h)
		if c := items[i].Details().Caption; c != "" {
			captions = append(captions, c)
		}
	}
	if len(uploaded) == 0 {
		return errors.New("no album item could be uploaded")
	}
	return o.attach(ctx, strings.Join(captions, "\n"), uploaded...)
}

func (o *vkOutbox) sendSingle(ctx context.Context, a attachment.Attachment) error {
	return a.Accept(&vkSend{o: o, ctx: ctx})
}

// vkSend maps each attachment kind to an upload or a plain message.
type vkSend struct {
	o   *vkOutbox
	ctx context.Context
}

// sendDoc uploads a document. When the upload fails the attachment is
// described in text instead.
func (s *vkSend) sendDoc(f attachment.FileLike, typ string) error {
	h, err := s.o.uploadDoc(s.ctx, f, typ)
	if err == nil {
		return s.o.attach(s.ctx, f.Details().Caption, h)
	}
	if s.ctx.Err() != nil {
		return err
	}
	s.o.v.logger.Warn("document upload failed, sending as text", "attachment", f.Kind(), "err", err)
	return s.o.sendText(s.ctx, f.String())
}

func (s *vkSend) VisitFile(f *attachment.File) error           { return s.sendDoc(f, "doc") }
func (s *vkSend) VisitAnimation(a *attachment.Animation) error { return s.sendDoc(a, "doc") }
func (s *vkSend) VisitAudio(a *attachment.Audio) error         { return s.sendDoc(a, "doc") }
func (s *vkSend) VisitVoice(v *attachment.Voice) error         { return s.sendDoc(v, "audio_message") }

func (s *vkSend) VisitPhoto(p *attachment.Photo) error {
	return s.o.sendAlbum(s.ctx, []attachment.Groupable{p})
}

func (s *vkSend) VisitVideo(v *attachment.Video) error {
	return s.o.sendAlbum(s.ctx, []attachment.Groupable{v})
}

func (s *vkSend) VisitSticker(st *attachment.Sticker) error {
	if ref, ok := st.Meta().(vkSticker); ok && s.o.reuse && ref.ID != 0 {
		return s.o.send(s.ctx, api.Params{"sticker_id": ref.ID})
	}
	blob, err := s.o.fetch(s.ctx, st)
	if err != nil {
		return err
	}
	data := blob.Data
	if blob.MimeType != "image/png" {
		if data, err = toPNG(blob.Data); err != nil {
			return fmt.Errorf("convert sticker: %w", err)
		}
	}
	h, err := s.o.uploadPhotoBytes(s.ctx, data)
	if err != nil {
		return err
	}
	return s.o.attach(s.ctx, st.Emoji, h)
}

// VisitContact sends the contact as text with its vCard attached.
func (s *vkSend) VisitContact(c *attachment.Contact) error {
	text := c.String()
	if c.VCard == "" {
		return s.o.sendText(s.ctx, text)
	}
	h, err := s.o.uploadDocBytes(s.ctx, "doc", "contact.vcf", []byte(c.VCard))
	if err != nil {
		s.o.v.logger.Warn("vcard upload failed, sending as text", "err", err)
		return s.o.sendText(s.ctx, text)
	}
	return s.o.attach(s.ctx, text, h)
}

func (s *vkSend) VisitPlace(p *attachment.Place) error {
	params := api.Params{
		"lat":  strconv.FormatFloat(p.Latitude, 'f', -1, 64),
		"long": strconv.FormatFloat(p.Longitude, 'f', -1, 64),
	}
	if text := strings.TrimSpace(p.Name + "\n" + p.Address); text != "" {
		params["message"] = text
	}
	return s.o.send(s.ctx, params)
}

func (s *vkSend) VisitLink(l *attachment.Link) error {
	return s.o.sendText(s.ctx, "🔗 "+l.String())
}

func (s *vkSend) VisitPlatformItem(p *attachment.PlatformItem) error {
	if h, ok := s.o.existing(p); ok {
		return s.o.attach(s.ctx, "", h)
	}
	return s.o.sendText(s.ctx, p.String())
}

func (s *vkSend) VisitAlbum(a *attachment.Album) error {
	var errs []error
	for _, chunk := range attachment.Chunk(a.Items, vkMaxAttachments) {
		errs = append(errs, s.o.sendAlbum(s.ctx, chunk))
	}
	return errors.Join(errs...)
}
