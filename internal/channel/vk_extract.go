package channel

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"bridgebot/internal/attachment"
	"bridgebot/internal/domain"

	"github.com/SevereCloud/vksdk/v2/api"
	"github.com/SevereCloud/vksdk/v2/object"
)

// vkHandle is the provider meta of VK attachments: the
// "type{owner}_{id}[_{access key}]" string messages.send takes to attach an
// existing object again.
type vkHandle string

func newVKHandle(kind string, ownerID, id int, accessKey string) vkHandle {
	h := fmt.Sprintf("%s%d_%d", kind, ownerID, id)
	if accessKey != "" {
		h += "_" + accessKey
	}
	return vkHandle(h)
}

// vkSticker is the provider meta of VK stickers, which are sent by id.
type vkSticker struct {
	ID int
}

// VK doc types as returned in docs objects.
const vkDocTypeGIF = 3

// A bot in a group chat is addressed as "[club123|@name] text".
var vkMentionRe = regexp.MustCompile(`^\[(?:club|public)(\d+)\|[^\]]*\][\s,:]*`)

func (v *VK) stripMention(text string) string {
	m := vkMentionRe.FindStringSubmatch(text)
	if m == nil || m[1] != strconv.Itoa(v.groupID) {
		return text
	}
	return text[len(m[0]):]
}

// lookupName resolves a user (positive id), community (negative id) or chat
// peer to its display name. Failed lookups are not cached.
func (v *VK) lookupName(ctx context.Context, id int) string {
	if name, ok := v.names.Get(id); ok {
		return name
	}
	if err := v.limiter.Wait(ctx); err != nil {
		return ""
	}

	var (
		name string
		err  error
	)
	switch {
	case id >= vkChatPeerBase:
		var resp api.MessagesGetConversationsByIDResponse
		resp, err = v.api.MessagesGetConversationsByID(api.Params{"peer_ids": id})
		if err == nil && len(resp.Items) > 0 {
			name = resp.Items[0].ChatSettings.Title
		}
	case id > 0:
		var users api.UsersGetResponse
		users, err = v.api.UsersGet(api.Params{"user_ids": id})
		if err == nil && len(users) > 0 {
			name = strings.TrimSpace(users[0].FirstName + " " + users[0].LastName)
		}
	case id < 0:
		var groups api.GroupsGetByIDResponse
		groups, err = v.api.GroupsGetByID(api.Params{"group_id": -id})
		if err == nil && len(groups) > 0 {
			name = groups[0].Name
		}
	}
	if err != nil {
		v.logger.Debug("vk name lookup failed", "id", id, "err", err)
		return ""
	}
	if name != "" {
		v.names.Add(id, name)
	}
	return name
}

func (v *VK) vkConversation(ctx context.Context, peerID int) domain.Conversation {
	return domain.Conversation{
		Key:   domain.Key{Provider: domain.ProviderVK, ID: strconv.Itoa(peerID)},
		Title: v.lookupName(ctx, peerID),
	}
}

func (v *VK) vkPerson(ctx context.Context, id int) *domain.Person {
	if id == 0 {
		return nil
	}
	return &domain.Person{
		Key:         domain.Key{Provider: domain.ProviderVK, ID: strconv.Itoa(id)},
		DisplayName: v.lookupName(ctx, id),
	}
}

// extractMessage converts a native message with its replies and forwards.
func (v *VK) extractMessage(ctx context.Context, m object.MessagesMessage, depth int) *domain.Message {
	return v.extractIn(ctx, v.vkConversation(ctx, m.PeerID), m, depth)
}

// extractIn converts m within conv. Forwarded messages carry no peer id of
// their own.
func (v *VK) extractIn(ctx context.Context, conv domain.Conversation, m object.MessagesMessage, depth int) *domain.Message {
	var atts []attachment.Attachment
	for _, raw := range m.Attachments {
		a, err := v.extractAttachment(raw)
		if err != nil {
			v.logger.Info("skipping unsupported attachment", "kind", raw.Type, "conversation", conv.Key.String())
			continue
		}
		atts = append(atts, a)
	}
	if m.Geo.Type != "" {
		atts = append(atts, attachment.NewPlace(
			m.Geo.Coordinates.Latitude, m.Geo.Coordinates.Longitude,
			m.Geo.Place.Title, m.Geo.Place.Address, nil,
		))
	}

	var fwd []*domain.Message
	if depth < v.forwardDepth {
		if m.ReplyMessage != nil {
			fwd = append(fwd, v.extractIn(ctx, conv, *m.ReplyMessage, depth+1))
		}
		for _, fm := range m.FwdMessages {
			fwd = append(fwd, v.extractIn(ctx, conv, fm, depth+1))
		}
	}

	return domain.NewMessage(conv, v.vkPerson(ctx, m.FromID), v.stripMention(m.Text), fwd, atts)
}

func (v *VK) extractAttachment(raw object.MessagesMessageAttachment) (attachment.Attachment, error) {
	switch raw.Type {
	case "photo":
		return vkPhoto(raw.Photo), nil
	case "video":
		vid := raw.Video
		return attachment.NewPlatformItem(domain.ProviderVK, "video",
			fmt.Sprintf("https://vk.com/video%d_%d", vid.OwnerID, vid.ID),
			vid.Title, vid.Description,
			newVKHandle("video", vid.OwnerID, vid.ID, vid.AccessKey),
		), nil
	case "audio":
		au := raw.Audio
		handle := newVKHandle("audio", au.OwnerID, au.ID, au.AccessKey)
		if au.URL == "" {
			return attachment.NewPlatformItem(domain.ProviderVK, "audio", "",
				strings.TrimSpace(au.Artist+" - "+au.Title), "", handle), nil
		}
		return attachment.NewAudio(au.URL,
			attachment.FileInfo{Name: au.Artist + " - " + au.Title + ".mp3", MimeType: "audio/mpeg"},
			attachment.TrackInfo{Title: au.Title, Performer: au.Artist, Duration: au.Duration},
			handle,
		), nil
	case "doc":
		return vkDoc(raw.Doc), nil
	case "audio_message":
		am := raw.AudioMessage
		return attachment.NewVoice(am.LinkOgg,
			attachment.FileInfo{Name: "voice.ogg", MimeType: "audio/ogg"},
			am.Duration,
			newVKHandle("doc", am.OwnerID, am.ID, am.AccessKey),
		), nil
	case "link":
		return attachment.NewLink(raw.Link.URL, raw.Link.Title, nil), nil
	case "sticker":
		return vkStickerAttachment(raw.Sticker)
	case "gift":
		return attachment.NewPhoto(raw.Gift.Thumb256, attachment.FileInfo{Name: "gift.jpg"}, nil), nil
	case "market":
		item := raw.Market
		return attachment.NewPlatformItem(domain.ProviderVK, "market",
			fmt.Sprintf("https://vk.com/market%d?w=product%d_%d", item.OwnerID, item.OwnerID, item.ID),
			item.Title, item.Description,
			newVKHandle("market", item.OwnerID, item.ID, ""),
		), nil
	case "market_album":
		album := raw.MarketMarketAlbum
		return attachment.NewPlatformItem(domain.ProviderVK, "market_album",
			fmt.Sprintf("https://vk.com/market%d?section=album_%d", album.OwnerID, album.ID),
			album.Title, "",
			newVKHandle("market_album", album.OwnerID, album.ID, ""),
		), nil
	case "wall":
		post := raw.Wall
		owner := post.OwnerID
		if owner == 0 {
			owner = post.FromID
		}
		return attachment.NewPlatformItem(domain.ProviderVK, "wall",
			fmt.Sprintf("https://vk.com/wall%d_%d", owner, post.ID),
			"", post.Text,
			newVKHandle("wall", owner, post.ID, ""),
		), nil
	}
	return nil, &attachment.UnsupportedAttachmentError{Kind: raw.Type}
}

func vkPhoto(p object.PhotosPhoto) *attachment.Photo {
	var url string
	width, height := 0, 0
	for _, size := range p.Sizes {
		if w := int(size.Width); url == "" || w > width {
			url, width, height = size.URL, w, int(size.Height)
		}
	}
	photo := attachment.NewPhoto(url, attachment.FileInfo{MimeType: "image/jpeg"},
		newVKHandle("photo", p.OwnerID, p.ID, p.AccessKey))
	photo.Width, photo.Height = width, height
	photo.Description = p.Text
	return photo
}

func vkDoc(d object.DocsDoc) attachment.Attachment {
	name := d.Title
	if d.Ext != "" && !strings.HasSuffix(strings.ToLower(name), "."+strings.ToLower(d.Ext)) {
		name += "." + d.Ext
	}
	info := attachment.FileInfo{Name: name, Size: int64(d.Size)}
	handle := newVKHandle("doc", d.OwnerID, d.ID, d.AccessKey)
	if d.Type == vkDocTypeGIF {
		info.MimeType = "image/gif"
		return attachment.NewAnimation(d.URL, info, attachment.MediaInfo{}, handle)
	}
	return attachment.NewFile(d.URL, info, handle)
}

func vkStickerAttachment(s object.BaseSticker) (attachment.Attachment, error) {
	var url string
	width := 0
	for _, img := range s.Images {
		if w := int(img.Width); url == "" || w > width {
			url, width = img.URL, w
		}
	}
	if url == "" {
		return nil, &attachment.UnsupportedAttachmentError{Kind: "sticker"}
	}
	return attachment.NewSticker(url,
		attachment.FileInfo{Name: "sticker.png", MimeType: "image/png"},
		"", vkSticker{ID: s.StickerID},
	), nil
}
