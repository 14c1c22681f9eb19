package channel

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"bridgebot/internal/attachment"
	"bridgebot/internal/domain"

	"github.com/SevereCloud/vksdk/v2/api"
	"github.com/SevereCloud/vksdk/v2/events"
	"github.com/SevereCloud/vksdk/v2/object"
)

type fakeVKAPI struct {
	mu         sync.Mutex
	groupErr   error
	sends      []api.Params
	photos     int
	docUploads []string
}

func (f *fakeVKAPI) GroupsGetByID(params api.Params) (api.GroupsGetByIDResponse, error) {
	if f.groupErr != nil {
		return nil, f.groupErr
	}
	var g object.GroupsGroup
	g.ID, g.Name = 77, "Bridge"
	if id, ok := params["group_id"]; ok {
		g.ID, g.Name = id.(int), "Other club"
	}
	return api.GroupsGetByIDResponse{g}, nil
}

func (f *fakeVKAPI) UsersGet(api.Params) (api.UsersGetResponse, error) {
	var u object.UsersUser
	u.ID, u.FirstName, u.LastName = 1, "Pavel", "Durov"
	return api.UsersGetResponse{u}, nil
}

func (f *fakeVKAPI) MessagesGetConversationsByID(api.Params) (api.MessagesGetConversationsByIDResponse, error) {
	var c object.MessagesConversation
	c.ChatSettings.Title = "VK chat"
	var resp api.MessagesGetConversationsByIDResponse
	resp.Count = 1
	resp.Items = append(resp.Items, c)
	return resp, nil
}

func (f *fakeVKAPI) MessagesSend(params api.Params) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, params)
	return len(f.sends), nil
}

func (f *fakeVKAPI) UploadMessagesPhoto(int, io.Reader) (api.PhotosSaveMessagesPhotoResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos++
	var p object.PhotosPhoto
	p.ID, p.OwnerID = 5, -77
	return api.PhotosSaveMessagesPhotoResponse{p}, nil
}

func (f *fakeVKAPI) UploadMessagesDoc(_ int, typ, title, _ string, _ io.Reader) (api.DocsSaveResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docUploads = append(f.docUploads, typ+":"+title)
	var resp api.DocsSaveResponse
	resp.Type = "doc"
	resp.Doc.ID, resp.Doc.OwnerID = 9, -77
	return resp, nil
}

type fakePoller struct {
	handler func(context.Context, events.MessageNewObject)
	stop    chan struct{}
	once    sync.Once
}

func newFakePoller() *fakePoller { return &fakePoller{stop: make(chan struct{})} }

func (p *fakePoller) MessageNew(f func(context.Context, events.MessageNewObject)) { p.handler = f }
func (p *fakePoller) Run() error                                                  { <-p.stop; return nil }
func (p *fakePoller) Shutdown()                                                   { p.once.Do(func() { close(p.stop) }) }

func newTestVK(client *fakeVKAPI, poller *fakePoller, bus domain.EventBus) *VK {
	return newVK(VKConfig{Bus: bus, Logger: testLogger()}, client, func(int) (vkPoller, error) {
		return poller, nil
	})
}

func vkMessage(text string) object.MessagesMessage {
	var m object.MessagesMessage
	m.PeerID, m.FromID, m.Text = vkChatPeerBase+1, 1, text
	return m
}

func TestVKConnect_DetectsGroup(t *testing.T) {
	client, poller := &fakeVKAPI{}, newFakePoller()
	vk := newTestVK(client, poller, nil)

	if err := vk.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !vk.Connected() || vk.groupID != 77 {
		t.Fatalf("connected=%v group=%d", vk.Connected(), vk.groupID)
	}
	if err := vk.Connect(context.Background()); err != nil {
		t.Fatal("second connect should be a no-op:", err)
	}
	if err := vk.Disconnect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := vk.Disconnect(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestVKCheck(t *testing.T) {
	vk := newTestVK(&fakeVKAPI{}, newFakePoller(), nil)
	if _, err := vk.Check(context.Background()); err != nil {
		t.Fatal(err)
	}
	if vk.Connected() {
		t.Error("Check must not start the long poll")
	}

	vk = newTestVK(&fakeVKAPI{groupErr: errors.New("invalid access token")}, newFakePoller(), nil)
	if _, err := vk.Check(context.Background()); err == nil {
		t.Error("expected handshake error")
	}
}

func TestVKConnect_HandshakeFailure(t *testing.T) {
	client := &fakeVKAPI{groupErr: errors.New("invalid access token")}
	vk := newTestVK(client, newFakePoller(), nil)

	var connErr *domain.ConnectionError
	if err := vk.Connect(context.Background()); !errors.As(err, &connErr) {
		t.Fatalf("err = %v, want ConnectionError", err)
	}
	if vk.Connected() {
		t.Error("must not be connected")
	}
}

func TestVKReceive_CommandAndNames(t *testing.T) {
	client, poller := &fakeVKAPI{}, newFakePoller()
	bus := newChanBus()
	vk := newTestVK(client, poller, bus)
	if err := vk.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer vk.Disconnect(context.Background())

	poller.handler(context.Background(), events.MessageNewObject{Message: vkMessage("[club77|@bridge], /help")})
	ev := bus.next(t)
	if ev.Kind != domain.EventCommand || ev.Message.Body() != "/help" {
		t.Fatalf("kind=%v body=%q", ev.Kind, ev.Message.Body())
	}
	if title := ev.Message.Conversation().Title; title != "VK chat" {
		t.Errorf("title = %q", title)
	}
	if name := ev.Message.Sender().DisplayName; name != "Pavel Durov" {
		t.Errorf("sender = %q", name)
	}
}

func TestVKReceive_OtherMentionKept(t *testing.T) {
	vk := newTestVK(&fakeVKAPI{}, newFakePoller(), nil)
	vk.groupID = 77
	if got := vk.stripMention("[club5|@other] hi"); got != "[club5|@other] hi" {
		t.Errorf("got %q", got)
	}
}

func TestVKReceive_ForwardsAndAttachments(t *testing.T) {
	vk := newTestVK(&fakeVKAPI{}, newFakePoller(), nil)

	var photo object.PhotosPhoto
	photo.ID, photo.OwnerID, photo.AccessKey = 2, 1, "k"
	photo.Sizes = []object.PhotosPhotoSizes{
		{BaseImage: object.BaseImage{URL: "https://vk.example/s.jpg", Width: 75, Height: 50}},
		{BaseImage: object.BaseImage{URL: "https://vk.example/x.jpg", Width: 1280, Height: 853}},
	}
	var att object.MessagesMessageAttachment
	att.Type, att.Photo = "photo", photo

	fwd := vkMessage("quoted")
	fwd.PeerID = 0
	m := vkMessage("see")
	m.Attachments = []object.MessagesMessageAttachment{att}
	m.FwdMessages = []object.MessagesMessage{fwd}

	msg := vk.extractMessage(context.Background(), m, 0)
	if len(msg.Forwarded()) != 1 || msg.Forwarded()[0].Body() != "quoted" {
		t.Fatalf("forwarded = %v", msg.Forwarded())
	}
	if !msg.Forwarded()[0].Conversation().Equal(msg.Conversation()) {
		t.Error("forward should inherit the conversation")
	}
	p, ok := msg.Attachments()[0].(*attachment.Photo)
	if !ok {
		t.Fatalf("got %T", msg.Attachments()[0])
	}
	if p.URL() != "https://vk.example/x.jpg" || p.Meta() != vkHandle("photo1_2_k") {
		t.Errorf("photo url=%s meta=%v", p.URL(), p.Meta())
	}
}

func TestVKExtractAttachment(t *testing.T) {
	vk := newTestVK(&fakeVKAPI{}, newFakePoller(), nil)

	var gif object.MessagesMessageAttachment
	gif.Type = "doc"
	gif.Doc.Title, gif.Doc.Ext, gif.Doc.Type, gif.Doc.URL = "funny", "gif", vkDocTypeGIF, "https://vk.example/d"

	var voice object.MessagesMessageAttachment
	voice.Type = "audio_message"
	voice.AudioMessage.LinkOgg, voice.AudioMessage.Duration = "https://vk.example/v.ogg", 4

	var wall object.MessagesMessageAttachment
	wall.Type = "wall"
	wall.Wall.ID, wall.Wall.OwnerID, wall.Wall.Text = 10, -5, "post"

	var poll object.MessagesMessageAttachment
	poll.Type = "poll"

	a, err := vk.extractAttachment(gif)
	if anim, ok := a.(*attachment.Animation); err != nil || !ok || anim.Name != "funny.gif" {
		t.Errorf("gif: %T %v", a, err)
	}
	a, err = vk.extractAttachment(voice)
	if v, ok := a.(*attachment.Voice); err != nil || !ok || v.Duration != 4 || v.MimeType != "audio/ogg" {
		t.Errorf("voice: %T %v", a, err)
	}
	a, err = vk.extractAttachment(wall)
	if item, ok := a.(*attachment.PlatformItem); err != nil || !ok || item.URL() != "https://vk.com/wall-5_10" || item.Platform() != domain.ProviderVK {
		t.Errorf("wall: %#v %v", a, err)
	}
	var unsupported *attachment.UnsupportedAttachmentError
	if _, err := vk.extractAttachment(poll); !errors.As(err, &unsupported) || unsupported.Kind != "poll" {
		t.Errorf("poll: %v", err)
	}
}

func TestVKSend_TextAndReusedPhoto(t *testing.T) {
	client := &fakeVKAPI{}
	vk := newTestVK(client, newFakePoller(), nil)

	origin := domain.Conversation{Key: domain.Key{Provider: domain.ProviderVK, ID: "2000000002"}}
	sender := &domain.Person{Key: domain.Key{Provider: domain.ProviderVK, ID: "1"}, DisplayName: "Pavel"}
	photo := attachment.NewPhoto("https://vk.example/x.jpg", attachment.FileInfo{}, vkHandle("photo1_2_k"))
	msg := domain.NewMessage(origin, sender, "hi", nil, []attachment.Attachment{photo})

	target := domain.Conversation{Key: domain.Key{Provider: domain.ProviderVK, ID: "2000000001"}}
	if err := vk.SendMessage(context.Background(), target, msg); err != nil {
		t.Fatal(err)
	}
	if len(client.sends) != 2 || client.photos != 0 {
		t.Fatalf("sends=%d uploads=%d", len(client.sends), client.photos)
	}
	if client.sends[0]["message"] != "💬 Pavel:\nhi" || client.sends[0]["peer_id"] != 2000000001 {
		t.Errorf("text params = %v", client.sends[0])
	}
	if client.sends[1]["attachment"] != "photo1_2_k" {
		t.Errorf("attachment = %v", client.sends[1]["attachment"])
	}
}

func TestVKSend_ForeignStickerUploadedAsPhoto(t *testing.T) {
	client := &fakeVKAPI{}
	vk := newTestVK(client, newFakePoller(), nil)

	origin := domain.Conversation{Key: domain.Key{Provider: domain.ProviderTelegram, ID: "-100"}}
	sticker := attachment.NewSticker("data:image/png;base64,"+base64PNG(t, 32, 32),
		attachment.FileInfo{}, "🙂", telegramFile{FileID: "s"})
	msg := domain.NewMessage(origin, nil, "", nil, []attachment.Attachment{sticker})

	target := domain.Conversation{Key: domain.Key{Provider: domain.ProviderVK, ID: "5"}}
	if err := vk.SendMessage(context.Background(), target, msg); err != nil {
		t.Fatal(err)
	}
	if client.photos != 1 || len(client.sends) != 1 || client.sends[0]["attachment"] != "photo-77_5" {
		t.Errorf("uploads=%d sends=%v", client.photos, client.sends)
	}
}

func TestVKSend_ContactAndPlace(t *testing.T) {
	client := &fakeVKAPI{}
	vk := newTestVK(client, newFakePoller(), nil)

	origin := domain.Conversation{Key: domain.Key{Provider: domain.ProviderTelegram, ID: "-100"}}
	contact := attachment.NewContact("Ann", "Lee", "+100", "", nil)
	place := attachment.NewPlace(59.93, 30.31, "Cafe", "Nevsky 1", nil)
	msg := domain.NewMessage(origin, nil, "", nil, []attachment.Attachment{contact, place})

	target := domain.Conversation{Key: domain.Key{Provider: domain.ProviderVK, ID: "5"}}
	if err := vk.SendMessage(context.Background(), target, msg); err != nil {
		t.Fatal(err)
	}
	if len(client.docUploads) != 1 || client.docUploads[0] != "doc:contact.vcf" {
		t.Errorf("doc uploads = %v", client.docUploads)
	}
	var sawPlace, sawContact bool
	for _, p := range client.sends {
		if p["lat"] == "59.93" && p["long"] == "30.31" {
			sawPlace = true
		}
		if s, _ := p["message"].(string); strings.Contains(s, "+100") && p["attachment"] == "doc-77_9" {
			sawContact = true
		}
	}
	if !sawPlace || !sawContact {
		t.Errorf("sends = %v", client.sends)
	}
}
