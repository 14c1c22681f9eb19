package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"bridgebot/internal/domain"
	"bridgebot/internal/forward"
	"bridgebot/internal/metrics"

	"github.com/SevereCloud/vksdk/v2/api"
	"github.com/SevereCloud/vksdk/v2/events"
	longpoll "github.com/SevereCloud/vksdk/v2/longpoll-bot"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	vkMaxAttachments = 10
	vkNameCacheSize  = 1024
	vkNameCacheTTL   = 10 * time.Minute
	// vkBurst is the number of calls allowed back to back. VK answers error
	// 6 ("too many requests per second") when calls bunch up inside one
	// second even below the community token's average limit, and a relayed
	// album costs an upload server call, an upload and a save per photo.
	vkBurst = 3
	// Peer ids of group chats start here.
	vkChatPeerBase = 2000000000
)

// vkAPI is the part of *api.VK the adapter uses.
type vkAPI interface {
	GroupsGetByID(params api.Params) (api.GroupsGetByIDResponse, error)
	UsersGet(params api.Params) (api.UsersGetResponse, error)
	MessagesGetConversationsByID(params api.Params) (api.MessagesGetConversationsByIDResponse, error)
	MessagesSend(params api.Params) (int, error)
	UploadMessagesPhoto(peerID int, file io.Reader) (api.PhotosSaveMessagesPhotoResponse, error)
	UploadMessagesDoc(peerID int, typ, title, tags string, file io.Reader) (api.DocsSaveResponse, error)
}

// vkPoller is the part of the bots long poll client the adapter uses.
type vkPoller interface {
	MessageNew(f func(context.Context, events.MessageNewObject))
	Run() error
	Shutdown()
}

// VKConfig configures the VK adapter.
type VKConfig struct {
	Token string
	// GroupID is detected from the token when zero.
	GroupID           int
	RequestsPerSecond float64
	Bus               domain.EventBus
	Downloader        *Downloader
	SendTimeout       time.Duration
	ForwardDepth      int
	Logger            *slog.Logger
}

// VK relays messages to and from VK community chats through the bots long
// poll API.
type VK struct {
	api          vkAPI
	newPoller    func(groupID int) (vkPoller, error)
	bus          domain.EventBus
	downloader   *Downloader
	limiter      *RateLimiter
	names        *expirable.LRU[int, string]
	deliverer    deliverer
	forwardDepth int
	logger       *slog.Logger

	mu      sync.Mutex
	groupID int
	poller  vkPoller
	running bool
	done    chan struct{}
}

func NewVK(cfg VKConfig) *VK {
	vk := api.NewVK(cfg.Token)
	return newVK(cfg, vk, func(groupID int) (vkPoller, error) {
		lp, err := longpoll.NewLongPoll(vk, groupID)
		if err != nil {
			return nil, err
		}
		return lp, nil
	})
}

func newVK(cfg VKConfig, client vkAPI, newPoller func(int) (vkPoller, error)) *VK {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Downloader == nil {
		cfg.Downloader = NewDownloader(DownloaderConfig{Logger: cfg.Logger})
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 20
	}
	if cfg.ForwardDepth <= 0 {
		cfg.ForwardDepth = forward.DefaultMaxDepth
	}
	logger := cfg.Logger.With("channel", "vk")
	return &VK{
		api:          client,
		newPoller:    newPoller,
		bus:          cfg.Bus,
		downloader:   cfg.Downloader,
		limiter:      NewRateLimiter(vkBurst, cfg.RequestsPerSecond),
		names:        expirable.NewLRU[int, string](vkNameCacheSize, nil, vkNameCacheTTL),
		forwardDepth: cfg.ForwardDepth,
		groupID:      cfg.GroupID,
		logger:       logger,
		deliverer: deliverer{
			provider:    domain.ProviderVK,
			albumSize:   vkMaxAttachments,
			sendTimeout: cfg.SendTimeout,
			logger:      logger,
		},
	}
}

func (v *VK) Name() string { return domain.ProviderVK }

func (v *VK) Connected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.running
}

// Check verifies the token with groups.getById without polling and returns
// the community name.
func (v *VK) Check(ctx context.Context) (string, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return "", err
	}
	groups, err := v.api.GroupsGetByID(api.Params{})
	if err != nil {
		return "", fmt.Errorf("groups.getById: %w", err)
	}
	if len(groups) == 0 {
		return "", errors.New("token is not a community token")
	}
	return groups[0].Name, nil
}

// Connect checks the token with groups.getById and starts the long poll.
func (v *VK) Connect(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.running {
		return nil
	}

	if err := v.limiter.Wait(ctx); err != nil {
		return &domain.ConnectionError{Provider: v.Name(), Err: err}
	}
	groups, err := v.api.GroupsGetByID(api.Params{})
	if err != nil {
		return &domain.ConnectionError{Provider: v.Name(), Err: fmt.Errorf("groups.getById: %w", err)}
	}
	if len(groups) == 0 {
		return &domain.ConnectionError{Provider: v.Name(), Err: errors.New("token is not a community token")}
	}
	if v.groupID == 0 {
		v.groupID = groups[0].ID
	}

	poller, err := v.newPoller(v.groupID)
	if err != nil {
		return &domain.ConnectionError{Provider: v.Name(), Err: fmt.Errorf("long poll: %w", err)}
	}
	poller.MessageNew(func(ctx context.Context, obj events.MessageNewObject) {
		v.handleMessage(ctx, obj)
	})

	v.poller = poller
	v.done = make(chan struct{})
	v.running = true
	go func(done chan struct{}) {
		defer close(done)
		if err := poller.Run(); err != nil {
			v.logger.Error("vk long poll stopped", "err", err)
		}
		v.mu.Lock()
		v.running = false
		v.mu.Unlock()
		metrics.AdapterUp(v.Name(), false)
	}(v.done)

	metrics.AdapterUp(v.Name(), true)
	v.logger.Info("vk bot connected", "group", groups[0].Name, "id", v.groupID)
	return nil
}

// Disconnect shuts the long poll down and waits for it to return.
func (v *VK) Disconnect(ctx context.Context) error {
	v.mu.Lock()
	if v.poller == nil {
		v.mu.Unlock()
		return nil
	}
	poller, done := v.poller, v.done
	v.poller = nil
	v.mu.Unlock()

	poller.Shutdown()
	select {
	case <-done:
		v.logger.Info("vk channel stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("vk: long poll did not stop in time: %w", ctx.Err())
	}
}

func (v *VK) handleMessage(ctx context.Context, obj events.MessageNewObject) {
	msg := v.extractMessage(ctx, obj.Message, 0)
	if msg.IsEmpty() {
		return
	}
	ev := domain.NewEvent(msg)
	metrics.EventReceived(v.Name(), ev.Kind.String())
	v.logger.Debug("vk message received",
		"conversation", msg.Conversation().Key.String(),
		"kind", ev.Kind.String(),
		"attachments", len(msg.Attachments()),
	)
	if v.bus != nil {
		v.bus.Publish(ev)
	}
}
