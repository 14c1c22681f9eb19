package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bridgebot/internal/attachment"
	"bridgebot/internal/domain"
	"bridgebot/internal/forward"
	"bridgebot/internal/mediagroup"
	"bridgebot/internal/metrics"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramPollTimeout   = 30
	telegramClientTimeout = 60 * time.Second
)

// telegramAPI is the part of *tgbotapi.BotAPI the adapter uses.
type telegramAPI interface {
	GetMe() (tgbotapi.User, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	SendMediaGroup(config tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
}

// TelegramConfig configures the Telegram adapter.
type TelegramConfig struct {
	Token            string
	Bus              domain.EventBus
	Downloader       *Downloader
	MediaGroupWindow time.Duration
	MaxAlbumSize     int
	SendTimeout      time.Duration
	ForwardDepth     int
	Logger           *slog.Logger
}

// Telegram relays messages to and from Telegram through the Bot API with
// long polling.
type Telegram struct {
	token        string
	bus          domain.EventBus
	downloader   *Downloader
	settler      *mediagroup.Settler
	deliverer    deliverer
	forwardDepth int
	logger       *slog.Logger

	dial func(token string) (telegramAPI, error)

	albumMu         sync.Mutex
	forwardedAlbums map[string]struct{}

	mu      sync.Mutex
	api     telegramAPI
	ownsAPI bool
	self    tgbotapi.User
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Downloader == nil {
		cfg.Downloader = NewDownloader(DownloaderConfig{Logger: cfg.Logger})
	}
	if cfg.MaxAlbumSize <= 0 || cfg.MaxAlbumSize > mediagroup.DefaultMaxSize {
		cfg.MaxAlbumSize = mediagroup.DefaultMaxSize
	}
	if cfg.ForwardDepth <= 0 {
		cfg.ForwardDepth = forward.DefaultMaxDepth
	}
	logger := cfg.Logger.With("channel", "telegram")

	t := &Telegram{
		token:        cfg.Token,
		bus:          cfg.Bus,
		downloader:   cfg.Downloader,
		forwardDepth: cfg.ForwardDepth,
		logger:       logger,
		deliverer: deliverer{
			provider:    domain.ProviderTelegram,
			albumSize:   cfg.MaxAlbumSize,
			sendTimeout: cfg.SendTimeout,
			logger:      logger,
		},
		dial: func(token string) (telegramAPI, error) {
			return tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, SharedHTTPClient(telegramClientTimeout))
		},
	}
	t.forwardedAlbums = make(map[string]struct{})
	t.settler = mediagroup.New(mediagroup.Config{
		Window:   cfg.MediaGroupWindow,
		MaxSize:  cfg.MaxAlbumSize,
		OnSettle: t.onSettled,
		Logger:   logger,
	})
	return t
}

func (t *Telegram) Name() string { return domain.ProviderTelegram }

func (t *Telegram) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Check verifies the token with getMe without polling and returns the bot
// username.
func (t *Telegram) Check(ctx context.Context) (string, error) {
	t.mu.Lock()
	api := t.api
	t.mu.Unlock()
	if api == nil {
		if t.token == "" {
			return "", errors.New("no bot token configured")
		}
		var err error
		if api, err = t.dial(t.token); err != nil {
			return "", err
		}
	}
	me, err := api.GetMe()
	if err != nil {
		return "", fmt.Errorf("getMe: %w", err)
	}
	return "@" + me.UserName, nil
}

// Connect checks the token with getMe and starts long polling.
func (t *Telegram) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return nil
	}
	if t.token == "" && t.api == nil {
		return &domain.ConnectionError{Provider: t.Name(), Err: errors.New("no bot token configured")}
	}

	if t.api == nil {
		api, err := t.dial(t.token)
		if err != nil {
			return &domain.ConnectionError{Provider: t.Name(), Err: err}
		}
		t.api = api
		t.ownsAPI = true
	}
	me, err := t.api.GetMe()
	if err != nil {
		return &domain.ConnectionError{Provider: t.Name(), Err: fmt.Errorf("getMe: %w", err)}
	}
	t.self = me

	u := tgbotapi.NewUpdate(0)
	u.Timeout = telegramPollTimeout
	updates := t.api.GetUpdatesChan(u)

	loopCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	t.running = true
	go t.receive(loopCtx, t.api, updates, t.done)

	metrics.AdapterUp(t.Name(), true)
	t.logger.Info("telegram bot connected", "username", me.UserName, "id", me.ID)
	return nil
}

// Disconnect stops polling, relays albums still being collected and waits
// for the receive loop to exit.
func (t *Telegram) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	t.cancel()
	done := t.done
	t.mu.Unlock()

	metrics.AdapterUp(t.Name(), false)
	select {
	case <-done:
		t.mu.Lock()
		// A stopped BotAPI cannot poll again, so reconnecting dials anew.
		if t.ownsAPI && !t.running {
			t.api = nil
		}
		t.mu.Unlock()
		t.settler.Flush()
		t.logger.Info("telegram channel stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram: receive loop did not stop in time: %w", ctx.Err())
	}
}

func (t *Telegram) receive(ctx context.Context, api telegramAPI, updates tgbotapi.UpdatesChannel, done chan struct{}) {
	defer close(done)
	t.logger.Info("telegram polling started")
	for {
		select {
		case <-ctx.Done():
			// StopReceivingUpdates panics when called twice; only this loop calls it.
			api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			t.handleUpdate(update)
		}
	}
}

// client returns the API handle of the current session.
func (t *Telegram) client() (telegramAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.api == nil {
		return nil, errors.New("telegram: not connected")
	}
	return t.api, nil
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	m := update.Message
	if m == nil {
		m = update.ChannelPost
	}
	if m == nil || m.Chat == nil {
		return
	}

	msg := t.extractMessage(m, 0)
	if m.MediaGroupID != "" && t.addToAlbum(m, msg) {
		return
	}
	if msg.IsEmpty() {
		return
	}
	t.publish(msg)
}

// addToAlbum hands the album items of msg to the settler and reports whether
// there were any. Other attachments, like caption links, stay on the
// message. A forwarded album keeps its items on the forwarded origin.
func (t *Telegram) addToAlbum(m *tgbotapi.Message, msg *domain.Message) bool {
	forwarded := forwardOrigin(m) != nil
	content := msg
	if forwarded {
		content = msg.Forwarded()[0]
	}
	groupable, rest := attachment.Partition(content.Attachments())
	if len(groupable) == 0 {
		return false
	}
	items := make([]attachment.Attachment, len(groupable))
	for i, g := range groupable {
		items[i] = g
	}

	content = content.WithAttachments(rest)
	if forwarded {
		t.albumMu.Lock()
		t.forwardedAlbums[m.MediaGroupID] = struct{}{}
		t.albumMu.Unlock()
		msg = msg.WithForwarded([]*domain.Message{content})
	} else {
		msg = content
	}
	t.settler.Add(m.MediaGroupID, msg, items...)
	return true
}

func (t *Telegram) onSettled(s mediagroup.Settled) {
	metrics.MediaGroupSettled(string(s.Reason))

	t.albumMu.Lock()
	_, forwarded := t.forwardedAlbums[s.GroupID]
	delete(t.forwardedAlbums, s.GroupID)
	t.albumMu.Unlock()

	if fwd := s.Message.Forwarded(); forwarded && len(fwd) == 1 {
		inner := mediagroup.Settled{Message: fwd[0], Attachments: s.Attachments}.Combined()
		t.publish(s.Message.WithForwarded([]*domain.Message{inner}))
		return
	}
	t.publish(s.Combined())
}

func (t *Telegram) publish(msg *domain.Message) {
	ev := domain.NewEvent(msg)
	metrics.EventReceived(t.Name(), ev.Kind.String())
	t.logger.Debug("telegram message received",
		"conversation", msg.Conversation().Key.String(),
		"kind", ev.Kind.String(),
		"attachments", len(msg.Attachments()),
	)
	if t.bus != nil {
		t.bus.Publish(ev)
	}
}
