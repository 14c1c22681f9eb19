package command

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"bridgebot/internal/domain"

	"github.com/google/uuid"
)

const (
	// TokenPrefix marks connection tokens so they are easy to spot in chat.
	TokenPrefix     = "$mbb2$"
	DefaultTokenTTL = time.Hour
)

// Store is the persistence the commands need.
type Store interface {
	domain.Store
	SavePerson(ctx context.Context, p domain.Person) error
	DeletePerson(ctx context.Context, key domain.Key) error
	CreatePendingConnection(ctx context.Context, left domain.Conversation, token string) (*domain.Connection, error)
	FindConnectionByToken(ctx context.Context, token string) (*domain.Connection, error)
	CompleteConnection(ctx context.Context, id int64, right domain.Key) error
	FindConnection(ctx context.Context, id int64) (*domain.Connection, error)
	SetDirection(ctx context.Context, id int64, d domain.Direction) error
	DeleteConnection(ctx context.Context, id int64) error
	DeleteExpiredPending(ctx context.Context, cutoff time.Time) (int64, error)
}

// Reply is a system message the caller sends to a conversation.
type Reply struct {
	To   domain.Conversation
	Text string
}

type Config struct {
	Store Store
	// AuthEnabled restricts connection management to authorised persons.
	AuthEnabled bool
	Password    string
	TokenTTL    time.Duration
	Logger      *slog.Logger
}

// Handler executes bot commands against the store.
type Handler struct {
	store       Store
	authEnabled bool
	password    string
	tokenTTL    time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

func NewHandler(cfg Config) *Handler {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		store:       cfg.Store,
		authEnabled: cfg.AuthEnabled,
		password:    cfg.Password,
		tokenTTL:    cfg.TokenTTL,
		logger:      cfg.Logger.With("component", "command"),
		now:         time.Now,
	}
}

// Handle runs the command in msg and returns the replies to send. handled is
// false when msg is not a command of this bot, so it can be relayed as text.
func (h *Handler) Handle(ctx context.Context, msg *domain.Message) (replies []Reply, handled bool) {
	cmd := Parse(msg.Body())
	if cmd == nil {
		return nil, false
	}
	conv := msg.Conversation()
	logger := h.logger.With("command", cmd.Name, "conversation", conv.Key.String())

	var err error
	switch cmd.Name {
	case "start", "help":
		replies = h.reply(conv, helpText)
	case "list":
		replies, err = h.list(ctx, conv)
	case "auth":
		replies, err = h.auth(ctx, msg, cmd)
	case "deauth":
		replies, err = h.deauth(ctx, msg)
	case "token", "connect", "disconnect", "direction":
		ok, aerr := h.authorised(ctx, msg.Sender())
		switch {
		case aerr != nil:
			err = aerr
		case !ok:
			replies = h.reply(conv, "You are not authorised to manage connections. Use /auth <password> first.")
		default:
			replies, err = h.manage(ctx, conv, cmd)
		}
	default:
		return nil, false
	}

	if err != nil {
		id := uuid.NewString()[:8]
		logger.Error("command failed", "error_id", id, "err", err)
		return h.reply(conv, fmt.Sprintf("Something went wrong (error id %s).", id)), true
	}
	logger.Info("command handled")
	return replies, true
}

func (h *Handler) manage(ctx context.Context, conv domain.Conversation, cmd *Command) ([]Reply, error) {
	switch cmd.Name {
	case "token":
		return h.token(ctx, conv)
	case "connect":
		return h.connect(ctx, conv, cmd.Arg(0))
	case "disconnect":
		return h.disconnect(ctx, conv, cmd.Arg(0))
	default:
		return h.direction(ctx, conv, cmd.Arg(0), cmd.Arg(1))
	}
}

func (h *Handler) reply(conv domain.Conversation, text string) []Reply {
	return []Reply{{To: conv, Text: text}}
}

func (h *Handler) authorised(ctx context.Context, sender *domain.Person) (bool, error) {
	if !h.authEnabled {
		return true, nil
	}
	if sender == nil || sender.ID == "" {
		return false, nil
	}
	p, err := h.store.FindPerson(ctx, sender.Key)
	if err != nil {
		return false, fmt.Errorf("find person: %w", err)
	}
	return p != nil && p.IsAdmin, nil
}

func (h *Handler) token(ctx context.Context, conv domain.Conversation) ([]Reply, error) {
	if _, err := h.store.DeleteExpiredPending(ctx, h.now().Add(-h.tokenTTL)); err != nil {
		return nil, fmt.Errorf("prune tokens: %w", err)
	}
	token := TokenPrefix + uuid.NewString()
	c, err := h.store.CreatePendingConnection(ctx, conv, token)
	if err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}
	text := fmt.Sprintf("Connection #%d created. Send this in the chat to connect within %s:\n\n/connect %s",
		c.ID, h.tokenTTL, token)
	return h.reply(conv, text), nil
}

func (h *Handler) connect(ctx context.Context, conv domain.Conversation, token string) ([]Reply, error) {
	if token == "" {
		return h.reply(conv, "Usage: /connect <token>"), nil
	}
	c, err := h.store.FindConnectionByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("find token: %w", err)
	}
	if c == nil {
		return h.reply(conv, "Unknown or already used token."), nil
	}
	if h.now().Sub(c.CreatedAt) > h.tokenTTL {
		if err := h.store.DeleteConnection(ctx, c.ID); err != nil {
			return nil, fmt.Errorf("delete expired connection: %w", err)
		}
		return h.reply(conv, "This token has expired. Create a new one with /token."), nil
	}
	if c.Left.Key == conv.Key {
		return h.reply(conv, "A chat cannot be connected to itself."), nil
	}

	existing, err := h.store.FindConnectionsFor(ctx, conv.Key)
	if err != nil {
		return nil, fmt.Errorf("find connections: %w", err)
	}
	for _, e := range existing {
		if other, ok := e.Other(conv.Key); ok && other.Key == c.Left.Key {
			return h.reply(conv, fmt.Sprintf("These chats are already connected as #%d.", e.ID)), nil
		}
	}

	if err := h.store.CompleteConnection(ctx, c.ID, conv.Key); err != nil {
		return nil, fmt.Errorf("complete connection: %w", err)
	}
	return []Reply{
		{To: conv, Text: fmt.Sprintf("Connected to %s as #%d.", describe(c.Left), c.ID)},
		{To: c.Left, Text: fmt.Sprintf("Connected to %s as #%d.", describe(conv), c.ID)},
	}, nil
}

func (h *Handler) list(ctx context.Context, conv domain.Conversation) ([]Reply, error) {
	conns, err := h.store.FindConnectionsFor(ctx, conv.Key)
	if err != nil {
		return nil, fmt.Errorf("find connections: %w", err)
	}
	if len(conns) == 0 {
		return h.reply(conv, "This chat has no connections. Create one with /token."), nil
	}

	var b strings.Builder
	b.WriteString("Connections:\n")
	for _, c := range conns {
		other, ok := c.Other(conv.Key)
		if !ok {
			fmt.Fprintf(&b, "\n#%d waiting for /connect", c.ID)
			continue
		}
		fmt.Fprintf(&b, "\n#%d %s %s [%s]  /disconnect_%d", c.ID, arrow(c, conv.Key), describe(other), c.Direction, c.ID)
	}
	return h.reply(conv, b.String()), nil
}

// arrow shows the relay direction as seen from the chat at key.
func arrow(c domain.Connection, key domain.Key) string {
	other, ok := c.Other(key)
	if !ok {
		return "…"
	}
	_, out := c.Target(key)
	_, in := c.Target(other.Key)
	switch {
	case out && in:
		return "⇄"
	case out:
		return "→"
	case in:
		return "←"
	}
	return "×"
}

func describe(conv domain.Conversation) string {
	name := map[string]string{
		domain.ProviderTelegram: "Telegram",
		domain.ProviderVK:       "VK",
	}[conv.Provider]
	if name == "" {
		name = conv.Provider
	}
	return fmt.Sprintf("%s (%s)", conv.DisplayTitle(), name)
}

// participating loads connection idArg if conv is one of its sides.
func (h *Handler) participating(ctx context.Context, conv domain.Conversation, idArg string) (*domain.Connection, []Reply, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(idArg, "#"), 10, 64)
	if err != nil {
		return nil, h.reply(conv, "Give the connection id as shown by /list."), nil
	}
	c, err := h.store.FindConnection(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("find connection: %w", err)
	}
	if c == nil || (c.Left.Key != conv.Key && (c.Right == nil || c.Right.Key != conv.Key)) {
		return nil, h.reply(conv, fmt.Sprintf("This chat has no connection #%d.", id)), nil
	}
	return c, nil, nil
}

func (h *Handler) disconnect(ctx context.Context, conv domain.Conversation, idArg string) ([]Reply, error) {
	c, replies, err := h.participating(ctx, conv, idArg)
	if c == nil {
		return replies, err
	}
	if err := h.store.DeleteConnection(ctx, c.ID); err != nil {
		return nil, fmt.Errorf("delete connection: %w", err)
	}
	replies = h.reply(conv, fmt.Sprintf("Connection #%d removed.", c.ID))
	if other, ok := c.Other(conv.Key); ok {
		replies = append(replies, Reply{To: other, Text: fmt.Sprintf("Connection #%d with %s was removed.", c.ID, describe(conv))})
	}
	return replies, nil
}

func (h *Handler) direction(ctx context.Context, conv domain.Conversation, idArg, dirArg string) ([]Reply, error) {
	d, ok := domain.ParseDirection(strings.ToLower(dirArg))
	if !ok {
		return h.reply(conv, "Usage: /direction <id> <both|right|left|none>"), nil
	}
	c, replies, err := h.participating(ctx, conv, idArg)
	if c == nil {
		return replies, err
	}
	if c.Pending() {
		return h.reply(conv, fmt.Sprintf("Connection #%d is not connected yet.", c.ID)), nil
	}
	if err := h.store.SetDirection(ctx, c.ID, d); err != nil {
		return nil, fmt.Errorf("set direction: %w", err)
	}
	c.Direction = d
	return h.reply(conv, fmt.Sprintf("Connection #%d: %s %s %s.",
		c.ID, describe(c.Left), arrow(*c, c.Left.Key), describe(*c.Right))), nil
}

func (h *Handler) auth(ctx context.Context, msg *domain.Message, cmd *Command) ([]Reply, error) {
	conv := msg.Conversation()
	if !h.authEnabled {
		return h.reply(conv, "Authorisation is not required on this bot."), nil
	}
	sender := msg.Sender()
	if sender == nil || sender.ID == "" {
		return h.reply(conv, "Cannot tell who you are."), nil
	}
	if subtle.ConstantTimeCompare([]byte(cmd.Arg(0)), []byte(h.password)) != 1 {
		h.logger.Warn("wrong auth password", "person", sender.Key.String())
		return h.reply(conv, "Wrong password."), nil
	}
	p := *sender
	p.IsAdmin = true
	if err := h.store.SavePerson(ctx, p); err != nil {
		return nil, fmt.Errorf("save person: %w", err)
	}
	h.logger.Info("person authorised", "person", sender.Key.String())
	return h.reply(conv, fmt.Sprintf("%s is now authorised.", sender.Name())), nil
}

func (h *Handler) deauth(ctx context.Context, msg *domain.Message) ([]Reply, error) {
	conv := msg.Conversation()
	sender := msg.Sender()
	if sender == nil || sender.ID == "" {
		return h.reply(conv, "Cannot tell who you are."), nil
	}
	if err := h.store.DeletePerson(ctx, sender.Key); err != nil {
		return nil, fmt.Errorf("delete person: %w", err)
	}
	return h.reply(conv, fmt.Sprintf("%s is no longer authorised.", sender.Name())), nil
}
