// Package mediagroup reassembles albums that a platform delivers as several
// separate messages sharing a group id.
package mediagroup

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"bridgebot/internal/attachment"
	"bridgebot/internal/domain"
)

const (
	DefaultWindow  = 1500 * time.Millisecond
	DefaultMaxSize = 10
)

// Reason tells why a group was settled.
type Reason string

const (
	ReasonQuiet Reason = "quiet"
	ReasonFull  Reason = "full"
	ReasonFlush Reason = "flush"
)

// Settled is one reassembled album. Message is the first message of the
// group that carried a caption, or the first message if none did.
type Settled struct {
	GroupID     string
	Message     *domain.Message
	Attachments []attachment.Attachment
	Reason      Reason
}

// Combined returns the message carrying all the album's items followed by
// the attachments the message already had.
func (s Settled) Combined() *domain.Message {
	atts := append(slices.Clone(s.Attachments), s.Message.Attachments()...)
	return s.Message.WithAttachments(atts)
}

// Config configures a Settler.
type Config struct {
	// Window is the quiet period after the last arrival before settling.
	Window time.Duration
	// MaxSize settles a group immediately once it holds this many items.
	MaxSize  int
	OnSettle func(Settled)
	Logger   *slog.Logger
}

type state int

const (
	stateOpen state = iota
	stateSettling
	stateClosed
)

type group struct {
	id    string
	msg   *domain.Message
	items []attachment.Attachment
	timer *time.Timer
	state state
}

// Settler buffers album items per group id. All group state lives in one map
// guarded by one mutex; a group leaves the map in the same critical section
// that decides to settle it, so it is emitted exactly once and later
// arrivals for the same id open a new group.
type Settler struct {
	mu       sync.Mutex
	groups   map[string]*group
	window   time.Duration
	maxSize  int
	onSettle func(Settled)
	logger   *slog.Logger
}

func New(cfg Config) *Settler {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OnSettle == nil {
		cfg.OnSettle = func(Settled) {}
	}
	return &Settler{
		groups:   make(map[string]*group),
		window:   cfg.Window,
		maxSize:  cfg.MaxSize,
		onSettle: cfg.OnSettle,
		logger:   cfg.Logger.With("component", "mediagroup"),
	}
}

// Add buffers album items. msg is the native message that carried them,
// without the items themselves.
func (s *Settler) Add(groupID string, msg *domain.Message, items ...attachment.Attachment) {
	s.mu.Lock()
	g, ok := s.groups[groupID]
	if !ok {
		g = &group{id: groupID, msg: msg}
		s.groups[groupID] = g
	} else if !captioned(g.msg) && captioned(msg) {
		g.msg = msg
	}
	g.items = append(g.items, items...)

	if len(g.items) >= s.maxSize {
		settled := s.closeLocked(g, ReasonFull)
		s.mu.Unlock()
		s.emit(settled)
		return
	}

	if g.timer == nil {
		g.timer = time.AfterFunc(s.window, func() { s.expire(g) })
	} else {
		g.timer.Reset(s.window)
	}
	s.mu.Unlock()
}

// Pending returns the number of open groups.
func (s *Settler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.groups)
}

// Flush settles every open group now.
func (s *Settler) Flush() {
	s.mu.Lock()
	var settled []Settled
	for _, g := range s.groups {
		settled = append(settled, s.closeLocked(g, ReasonFlush))
	}
	s.mu.Unlock()

	for _, st := range settled {
		s.emit(st)
	}
}

// captioned reports whether msg, or a message it forwards, has a body or
// attachments besides the album items.
func captioned(msg *domain.Message) bool {
	if strings.TrimSpace(msg.Body()) != "" || len(msg.Attachments()) > 0 {
		return true
	}
	for _, f := range msg.Forwarded() {
		if captioned(f) {
			return true
		}
	}
	return false
}

func (s *Settler) expire(g *group) {
	s.mu.Lock()
	// The group may have been settled, and its id reused, after this timer
	// fired but before it got the lock.
	if cur, ok := s.groups[g.id]; !ok || cur != g || g.state != stateOpen {
		s.mu.Unlock()
		return
	}
	settled := s.closeLocked(g, ReasonQuiet)
	s.mu.Unlock()
	s.emit(settled)
}

// closeLocked removes g and stops its timer. Callers hold s.mu.
func (s *Settler) closeLocked(g *group, reason Reason) Settled {
	g.state = stateSettling
	if g.timer != nil {
		g.timer.Stop()
	}
	delete(s.groups, g.id)
	g.state = stateClosed
	return Settled{
		GroupID:     g.id,
		Message:     g.msg,
		Attachments: g.items,
		Reason:      reason,
	}
}

func (s *Settler) emit(st Settled) {
	s.logger.Debug("media group settled",
		"group", st.GroupID,
		"items", len(st.Attachments),
		"reason", st.Reason,
	)
	s.onSettle(st)
}
