// Package relay moves inbound messages between connected conversations.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bridgebot/internal/command"
	"bridgebot/internal/domain"
	"bridgebot/internal/metrics"
)

const (
	defaultConcurrency = 8
	defaultSendTimeout = 60 * time.Second
	// laneBacklogWarn is the queue length at which a lane reports a slow
	// target.
	laneBacklogWarn = 256
)

// Commands executes bot commands. handled is false for messages that only
// look like commands.
type Commands interface {
	Handle(ctx context.Context, msg *domain.Message) (replies []command.Reply, handled bool)
}

type Config struct {
	Bus       domain.EventBus
	Store     domain.Store
	Providers []domain.Provider
	Commands  Commands
	// Concurrency bounds events processed at once across conversations.
	Concurrency int
	SendTimeout time.Duration
	Logger      *slog.Logger
}

// lane serialises the events of one origin conversation so they are relayed
// in the order they arrived. The queue is unbounded so a slow conversation
// never holds up the bus.
type lane struct {
	queue []domain.Event // guarded by Router.mu
}

// Router consumes inbound events, runs commands and relays messages to every
// conversation connected to their origin.
type Router struct {
	bus         domain.EventBus
	store       domain.Store
	providers   map[string]domain.Provider
	commands    Commands
	sendTimeout time.Duration
	sem         chan struct{}
	logger      *slog.Logger

	mu    sync.Mutex
	lanes map[domain.Key]*lane
	wg    sync.WaitGroup
}

func NewRouter(cfg Config) *Router {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	providers := make(map[string]domain.Provider, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers[p.Name()] = p
	}
	return &Router{
		bus:         cfg.Bus,
		store:       cfg.Store,
		providers:   providers,
		commands:    cfg.Commands,
		sendTimeout: cfg.SendTimeout,
		sem:         make(chan struct{}, cfg.Concurrency),
		logger:      cfg.Logger.With("component", "relay"),
		lanes:       make(map[domain.Key]*lane),
	}
}

// Run consumes the bus until ctx ends or the bus is closed, then waits for
// queued events to finish.
func (r *Router) Run(ctx context.Context) {
	r.logger.Info("relay started", "providers", len(r.providers))
	defer r.wg.Wait()

	events := r.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopping")
			return
		case ev, ok := <-events:
			if !ok {
				r.logger.Info("bus closed, relay stopping")
				return
			}
			r.dispatch(ctx, ev)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, ev domain.Event) {
	key := ev.Message.Conversation().Key

	r.mu.Lock()
	l := r.lanes[key]
	start := l == nil
	if start {
		l = &lane{}
		r.lanes[key] = l
		r.wg.Add(1)
	}
	l.queue = append(l.queue, ev)
	if len(l.queue) == laneBacklogWarn {
		r.logger.Warn("relay falling behind", "conversation", key.String(), "queued", len(l.queue))
	}
	r.mu.Unlock()

	if start {
		go r.runLane(ctx, key, l)
	}
}

// runLane processes the lane's events in order and removes the lane once its
// queue is empty. Removal happens under the same lock dispatch appends
// under, so no event is left behind.
func (r *Router) runLane(ctx context.Context, key domain.Key, l *lane) {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		if len(l.queue) == 0 {
			delete(r.lanes, key)
			r.mu.Unlock()
			return
		}
		ev := l.queue[0]
		l.queue[0] = domain.Event{}
		l.queue = l.queue[1:]
		r.mu.Unlock()

		r.sem <- struct{}{}
		r.process(ctx, ev)
		<-r.sem
	}
}

func (r *Router) process(ctx context.Context, ev domain.Event) {
	msg := ev.Message
	conv := msg.Conversation()
	if err := r.store.UpsertConversation(ctx, conv); err != nil {
		r.logger.Warn("cannot record conversation", "conversation", conv.Key.String(), "err", err)
	}

	if ev.Kind == domain.EventCommand && r.commands != nil {
		replies, handled := r.commands.Handle(ctx, msg)
		if handled {
			for _, reply := range replies {
				r.reply(ctx, reply)
			}
			return
		}
	}
	r.Relay(ctx, msg)
}

func (r *Router) reply(ctx context.Context, reply command.Reply) {
	p, ok := r.providers[reply.To.Provider]
	if !ok {
		r.logger.Warn("no adapter for reply", "conversation", reply.To.Key.String())
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()
	if err := p.SendMessage(ctx, reply.To, domain.NewSystemMessage(reply.To, reply.Text)); err != nil {
		r.logger.Error("reply failed", "conversation", reply.To.Key.String(), "err", err)
	}
}

// Targets returns the conversations a message from origin is relayed to,
// each once.
func (r *Router) Targets(ctx context.Context, origin domain.Key) ([]domain.Conversation, error) {
	conns, err := r.store.FindConnectionsFor(ctx, origin)
	if err != nil {
		return nil, fmt.Errorf("find connections: %w", err)
	}
	seen := make(map[domain.Key]bool, len(conns))
	var out []domain.Conversation
	for _, c := range conns {
		target, ok := c.Target(origin)
		if !ok || target.Key == origin || seen[target.Key] {
			continue
		}
		seen[target.Key] = true
		out = append(out, target)
	}
	return out, nil
}

// Relay sends msg to every target conversation concurrently. A failed
// target does not affect the others; the joined error reports all of them.
func (r *Router) Relay(ctx context.Context, msg *domain.Message) error {
	origin := msg.Conversation().Key
	logger := r.logger.With("conversation", origin.String())

	targets, err := r.Targets(ctx, origin)
	if err != nil {
		logger.Error("cannot resolve targets", "err", err)
		return err
	}
	if len(targets) == 0 {
		logger.Debug("no connections, message dropped")
		return nil
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, target := range targets {
		p, ok := r.providers[target.Provider]
		if !ok {
			logger.Warn("no adapter for target", "target", target.Key.String())
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
			defer cancel()

			start := time.Now()
			err := p.SendMessage(sendCtx, target, msg)
			took := time.Since(start)
			metrics.Delivery(origin.Provider, target.Provider, took, err)
			if err != nil {
				logger.Error("delivery failed", "target", target.Key.String(), "took", took, "err", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", target.Key, err))
				mu.Unlock()
				return
			}
			logger.Info("message relayed", "target", target.Key.String(), "took", took)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
