package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bridgebot/internal/attachment"
	"bridgebot/internal/metrics"
)

const defaultSendTimeout = 60 * time.Second

// outbox is one platform's native send calls for one target chat.
type outbox interface {
	sendText(ctx context.Context, text string) error
	// sendAlbum sends at most the platform's album size of items at once.
	sendAlbum(ctx context.Context, items []attachment.Groupable) error
	sendSingle(ctx context.Context, a attachment.Attachment) error
}

// deliverer runs a sendPlan against an outbox. Failures of single steps are
// logged and joined into the returned error without stopping other steps.
type deliverer struct {
	provider    string
	albumSize   int
	sendTimeout time.Duration
	logger      *slog.Logger
}

func (d deliverer) deliver(ctx context.Context, out outbox, plan sendPlan) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	fail := func(step string, kind attachment.Kind, err error) {
		level := slog.LevelWarn
		var unsupported *attachment.UnsupportedAttachmentError
		if errors.As(err, &unsupported) {
			level = slog.LevelInfo
		}
		d.logger.Log(ctx, level, "send step failed", "step", step, "attachment", kind, "err", err)
		mu.Lock()
		errs = append(errs, fmt.Errorf("%s %s: %w", step, kind, err))
		mu.Unlock()
	}

	if plan.body != "" {
		if err := d.withTimeout(ctx, func(ctx context.Context) error { return out.sendText(ctx, plan.body) }); err != nil {
			fail("text", "", err)
		}
	}

	// Albums go out in order; each chunk is one request.
	for _, chunk := range attachment.Chunk(plan.groupable, d.albumSize) {
		err := d.withTimeout(ctx, func(ctx context.Context) error { return out.sendAlbum(ctx, chunk) })
		for _, item := range chunk {
			metrics.AttachmentSent(d.provider, string(item.Kind()), err)
		}
		if err != nil {
			fail("album", attachment.KindAlbum, err)
		}
	}

	var wg sync.WaitGroup
	for _, a := range plan.rest {
		wg.Add(1)
		go func(a attachment.Attachment) {
			defer wg.Done()
			err := d.withTimeout(ctx, func(ctx context.Context) error { return out.sendSingle(ctx, a) })
			metrics.AttachmentSent(d.provider, string(a.Kind()), err)
			if err != nil {
				fail("attachment", a.Kind(), err)
			}
		}(a)
	}
	wg.Wait()

	return errors.Join(errs...)
}

func (d deliverer) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	timeout := d.sendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}
