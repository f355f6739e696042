// Package inbox delivers transport confirmations to the ledger through
// per-request single-writer queues. Confirmations for one request are
// processed in arrival order by one goroutine; different requests proceed in
// parallel on other shards.
package inbox

import (
	"context"
	"errors"
	"hash/fnv"

	"golang.org/x/sync/errgroup"

	"github.com/simaogato/fundpool-backend/internal/domain"
	"github.com/simaogato/fundpool-backend/internal/logger"
	"github.com/simaogato/fundpool-backend/internal/usecase/ledger"
)

const (
	defaultShards     = 16
	defaultQueueDepth = 256
)

// ErrClosed is returned by Submit once the inbox stopped running.
var ErrClosed = errors.New("inbox closed")

// Handler processes one confirmation.
type Handler interface {
	Process(ctx context.Context, conf domain.Confirmation) (*ledger.CreditResult, error)
}

type envelope struct {
	ctx  context.Context
	conf domain.Confirmation
	done chan<- outcome // nil for fire-and-forget
}

type outcome struct {
	result *ledger.CreditResult
	err    error
}

// Inbox fans confirmations out to shard goroutines keyed by request id.
type Inbox struct {
	handler Handler
	shards  []chan envelope
	closed  chan struct{}
	logger  *logger.Logger
}

// New creates an inbox. Zero shards or depth use the defaults.
func New(handler Handler, shards, queueDepth int, log *logger.Logger) *Inbox {
	if shards <= 0 {
		shards = defaultShards
	}
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}
	in := &Inbox{
		handler: handler,
		shards:  make([]chan envelope, shards),
		closed:  make(chan struct{}),
		logger:  logger.OrNop(log),
	}
	for i := range in.shards {
		in.shards[i] = make(chan envelope, queueDepth)
	}
	return in
}

// Run processes queued confirmations until ctx is cancelled, then drains
// what is already queued.
func (in *Inbox) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, queue := range in.shards {
		i, queue := i, queue
		g.Go(func() error {
			in.loop(gctx, i, queue)
			return nil
		})
	}
	err := g.Wait()
	close(in.closed)
	return err
}

func (in *Inbox) loop(ctx context.Context, shard int, queue <-chan envelope) {
	for {
		select {
		case env := <-queue:
			in.handle(env)
		case <-ctx.Done():
			for {
				select {
				case env := <-queue:
					in.handle(env)
				default:
					in.logger.Debug("inbox shard stopped", "shard", shard)
					return
				}
			}
		}
	}
}

func (in *Inbox) handle(env envelope) {
	var out outcome
	if err := env.ctx.Err(); err != nil {
		out.err = err
	} else {
		out.result, out.err = in.handler.Process(env.ctx, env.conf)
	}

	if env.done != nil {
		env.done <- out
		return
	}
	if out.err != nil {
		in.logger.Warn("confirmation dropped",
			"request_id", env.conf.RequestID.String(),
			"confirmation_key", env.conf.ConfirmationKey,
			"retryable", Retryable(out.err),
			"error", out.err)
	}
}

// Submit queues a confirmation without waiting for it to be processed.
// Blocks while the shard's queue is full.
func (in *Inbox) Submit(ctx context.Context, conf domain.Confirmation) error {
	return in.enqueue(ctx, envelope{ctx: context.WithoutCancel(ctx), conf: conf})
}

// Do queues a confirmation and waits for its result.
func (in *Inbox) Do(ctx context.Context, conf domain.Confirmation) (*ledger.CreditResult, error) {
	done := make(chan outcome, 1)
	if err := in.enqueue(ctx, envelope{ctx: ctx, conf: conf, done: done}); err != nil {
		return nil, err
	}
	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (in *Inbox) enqueue(ctx context.Context, env envelope) error {
	queue := in.shards[in.shardOf(env.conf)]
	select {
	case <-in.closed:
		return ErrClosed
	default:
	}
	select {
	case queue <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-in.closed:
		return ErrClosed
	}
}

// shardOf keys contributions by request id and outbound confirmations by
// handle, which carry no request id of their own.
func (in *Inbox) shardOf(conf domain.Confirmation) int {
	h := fnv.New32a()
	if conf.RequestID.IsZero() {
		_, _ = h.Write([]byte(conf.Handle))
	} else {
		_, _ = h.Write(conf.RequestID[:])
	}
	return int(h.Sum32() % uint32(len(in.shards)))
}
