// Package gateway delivers engine events to downstream consumers. Events are
// published after the producing transaction commits, so a consumer never
// observes a grant that was rolled back.
package gateway

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/inkwell-hq/inkwell/pkg/access"
	"github.com/inkwell-hq/inkwell/pkg/logger"
)

// eventQueueCapacity bounds pending deliveries; beyond it events are dropped
// rather than stalling the publisher.
const eventQueueCapacity = 1024

// Transport receives committed engine events. Publish must not block the
// caller; delivery is best effort and asynchronous.
type Transport interface {
	Publish(ctx context.Context, event access.Event)

	// Close drains in-flight deliveries.
	Close()
}

// Sink consumes one delivered event.
type Sink func(ctx context.Context, event access.Event)

// NoopTransport discards all events.
type NoopTransport struct{}

var _ Transport = (*NoopTransport)(nil)

func NewNoopTransport() *NoopTransport {
	return &NoopTransport{}
}

func (*NoopTransport) Publish(context.Context, access.Event) {}

func (*NoopTransport) Close() {}

// PooledTransport fans events out to a sink on a bounded goroutine pool.
// Publishers hand events to a buffered queue drained by a dispatcher, so a
// slow sink exerts no backpressure on the mutation that produced the event;
// once the queue fills, further events are dropped.
type PooledTransport struct {
	logger logger.Logger
	sink   Sink
	pool   *pool.Pool

	queue     chan delivery
	shutdown  chan struct{}
	drained   chan struct{}
	closeOnce sync.Once
}

type delivery struct {
	ctx   context.Context
	event access.Event
}

var _ Transport = (*PooledTransport)(nil)

// NewPooledTransport returns a transport delivering to sink with at most
// maxInFlight concurrent deliveries.
func NewPooledTransport(l logger.Logger, sink Sink, maxInFlight int) *PooledTransport {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	t := &PooledTransport{
		logger:   l,
		sink:     sink,
		pool:     pool.New().WithMaxGoroutines(maxInFlight),
		queue:    make(chan delivery, eventQueueCapacity),
		shutdown: make(chan struct{}),
		drained:  make(chan struct{}),
	}
	go t.dispatch()
	return t
}

func (t *PooledTransport) Publish(ctx context.Context, event access.Event) {
	select {
	case t.queue <- delivery{ctx: ctx, event: event}:
	default:
		t.logger.Warn("event queue saturated, dropping event",
			zap.String("event", string(event.Name)),
		)
	}
}

// dispatch moves queued deliveries onto the pool. Submission blocks here, not
// in Publish, when all workers are busy.
func (t *PooledTransport) dispatch() {
	defer close(t.drained)
	for {
		select {
		case d := <-t.queue:
			t.deliver(d)
		case <-t.shutdown:
			for {
				select {
				case d := <-t.queue:
					t.deliver(d)
				default:
					return
				}
			}
		}
	}
}

func (t *PooledTransport) deliver(d delivery) {
	t.pool.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				t.logger.Error("event sink panicked",
					zap.String("event", string(d.event.Name)),
					zap.Any("panic", r),
				)
			}
		}()
		t.sink(d.ctx, d.event)
	})
}

func (t *PooledTransport) Close() {
	t.closeOnce.Do(func() {
		close(t.shutdown)
	})
	<-t.drained
	t.pool.Wait()
}
