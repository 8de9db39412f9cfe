package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events when the buffer is full instead of blocking the caller.
	DropIfFull bool
	// SinkTimeout bounds each Sink.Emit call through its context. Zero means no bound.
	SinkTimeout time.Duration
}

type envelope struct {
	ctx   context.Context
	event Event
}

// Dispatcher relays events to a Sink on one background goroutine, in emit order.
//
// A nil *Dispatcher is valid and discards everything; NewDispatcher returns nil when
// auditing is disabled.
type Dispatcher struct {
	sink        Sink
	dropIfFull  bool
	sinkTimeout time.Duration

	queue    chan envelope
	stopping chan struct{}
	stopped  chan struct{}
	closing  atomic.Bool
	once     sync.Once

	dropped atomic.Uint64
}

func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:        sink,
		dropIfFull:  cfg.DropIfFull,
		sinkTimeout: cfg.SinkTimeout,
		queue:       make(chan envelope, cfg.BufferSize),
		stopping:    make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.stopped)
	for {
		select {
		case env := <-d.queue:
			d.deliver(env)
		case <-d.stopping:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case env := <-d.queue:
			d.deliver(env)
		default:
			return
		}
	}
}

// deliver shields the loop from a panicking sink; such an event counts as dropped.
func (d *Dispatcher) deliver(env envelope) {
	defer func() {
		if recover() != nil {
			d.dropped.Add(1)
		}
	}()
	ctx := env.ctx
	if d.sinkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.sinkTimeout)
		defer cancel()
	}
	d.sink.Emit(ctx, env.event)
}

// Emit queues event. The sink sees ctx's values but not its cancellation, so an event
// emitted at the end of a request is still delivered after the request finishes.
// In blocking mode Emit gives up when ctx is done. Events emitted after Close are ignored.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closing.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	env := envelope{ctx: context.WithoutCancel(ctx), event: event}

	if d.dropIfFull {
		select {
		case d.queue <- env:
		case <-d.stopping:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- env:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.stopping:
	}
}

// Close stops accepting events, delivers what is buffered and waits for the sink.
// It is idempotent.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closing.Store(true)
		close(d.stopping)
		<-d.stopped
	})
}

// Dropped counts events that never reached the sink: buffer overflow, a caller context
// that ended while blocked, or a panicking sink.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
