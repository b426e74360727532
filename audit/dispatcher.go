package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultSinkTimeout bounds a single sink delivery and the drain on Close.
const DefaultSinkTimeout = 2 * time.Second

// DispatcherConfig controls dispatcher buffering.
type DispatcherConfig struct {
	Enabled bool
	// BufferSize caps the backlog when DropIfFull is set.
	BufferSize int
	// DropIfFull drops (and counts) entries once BufferSize are waiting. When false
	// the backlog grows without bound; it never outgrows the chain it mirrors.
	DropIfFull bool
	// SinkTimeout bounds each sink call. Zero means DefaultSinkTimeout.
	SinkTimeout time.Duration
}

// Dispatcher forwards appended entries to a [Sink] from a single worker, in the
// order they were emitted. Emit never blocks: the chain calls it while holding its
// write lock, so a slow or unreachable sink must not stall appends or reads.
type Dispatcher struct {
	cfg  DispatcherConfig
	sink Sink

	mu      sync.Mutex
	cond    *sync.Cond
	backlog []Entry
	closed  bool
	drain   context.Context

	wg        sync.WaitGroup
	closeOnce sync.Once
	dropped   atomic.Uint64
	delivered atomic.Uint64
}

// NewDispatcher starts a dispatcher, or returns nil when cfg.Enabled is false. A nil
// *Dispatcher is safe to use and drops everything.
func NewDispatcher(cfg DispatcherConfig, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = DefaultSinkTimeout
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{cfg: cfg, sink: sink}
	d.cond = sync.NewCond(&d.mu)

	d.wg.Add(1)
	go d.run()
	return d
}

// Emit queues a copy of entry for the sink. The request context is not used: delivery
// happens after the request has returned. Entries emitted after Close are dropped.
func (d *Dispatcher) Emit(_ context.Context, entry Entry) {
	if d == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || (d.cfg.DropIfFull && len(d.backlog) >= d.cfg.BufferSize) {
		d.dropped.Add(1)
		return
	}
	d.backlog = append(d.backlog, entry)
	d.cond.Signal()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	d.mu.Lock()
	for {
		for len(d.backlog) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.backlog) == 0 {
			d.mu.Unlock()
			return
		}

		entry := d.backlog[0]
		d.backlog[0] = Entry{}
		d.backlog = d.backlog[1:]
		drain := d.drain
		d.mu.Unlock()

		if drain != nil && drain.Err() != nil {
			d.dropped.Add(1)
		} else {
			d.deliver(drain, entry)
		}

		d.mu.Lock()
	}
}

func (d *Dispatcher) deliver(drain context.Context, entry Entry) {
	parent := drain
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, d.cfg.SinkTimeout)
	defer cancel()

	d.sink.Emit(ctx, entry)
	d.delivered.Add(1)
}

// Close stops accepting entries and hands the backlog to the sink. The whole drain
// shares one SinkTimeout deadline; whatever is left after it is counted as dropped.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		drain, cancel := context.WithTimeout(context.Background(), d.cfg.SinkTimeout)
		defer cancel()

		d.mu.Lock()
		d.closed = true
		d.drain = drain
		d.cond.Broadcast()
		d.mu.Unlock()

		d.wg.Wait()
	})
}

// Pending returns how many entries are waiting for the sink.
func (d *Dispatcher) Pending() int {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.backlog)
}

// Dropped returns how many entries never reached the sink.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Delivered returns how many entries were handed to the sink.
func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}
