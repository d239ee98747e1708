package audit

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Async      bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher forwards entries to a sink. In async mode a single goroutine
// drains a buffered channel; otherwise entries are delivered inline. Sink
// failures are logged and never returned.
type Dispatcher struct {
	cfg       Config
	sink      Sink
	logf      func(string, ...any)
	ch        chan Entry
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewDispatcher(cfg Config, sink Sink, logf func(string, ...any)) *Dispatcher {
	if sink == nil {
		sink = NoOpSink{}
	}
	if logf == nil {
		logf = log.Printf
	}

	d := &Dispatcher{
		cfg:  cfg,
		sink: sink,
		logf: logf,
	}
	if !cfg.Async {
		return d
	}

	if d.cfg.BufferSize <= 0 {
		d.cfg.BufferSize = 1
	}
	d.ch = make(chan Entry, d.cfg.BufferSize)
	d.done = make(chan struct{})

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case entry := <-d.ch:
			d.deliver(context.Background(), entry)
		case <-d.done:
			for {
				select {
				case entry := <-d.ch:
					d.deliver(context.Background(), entry)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, entry Entry) {
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			d.logf("authcore: audit sink panicked for %s: %v", entry.Action, r)
		}
	}()
	if err := d.sink.Log(ctx, entry); err != nil {
		d.failed.Add(1)
		d.logf("authcore: audit sink failed for %s: %v", entry.Action, err)
	}
}

func (d *Dispatcher) Emit(ctx context.Context, entry Entry) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if !d.cfg.Async {
		d.deliver(ctx, entry)
		return
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- entry:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- entry:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.done:
	}
}

func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		if d.done != nil {
			close(d.done)
			d.wg.Wait()
		}
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed counts entries the sink rejected.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
