package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sink is one destination for audit events.
type Sink interface {
	Name() string
	Deliver(context.Context, *Event) error
	Close(context.Context) error
}

// DeliveryObserver is called once per sink delivery attempt.
type DeliveryObserver func(sink string, err error)

// ErrDrainTimeout is returned by Close when queued events were still
// undelivered at the deadline.
var ErrDrainTimeout = errors.New("audit: drain timed out")

// Stats is a point-in-time copy of the emitter counters.
type Stats struct {
	Enqueued  uint64
	Dropped   uint64
	Delivered map[string]uint64
	Failed    map[string]uint64
}

// EmitterConfig sizes the queue and worker pool.
type EmitterConfig struct {
	QueueSize       int
	Workers         int
	ShutdownTimeout time.Duration
	Logger          *zap.Logger
	Observer        DeliveryObserver
}

func (c EmitterConfig) withDefaults() EmitterConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

type sinkSlot struct {
	sink      Sink
	delivered atomic.Uint64
	failed    atomic.Uint64
}

// Emitter hands events to a fixed pool of workers so that sink latency
// never reaches the request path. Emit never blocks; events that do not
// fit in the queue are counted and dropped.
type Emitter struct {
	cfg   EmitterConfig
	log   *zap.Logger
	slots []*sinkSlot
	queue chan *Event

	// mu guards closed. Emit sends under the read lock, so nothing enters
	// the queue after Close sets closed.
	mu       sync.RWMutex
	closed   bool
	stop     chan struct{}
	stopOnce sync.Once
	workers  sync.WaitGroup

	// deliverCtx is cancelled when draining overruns its deadline so that
	// sinks stuck in retries give up.
	deliverCtx    context.Context
	cancelDeliver context.CancelFunc

	enqueued atomic.Uint64
	dropped  atomic.Uint64
}

// NewEmitter starts the worker pool.
func NewEmitter(cfg EmitterConfig, sinks []Sink) *Emitter {
	cfg = cfg.withDefaults()
	e := &Emitter{
		cfg:   cfg,
		log:   cfg.Logger,
		queue: make(chan *Event, cfg.QueueSize),
		stop:  make(chan struct{}),
	}
	e.deliverCtx, e.cancelDeliver = context.WithCancel(context.Background())
	for _, s := range sinks {
		e.slots = append(e.slots, &sinkSlot{sink: s})
	}
	for range cfg.Workers {
		e.workers.Go(e.work)
	}
	return e
}

// Emit queues ev for delivery. It is safe to call on a nil emitter.
func (e *Emitter) Emit(_ context.Context, ev *Event) {
	if e == nil || ev == nil {
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.dropped.Add(1)
		return
	}
	select {
	case e.queue <- ev:
		e.enqueued.Add(1)
	default:
		e.dropped.Add(1)
		e.log.Warn("audit queue full, event dropped",
			zap.String("event_id", ev.ID),
			zap.String("request_id", ev.RequestID))
	}
}

func (e *Emitter) work() {
	for {
		select {
		case ev := <-e.queue:
			e.fanOut(ev)
		case <-e.stop:
			for {
				select {
				case ev := <-e.queue:
					e.fanOut(ev)
				default:
					return
				}
			}
		}
	}
}

func (e *Emitter) fanOut(ev *Event) {
	for _, slot := range e.slots {
		name := slot.sink.Name()
		err := slot.sink.Deliver(e.deliverCtx, ev)
		if err != nil {
			slot.failed.Add(1)
			e.log.Warn("audit delivery failed",
				zap.String("sink", name),
				zap.String("event_id", ev.ID),
				zap.Error(err))
		} else {
			slot.delivered.Add(1)
		}
		if e.cfg.Observer != nil {
			e.cfg.Observer(name, err)
		}
	}
}

// Close stops intake, waits for queued events up to the shutdown timeout
// (or ctx, whichever ends first) and closes every sink. Calling Close
// again is a no-op.
func (e *Emitter) Close(ctx context.Context) error {
	if e == nil {
		return nil
	}
	first := false
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		close(e.stop)
		e.mu.Unlock()
		first = true
	})
	if !first {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
	defer cancel()

	drained := make(chan struct{})
	go func() {
		e.workers.Wait()
		close(drained)
	}()

	var errs []error
	select {
	case <-drained:
	case <-ctx.Done():
		e.log.Warn("audit drain timed out", zap.Int("pending", len(e.queue)))
		errs = append(errs, ErrDrainTimeout)
	}
	e.cancelDeliver()

	for _, slot := range e.slots {
		if err := slot.sink.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close sink %s: %w", slot.sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Stats copies the counters.
func (e *Emitter) Stats() Stats {
	if e == nil {
		return Stats{}
	}
	s := Stats{
		Enqueued:  e.enqueued.Load(),
		Dropped:   e.dropped.Load(),
		Delivered: make(map[string]uint64, len(e.slots)),
		Failed:    make(map[string]uint64, len(e.slots)),
	}
	for _, slot := range e.slots {
		name := slot.sink.Name()
		s.Delivered[name] += slot.delivered.Load()
		s.Failed[name] += slot.failed.Load()
	}
	return s
}
