package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config controls Hub buffering. Zero values take the defaults below.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	// MaxBatchWait bounds how long a partial batch waits for more events.
	// Terminal stages flush without waiting.
	MaxBatchWait time.Duration
	SinkTimeout  time.Duration
	Logger       *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 256
	defaultMaxBatchWait   = 250 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub batches events from concurrent domain crawls and fans them out to
// sinks on a single goroutine. Emit never blocks a crawl: when the buffer is
// full the event is counted as dropped.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stop   chan struct{}
	done   chan struct{}

	dropLogs rate.Sometimes
	dropped  atomic.Int64
	closed   atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batching goroutine over sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:      cfg,
		sinks:    append([]Sink(nil), sinks...),
		events:   make(chan Event, cfg.BufferSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		dropLogs: rate.Sometimes{First: 1, Interval: dropLogInterval},
	}
	go h.loop()
	return h
}

// Emit implements Emitter. Invalid events are discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.cfg.Logger.Debug("discarding invalid progress event", zap.String("stage", string(evt.Stage)), zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		total := h.dropped.Add(1)
		h.dropLogs.Do(func() {
			h.cfg.Logger.Warn("progress events dropped, sinks are behind",
				zap.Int64("dropped_total", total),
				zap.String("domain", evt.Domain),
				zap.String("stage", string(evt.Stage)),
			)
		})
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close drains queued events, flushes and closes the sinks, and waits for the
// batching goroutine. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stop)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// loop owns the pending batch. The timer only runs while a partial batch is
// waiting.
func (h *Hub) loop() {
	defer close(h.done)
	pending := make([]Event, 0, h.cfg.MaxBatchEvents)
	wait := time.NewTimer(h.cfg.MaxBatchWait)
	wait.Stop()

	flush := func() {
		wait.Stop()
		if len(pending) == 0 {
			return
		}
		h.deliver(pending)
		pending = pending[:0]
	}

	for {
		select {
		case evt := <-h.events:
			pending = append(pending, evt)
			switch {
			case len(pending) >= h.cfg.MaxBatchEvents, evt.Stage.Terminal():
				flush()
			case len(pending) == 1:
				wait.Reset(h.cfg.MaxBatchWait)
			}
		case <-wait.C:
			flush()
		case <-h.stop:
			for drained := false; !drained; {
				select {
				case evt := <-h.events:
					pending = append(pending, evt)
					if len(pending) >= h.cfg.MaxBatchEvents {
						flush()
					}
				default:
					drained = true
				}
			}
			flush()
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) deliver(batch []Event) {
	out := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, out); err != nil {
			h.cfg.Logger.Warn("progress sink consume failed", zap.Int("events", len(out)), zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.cfg.Logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
