package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrMuxClosed is returned by [Mux.Send] after the multiplexer has been
// closed.
var ErrMuxClosed = errors.New("relay: output multiplexer closed")

// defaultMuxBuffer is the default depth of the outbound event queue. There
// is no backpressure toward producers beyond this buffer filling up.
const defaultMuxBuffer = 256

// EventWriter delivers one serialized event to the client transport.
// Implementations are called from a single goroutine, in order.
type EventWriter interface {
	WriteEvent(ctx context.Context, data []byte) error
}

// EventWriterFunc adapts a function to the EventWriter interface.
type EventWriterFunc func(ctx context.Context, data []byte) error

// WriteEvent implements EventWriter.
func (f EventWriterFunc) WriteEvent(ctx context.Context, data []byte) error {
	return f(ctx, data)
}

// Mux is the output multiplexer: the single ordered outbound channel of a
// session. Producers enqueue typed events with [Mux.Send]; one internal
// goroutine serializes them and hands them to the EventWriter in enqueue
// order, which yields the per-turn ordering guarantees (transcript before
// generation and audio events, audio chunks in increasing id order,
// final-audio marker last) because the loop produces events in that order.
//
// Write failures are logged and dropped; a broken transport is detected and
// handled by the connection layer, not here.
type Mux struct {
	writer EventWriter
	log    *slog.Logger

	events chan Event
	done   chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// MuxOption is a functional option for configuring a Mux.
type MuxOption func(*muxOptions)

type muxOptions struct {
	buffer int
	log    *slog.Logger
}

// WithMuxBuffer sets the outbound queue depth. Default is 256.
func WithMuxBuffer(n int) MuxOption {
	return func(o *muxOptions) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// WithMuxLogger sets the logger used for dropped-write reports.
func WithMuxLogger(log *slog.Logger) MuxOption {
	return func(o *muxOptions) {
		if log != nil {
			o.log = log
		}
	}
}

// NewMux creates a Mux writing to w and starts its drain goroutine.
// Call [Mux.Close] to stop it; queued events are flushed first.
func NewMux(w EventWriter, opts ...MuxOption) *Mux {
	o := muxOptions{buffer: defaultMuxBuffer, log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	m := &Mux{
		writer: w,
		log:    o.log,
		events: make(chan Event, o.buffer),
		done:   make(chan struct{}),
	}
	m.wg.Add(1)
	go m.run()
	return m
}

// Send enqueues ev for delivery. It blocks while the queue is full and
// returns ErrMuxClosed once the multiplexer has been closed; a Send parked
// on a full queue is released by [Mux.Close].
func (m *Mux) Send(ev Event) error {
	select {
	case <-m.done:
		return ErrMuxClosed
	default:
	}
	select {
	case m.events <- ev:
		return nil
	case <-m.done:
		return ErrMuxClosed
	}
}

// Close releases blocked senders, flushes queued events and stops the drain
// goroutine. Safe to call multiple times.
func (m *Mux) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	m.wg.Wait()
	return nil
}

func (m *Mux) run() {
	defer m.wg.Done()
	for {
		select {
		case ev := <-m.events:
			m.deliver(ev)
		case <-m.done:
			// Flush whatever is still queued, then stop.
			for {
				select {
				case ev := <-m.events:
					m.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (m *Mux) deliver(ev Event) {
	if err := m.write(ev); err != nil {
		m.log.Warn("outbound event dropped", "kind", ev.Kind(), "error", err)
	}
}

func (m *Mux) write(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("relay: marshal %s event: %w", ev.Kind(), err)
	}
	return m.writer.WriteEvent(context.Background(), data)
}
