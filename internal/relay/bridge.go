package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxrelay/pkg/provider/tts"
)

// ErrNotConnected is returned by bridge I/O methods when no live synthesis
// connection exists.
var ErrNotConnected = errors.New("relay: synthesis connection not established")

// defaultReadTimeout bounds each read of the synthesis output stream. An
// expired read is treated as natural end-of-turn audio, not an error, so a
// synthesizer that never sends an explicit terminator cannot hang a turn.
const defaultReadTimeout = 5 * time.Second

// ConnState is the synthesis connection lifecycle state owned by the
// Bridge. It is the single source of truth for connection liveness.
type ConnState int

// Connection states.
const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateLive
	StateClosing
)

// String returns the state name for logging.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// Bridge owns the single per-session connection to the synthesis engine:
// lazy idempotent connection, per-turn chunk numbering, segment submission
// and the timeout-bounded output drain. Connection loss mid-turn is treated
// as graceful end-of-turn audio; the next turn's EnsureConnected call
// attempts reconnection. The bridge never retries within a turn.
//
// The bridge is mutated only by the active turn's send and drain
// activities; turns are sequential, so no cross-turn locking is needed
// beyond the state mutex.
type Bridge struct {
	provider tts.Provider
	voice    tts.VoiceProfile
	timeout  time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	state   ConnState
	handle  tts.StreamHandle
	chunkID int
}

// BridgeOption is a functional option for configuring a Bridge.
type BridgeOption func(*Bridge)

// WithReadTimeout overrides the per-read deadline on the synthesis output
// stream. Default is 5 seconds.
func WithReadTimeout(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithBridgeLogger sets the logger. Default is slog.Default().
func WithBridgeLogger(log *slog.Logger) BridgeOption {
	return func(b *Bridge) {
		if log != nil {
			b.log = log
		}
	}
}

// NewBridge creates a Bridge for one session using provider and voice.
// No connection is opened until [Bridge.EnsureConnected] is called.
func NewBridge(provider tts.Provider, voice tts.VoiceProfile, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		provider: provider,
		voice:    voice,
		timeout:  defaultReadTimeout,
		state:    StateDisconnected,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// State returns the current connection state.
func (b *Bridge) State() ConnState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// EnsureConnected opens the synthesis connection if none is live. It is
// idempotent and safe to call at the start of every turn. The voice
// configuration message is sent by the provider as part of connecting.
func (b *Bridge) EnsureConnected(ctx context.Context) error {
	b.mu.Lock()
	if b.state == StateLive {
		b.mu.Unlock()
		return nil
	}
	b.state = StateConnecting
	b.mu.Unlock()

	handle, err := b.provider.Connect(ctx, b.voice)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.state = StateDisconnected
		return fmt.Errorf("relay: synthesis connect: %w", err)
	}
	b.handle = handle
	b.state = StateLive
	b.log.Debug("synthesis connection established", "voice", b.voice.ID)
	return nil
}

// ResetChunkCounter resets the per-turn audio chunk counter to 0. Called at
// turn start and again after finalization; the first chunk of a turn is
// numbered 1.
func (b *Bridge) ResetChunkCounter() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunkID = 0
}

// SendSegments submits the turn's text segments to the synthesizer in
// order, followed by the empty terminating input. A send failure marks the
// connection lost; audio for this turn ends early and the next turn
// reconnects.
func (b *Bridge) SendSegments(ctx context.Context, segments []string) error {
	handle := b.liveHandle()
	if handle == nil {
		return ErrNotConnected
	}
	for _, seg := range segments {
		if err := handle.SendText(ctx, seg, false); err != nil {
			b.markLost("synthesis segment send failed", err)
			return fmt.Errorf("relay: synthesis send: %w", err)
		}
	}
	if err := handle.SendText(ctx, "", true); err != nil {
		b.markLost("synthesis terminator send failed", err)
		return fmt.Errorf("relay: synthesis terminator: %w", err)
	}
	return nil
}

// DrainTurn consumes the synthesizer's output for the current turn,
// invoking emit for every audio-bearing event with that chunk's id. It
// returns when the stream's explicit final event arrives, when a read
// exceeds the per-read deadline, or when the stream closes; all three are
// treated as natural completion. The final-audio marker is emitted by the
// orchestration loop, unconditionally, not here.
func (b *Bridge) DrainTurn(ctx context.Context, emit func(chunkID int, audio string)) error {
	handle := b.liveHandle()
	if handle == nil {
		return ErrNotConnected
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-handle.Events():
			if !ok {
				b.markLost("synthesis stream closed", nil)
				return nil
			}
			if ev.Audio != "" {
				emit(b.nextChunkID(), ev.Audio)
			}
			if ev.Final {
				return nil
			}
		case <-time.After(b.timeout):
			b.log.Debug("synthesis read deadline reached, treating as end of turn audio")
			return nil
		}
	}
}

// Close tears down the synthesis connection. Safe to call multiple times.
func (b *Bridge) Close() error {
	b.mu.Lock()
	handle := b.handle
	if handle == nil {
		b.state = StateDisconnected
		b.mu.Unlock()
		return nil
	}
	b.state = StateClosing
	b.handle = nil
	b.mu.Unlock()

	err := handle.Close()

	b.mu.Lock()
	b.state = StateDisconnected
	b.mu.Unlock()
	return err
}

func (b *Bridge) liveHandle() tts.StreamHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateLive {
		return nil
	}
	return b.handle
}

func (b *Bridge) nextChunkID() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunkID++
	return b.chunkID
}

func (b *Bridge) markLost(msg string, err error) {
	b.mu.Lock()
	handle := b.handle
	b.handle = nil
	b.state = StateDisconnected
	b.mu.Unlock()

	if handle != nil {
		_ = handle.Close()
	}
	if err != nil {
		b.log.Warn(msg, "error", err)
	} else {
		b.log.Debug(msg)
	}
}
