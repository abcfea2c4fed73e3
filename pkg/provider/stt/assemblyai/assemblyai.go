// Package assemblyai provides an AssemblyAI-backed STT provider using the
// AssemblyAI Universal-Streaming (v3) WebSocket API. It implements the
// stt.Provider interface.
package assemblyai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	"github.com/coder/websocket"
)

const (
	streamingEndpoint = "wss://streaming.assemblyai.com/v3/ws"
	defaultSampleRate = 16000
)

// Option is a functional option for configuring the AssemblyAI Provider.
type Option func(*Provider)

// WithEndpoint overrides the streaming endpoint URL. Primarily used in tests
// to point at a local mock server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithSampleRate sets the provider-level default audio sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// Provider implements stt.Provider backed by the AssemblyAI streaming API.
type Provider struct {
	apiKey     string
	endpoint   string
	sampleRate int
}

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// New creates a new AssemblyAI Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("assemblyai: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   streamingEndpoint,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming recognition session with AssemblyAI.
// It respects cfg.SampleRate and cfg.FormatTurns.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("assemblyai: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("assemblyai: dial: %w", err)
	}

	sess := &session{
		conn:   conn,
		events: make(chan stt.Event, 64),
		audio:  make(chan []byte, 256),
		done:   make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// buildURL constructs the streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("format_turns", strconv.FormatBool(cfg.FormatTurns))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// serverMessage is the JSON structure of a v3 streaming server event.
type serverMessage struct {
	Type                 string  `json:"type"`
	ID                   string  `json:"id"`
	Transcript           string  `json:"transcript"`
	EndOfTurn            bool    `json:"end_of_turn"`
	TurnIsFormatted      bool    `json:"turn_is_formatted"`
	AudioDurationSeconds float64 `json:"audio_duration_seconds"`
	Error                string  `json:"error"`
}

// updateConfiguration is the client message that changes session parameters
// mid-stream.
type updateConfiguration struct {
	Type        string `json:"type"`
	FormatTurns bool   `json:"format_turns"`
}

// terminateMessage asks the server to flush pending audio and close.
type terminateMessage struct {
	Type string `json:"type"`
}

// session is a live AssemblyAI streaming session. It implements
// stt.SessionHandle.
type session struct {
	conn   *websocket.Conn
	events chan stt.Event
	audio  chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	fmtMu        sync.Mutex
	fmtRequested bool
}

// SendAudio queues a raw PCM chunk for delivery to AssemblyAI.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("assemblyai: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("assemblyai: session is closed")
	}
}

// Events returns the channel of session events.
func (s *session) Events() <-chan stt.Event { return s.events }

// SetFormatting sends an UpdateConfiguration message requesting formatted
// turn transcripts. Repeated calls with enabled=true are suppressed locally.
func (s *session) SetFormatting(enabled bool) error {
	s.fmtMu.Lock()
	if enabled && s.fmtRequested {
		s.fmtMu.Unlock()
		return nil
	}
	s.fmtRequested = enabled
	s.fmtMu.Unlock()

	msg, _ := json.Marshal(updateConfiguration{Type: "UpdateConfiguration", FormatTurns: enabled})
	if err := s.conn.Write(context.Background(), websocket.MessageText, msg); err != nil {
		return fmt.Errorf("assemblyai: set formatting: %w", err)
	}
	return nil
}

// Close terminates the session cleanly. It sends a Terminate message so the
// server flushes any buffered audio before closing.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		msg, _ := json.Marshal(terminateMessage{Type: "Terminate"})
		_ = s.conn.Write(context.Background(), websocket.MessageText, msg)
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary messages to
// AssemblyAI.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			// Drain any queued audio before exiting.
			for {
				select {
				case chunk, ok := <-s.audio:
					if !ok {
						return
					}
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives JSON messages from AssemblyAI and dispatches them to the
// events channel.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.events)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			// Normal close or context cancellation — exit gracefully.
			return
		}

		ev, ok := parseServerMessage(msg)
		if !ok {
			continue
		}

		select {
		case s.events <- ev:
		case <-s.done:
		}

		if ev.Type == stt.EventTermination {
			return
		}
	}
}

// parseServerMessage parses a raw server message into an stt.Event.
// Returns (zero, false) for messages that should be ignored.
func parseServerMessage(data []byte) (stt.Event, bool) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return stt.Event{}, false
	}

	switch msg.Type {
	case "Begin":
		return stt.Event{Type: stt.EventBegin, SessionID: msg.ID}, true
	case "Turn":
		return stt.Event{
			Type:       stt.EventTurn,
			Transcript: msg.Transcript,
			EndOfTurn:  msg.EndOfTurn,
			Formatted:  msg.TurnIsFormatted,
		}, true
	case "Termination":
		return stt.Event{
			Type:          stt.EventTermination,
			AudioDuration: time.Duration(msg.AudioDurationSeconds * float64(time.Second)),
		}, true
	case "Error":
		return stt.Event{Type: stt.EventError, Err: errors.New(msg.Error)}, true
	}
	return stt.Event{}, false
}
