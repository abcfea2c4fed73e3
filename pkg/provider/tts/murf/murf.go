// Package murf provides a Murf-backed TTS provider using the Murf streaming
// WebSocket API (stream-input). It implements the tts.Provider interface.
package murf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	"github.com/coder/websocket"
)

const (
	streamEndpoint = "wss://api.murf.ai/v1/speech/stream-input"

	defaultSampleRate  = 44100
	defaultChannelType = "MONO"
	defaultFormat      = "WAV"
)

// Option is a functional option for configuring the Murf Provider.
type Option func(*Provider)

// WithEndpoint overrides the streaming endpoint URL. Primarily used in tests
// to point at a local mock server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithSampleRate sets the output audio sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithFormat sets the output audio container format (e.g. "WAV", "MP3").
func WithFormat(format string) Option {
	return func(p *Provider) { p.format = format }
}

// Provider implements tts.Provider backed by the Murf streaming API.
type Provider struct {
	apiKey      string
	endpoint    string
	sampleRate  int
	channelType string
	format      string
}

// Compile-time assertion that Provider satisfies tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// New creates a new Murf Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("murf: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:      apiKey,
		endpoint:    streamEndpoint,
		sampleRate:  defaultSampleRate,
		channelType: defaultChannelType,
		format:      defaultFormat,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// voiceConfigMessage is the one-time voice configuration sent after dialing.
type voiceConfigMessage struct {
	VoiceConfig voiceConfig `json:"voice_config"`
}

// voiceConfig mirrors the Murf voice_config object.
type voiceConfig struct {
	VoiceID   string `json:"voiceId"`
	Style     string `json:"style,omitempty"`
	Rate      int    `json:"rate"`
	Pitch     int    `json:"pitch"`
	Variation int    `json:"variation"`
}

// textMessage is one incremental text input event.
type textMessage struct {
	Text string `json:"text"`
	End  bool   `json:"end,omitempty"`
}

// audioResponse is the JSON message received from Murf over the WebSocket.
type audioResponse struct {
	Audio string `json:"audio"` // base64-encoded audio
	Final bool   `json:"final"`
}

// Connect opens a streaming synthesis connection and sends the voice
// configuration message. The connection stays open across utterances until
// the handle is closed or the engine drops it.
func (p *Provider) Connect(ctx context.Context, voice tts.VoiceProfile) (tts.StreamHandle, error) {
	if voice.ID == "" {
		return nil, errors.New("murf: voice.ID must not be empty")
	}

	wsURL, err := p.buildURL()
	if err != nil {
		return nil, fmt.Errorf("murf: build URL: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("murf: dial: %w", err)
	}

	cfg := voiceConfigMessage{
		VoiceConfig: voiceConfig{
			VoiceID:   voice.ID,
			Style:     voice.Style,
			Rate:      voice.Rate,
			Pitch:     voice.Pitch,
			Variation: voice.Variation,
		},
	}
	cfgBytes, _ := json.Marshal(cfg)
	if err := conn.Write(ctx, websocket.MessageText, cfgBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send voice config")
		return nil, fmt.Errorf("murf: send voice config: %w", err)
	}

	h := &handle{
		conn:   conn,
		events: make(chan tts.Event, 256),
		done:   make(chan struct{}),
	}
	h.wg.Add(1)
	go h.readLoop(ctx)

	return h, nil
}

// buildURL constructs the streaming endpoint URL with auth and audio
// parameters in the query string.
func (p *Provider) buildURL() (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("api-key", p.apiKey)
	q.Set("sample_rate", strconv.Itoa(p.sampleRate))
	q.Set("channel_type", p.channelType)
	q.Set("format", p.format)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- handle ----

// handle is a live Murf streaming connection. It implements tts.StreamHandle.
type handle struct {
	conn   *websocket.Conn
	events chan tts.Event

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendText submits one {text, end} input event.
func (h *handle) SendText(ctx context.Context, text string, end bool) error {
	select {
	case <-h.done:
		return errors.New("murf: connection is closed")
	default:
	}

	msg, _ := json.Marshal(textMessage{Text: text, End: end})
	if err := h.conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return fmt.Errorf("murf: send text: %w", err)
	}
	return nil
}

// Events returns the channel of synthesis output events.
func (h *handle) Events() <-chan tts.Event { return h.events }

// Close tears down the connection.
func (h *handle) Close() error {
	h.once.Do(func() {
		close(h.done)
		h.conn.Close(websocket.StatusNormalClosure, "connection closed")
		h.wg.Wait()
	})
	return nil
}

// readLoop receives JSON messages from Murf and dispatches them to the events
// channel. Audio payloads stay base64-encoded; decoding is the consumer's
// concern.
func (h *handle) readLoop(ctx context.Context) {
	defer h.wg.Done()
	defer close(h.events)

	for {
		_, msg, err := h.conn.Read(ctx)
		if err != nil {
			// Normal close, engine drop, or context cancellation.
			return
		}

		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Audio == "" && !resp.Final {
			continue
		}

		select {
		case h.events <- tts.Event{Audio: resp.Audio, Final: resp.Final}:
		case <-h.done:
			return
		}
	}
}
