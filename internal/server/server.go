// Package server implements the client-facing WebSocket transport: it
// accepts one connection per session, decodes the one-time configuration
// handshake, pumps binary audio into the recognition adapter, and delivers
// the session's ordered outbound events back over the same connection.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/internal/relay"
	"github.com/MrWong99/voxrelay/pkg/provider/llm"
	"github.com/MrWong99/voxrelay/pkg/provider/lookup"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
)

// handshakeTimeout bounds how long a client may take to send its
// configuration message after connecting.
const handshakeTimeout = 10 * time.Second

// Handshake is the client's one-time configuration message, sent as the
// first text frame. Credential fields are per-session API keys; empty
// fields leave the matching capability absent (or fall back to server-side
// defaults when configured).
type Handshake struct {
	AAIKey    string `json:"aai_key"`
	MurfKey   string `json:"murf_key"`
	GeminiKey string `json:"gemini_key"`
	NewsKey   string `json:"news_key"`
}

// Providers holds per-session provider factories, one per capability. A
// factory receives the session's credential and returns a provider bound to
// it. Factories must not be nil; they are only invoked when the matching
// credential is present.
type Providers struct {
	Recognition func(apiKey string) (stt.Provider, error)
	Generation  func(apiKey string) (llm.Provider, error)
	Synthesis   func(apiKey string) (tts.Provider, error)
	Lookup      func(apiKey string) (lookup.Provider, error)
}

// Handler upgrades HTTP requests to WebSocket sessions and runs each
// session until the client disconnects.
type Handler struct {
	providers Providers
	fallback  relay.Credentials
	voice     tts.VoiceProfile
	streamCfg stt.StreamConfig
	loopOpts  []relay.LoopOption
	origins   []string
	log       *slog.Logger
	metrics   *observe.Metrics
}

// Option is a functional option for configuring a Handler.
type Option func(*Handler)

// WithFallbackCredentials supplies server-side credentials used when the
// client handshake omits a key.
func WithFallbackCredentials(creds relay.Credentials) Option {
	return func(h *Handler) { h.fallback = creds }
}

// WithVoice sets the synthesis voice profile for all sessions.
func WithVoice(voice tts.VoiceProfile) Option {
	return func(h *Handler) { h.voice = voice }
}

// WithStreamConfig sets the recognition stream parameters for all sessions.
func WithStreamConfig(cfg stt.StreamConfig) Option {
	return func(h *Handler) { h.streamCfg = cfg }
}

// WithLoopOptions forwards options to each session's orchestration loop.
func WithLoopOptions(opts ...relay.LoopOption) Option {
	return func(h *Handler) { h.loopOpts = opts }
}

// WithOriginPatterns sets the accepted WebSocket origin patterns. Default
// is same-origin only.
func WithOriginPatterns(patterns []string) Option {
	return func(h *Handler) { h.origins = patterns }
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithMetrics wires metric instruments into the handler and its sessions.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// New creates a session Handler using the given provider factories.
func New(providers Providers, opts ...Option) *Handler {
	h := &Handler{
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP implements http.Handler. It upgrades the request and runs the
// session to completion.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.log.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "session ended")

	if err := h.runSession(r.Context(), conn); err != nil {
		h.log.Info("session ended", "reason", err)
	}
	conn.Close(websocket.StatusNormalClosure, "session ended")
}

// runSession drives one complete session: handshake, wiring, audio pump,
// teardown. It returns the reason the session ended.
func (h *Handler) runSession(ctx context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hs, err := h.readHandshake(ctx, conn)
	if err != nil {
		return fmt.Errorf("server: handshake: %w", err)
	}

	creds := h.resolveCredentials(hs)
	sess := relay.NewSession(creds)
	log := h.log.With("session", sess.ID())
	log.Info("session started",
		"recognition", creds.Recognition != "",
		"generation", creds.Generation != "",
		"synthesis", creds.Synthesis != "",
		"lookup", creds.Lookup != "",
	)
	if h.metrics != nil {
		h.metrics.ActiveSessions.Add(ctx, 1)
		defer h.metrics.ActiveSessions.Add(context.Background(), -1)
	}

	mux := relay.NewMux(relay.EventWriterFunc(func(ctx context.Context, data []byte) error {
		return conn.Write(ctx, websocket.MessageText, data)
	}), relay.WithMuxLogger(log))
	defer mux.Close()
	defer sess.Close()

	caps := sess.Capabilities()
	if missing := caps.Missing(); len(missing) > 0 {
		// Capability gaps are reported once, then the session continues in
		// degraded mode.
		_ = mux.Send(relay.NewError("running in degraded mode, unavailable: " + strings.Join(missing, ", ")))
		log.Warn("session degraded", "missing", missing)
	}

	var llmP llm.Provider
	if caps.Generation {
		p, err := h.providers.Generation(creds.Generation)
		if err != nil {
			log.Warn("generation provider unavailable", "error", err)
		} else {
			llmP = p
		}
	}
	var bridge *relay.Bridge
	if caps.Synthesis {
		p, err := h.providers.Synthesis(creds.Synthesis)
		if err != nil {
			log.Warn("synthesis provider unavailable", "error", err)
		} else {
			bridge = relay.NewBridge(p, h.voice, relay.WithBridgeLogger(log))
			defer bridge.Close()
		}
	}
	var lookupP lookup.Provider
	if caps.Lookup {
		p, err := h.providers.Lookup(creds.Lookup)
		if err != nil {
			log.Warn("lookup provider unavailable", "error", err)
		} else {
			lookupP = p
		}
	}

	turns, rec := h.startRecognition(ctx, caps, creds, mux, log)
	if rec != nil {
		defer rec.Close()
	}

	loopOpts := append([]relay.LoopOption{relay.WithLoopLogger(log)}, h.loopOpts...)
	if h.metrics != nil {
		loopOpts = append(loopOpts, relay.WithLoopMetrics(h.metrics))
	}
	loop := relay.NewLoop(sess, mux, llmP, bridge, lookupP, loopOpts...)

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = loop.Run(ctx, turns)
	}()
	defer func() { <-loopDone }()
	defer cancel()

	return h.pumpAudio(ctx, conn, rec)
}

// readHandshake reads and decodes the client's configuration message.
func (h *Handler) readHandshake(ctx context.Context, conn *websocket.Conn) (Handshake, error) {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	typ, data, err := conn.Read(ctx)
	if err != nil {
		return Handshake{}, err
	}
	if typ != websocket.MessageText {
		return Handshake{}, fmt.Errorf("expected text configuration message, got %v", typ)
	}
	var hs Handshake
	if err := json.Unmarshal(data, &hs); err != nil {
		return Handshake{}, fmt.Errorf("decode configuration: %w", err)
	}
	return hs, nil
}

// resolveCredentials maps the handshake onto session credentials, filling
// gaps from the server-side fallbacks.
func (h *Handler) resolveCredentials(hs Handshake) relay.Credentials {
	creds := relay.Credentials{
		Recognition: hs.AAIKey,
		Generation:  hs.GeminiKey,
		Synthesis:   hs.MurfKey,
		Lookup:      hs.NewsKey,
	}
	if creds.Recognition == "" {
		creds.Recognition = h.fallback.Recognition
	}
	if creds.Generation == "" {
		creds.Generation = h.fallback.Generation
	}
	if creds.Synthesis == "" {
		creds.Synthesis = h.fallback.Synthesis
	}
	if creds.Lookup == "" {
		creds.Lookup = h.fallback.Lookup
	}
	return creds
}

// startRecognition opens the recognition stream when the capability is
// present. On failure the session degrades to no-audio-input; the returned
// channel then never produces turns but keeps the loop alive until
// teardown.
func (h *Handler) startRecognition(ctx context.Context, caps relay.Capabilities, creds relay.Credentials, mux *relay.Mux, log *slog.Logger) (<-chan string, *relay.Recognizer) {
	if !caps.Recognition {
		return make(chan string), nil
	}

	p, err := h.providers.Recognition(creds.Recognition)
	var handle stt.SessionHandle
	if err == nil {
		handle, err = p.StartStream(ctx, h.streamCfg)
	}
	if err != nil {
		log.Warn("recognition stream failed to start", "error", err)
		if h.metrics != nil {
			h.metrics.RecordProviderError(ctx, "recognition", "connect")
		}
		_ = mux.Send(relay.NewError("speech recognition is unavailable for this session"))
		return make(chan string), nil
	}

	rec := relay.NewRecognizer(handle, relay.WithRecognizerLogger(log))
	return rec.Turns(), rec
}

// pumpAudio forwards the client's binary frames into the recognition
// adapter until the connection drops. Text frames after the handshake are
// ignored.
func (h *Handler) pumpAudio(ctx context.Context, conn *websocket.Conn, rec *relay.Recognizer) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageBinary {
			h.log.Debug("ignoring unexpected text frame after handshake")
			continue
		}
		if rec == nil {
			continue
		}
		if err := rec.SendAudio(data); err != nil {
			return fmt.Errorf("server: audio forward: %w", err)
		}
	}
}
