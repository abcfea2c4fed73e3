// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// StreamConfig. Use Session to feed controlled Event values and inspect which
// audio chunks were delivered.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.StartStream(ctx, cfg)
//	sess.Emit(stt.Event{Type: stt.EventTurn, Transcript: "hi", EndOfTurn: true})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxrelay/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by StartStream. If nil,
	// StartStream returns a fresh [Session].
	Session stt.SessionHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// StartStream records the call and returns Session, StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Session is a mock implementation of stt.SessionHandle. Tests drive it by
// calling [Session.Emit] and inspect recorded audio via [Session.Sent].
type Session struct {
	mu sync.Mutex

	events chan stt.Event
	closed bool

	// SendAudioErr, if non-nil, is returned from SendAudio.
	SendAudioErr error

	// SetFormattingErr, if non-nil, is returned from SetFormatting.
	SetFormattingErr error

	sent       [][]byte
	formatting []bool
}

// Compile-time assertion that Session satisfies stt.SessionHandle.
var _ stt.SessionHandle = (*Session)(nil)

// NewSession creates a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{events: make(chan stt.Event, 64)}
}

// Emit delivers ev on the session's event channel.
func (s *Session) Emit(ev stt.Event) {
	s.events <- ev
}

// SendAudio records a copy of chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.sent = append(s.sent, cp)
	return nil
}

// Events returns the mock event channel.
func (s *Session) Events() <-chan stt.Event { return s.events }

// SetFormatting records the requested value.
func (s *Session) SetFormatting(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SetFormattingErr != nil {
		return s.SetFormattingErr
	}
	s.formatting = append(s.formatting, enabled)
	return nil
}

// Close closes the event channel. Safe to call multiple times.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// Sent returns a snapshot of all audio chunks delivered via SendAudio.
func (s *Session) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// FormattingCalls returns a snapshot of all SetFormatting values received.
func (s *Session) FormattingCalls() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bool, len(s.formatting))
	copy(out, s.formatting)
	return out
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
