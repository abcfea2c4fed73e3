// Package mock provides test doubles for the tts package interfaces.
//
// Use Provider to verify the VoiceProfile passed to Connect and to hand out a
// controlled Handle. Use Handle to replay scripted Events and inspect the text
// segments delivered via SendText.
//
// Example:
//
//	h := mock.NewHandle()
//	p := &mock.Provider{Handle: h}
//	conn, _ := p.Connect(ctx, voice)
//	h.Emit(tts.Event{Audio: "UklGRg==", Final: false})
//	h.Emit(tts.Event{Final: true})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxrelay/pkg/provider/tts"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Voice is the VoiceProfile passed to Connect.
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Handle is returned by Connect. If nil, Connect returns a fresh
	// [Handle].
	Handle tts.StreamHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect.
	ConnectCalls []ConnectCall
}

// Compile-time assertion that Provider satisfies tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Connect records the call and returns Handle, ConnectErr.
func (p *Provider) Connect(ctx context.Context, voice tts.VoiceProfile) (tts.StreamHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Voice: voice})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Handle != nil {
		return p.Handle, nil
	}
	return NewHandle(), nil
}

// SendTextCall records a single invocation of Handle.SendText.
type SendTextCall struct {
	// Text is the text passed to SendText.
	Text string
	// End is the end flag passed to SendText.
	End bool
}

// Handle is a mock implementation of tts.StreamHandle. Tests drive its output
// via [Handle.Emit] and inspect inputs via [Handle.SendTextCalls].
type Handle struct {
	mu sync.Mutex

	events chan tts.Event
	closed bool

	// SendTextErr, if non-nil, is returned from SendText.
	SendTextErr error

	sends []SendTextCall
}

// Compile-time assertion that Handle satisfies tts.StreamHandle.
var _ tts.StreamHandle = (*Handle)(nil)

// NewHandle creates a Handle with a buffered event channel.
func NewHandle() *Handle {
	return &Handle{events: make(chan tts.Event, 64)}
}

// Emit delivers ev on the handle's event channel.
func (h *Handle) Emit(ev tts.Event) {
	h.events <- ev
}

// SendText records the call.
func (h *Handle) SendText(_ context.Context, text string, end bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.SendTextErr != nil {
		return h.SendTextErr
	}
	h.sends = append(h.sends, SendTextCall{Text: text, End: end})
	return nil
}

// Events returns the mock event channel.
func (h *Handle) Events() <-chan tts.Event { return h.events }

// Close closes the event channel. Safe to call multiple times.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.events)
	}
	return nil
}

// SendTextCalls returns a snapshot of all recorded SendText calls.
func (h *Handle) SendTextCalls() []SendTextCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]SendTextCall, len(h.sends))
	copy(out, h.sends)
	return out
}

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
