package relay

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/voxrelay/pkg/provider/stt"
)

// defaultTurnBuffer is the depth of the finalized-utterance channel. Turns
// arrive at speech pace, so a small buffer absorbs any scheduling jitter.
const defaultTurnBuffer = 16

// Recognizer adapts a recognition engine's event stream into the loop's
// turn boundaries. It forwards client audio to the engine, emits one
// trimmed, non-empty utterance per end-of-turn event on [Recognizer.Turns],
// and logs interim transcripts at debug level only.
//
// On the first end-of-turn event that the engine reports as unformatted,
// the recognizer requests formatted output for the rest of the session.
// The request is made once and failures are ignored.
//
// If the engine reports a fatal error, the recognizer stops forwarding
// audio silently; the session stays alive but produces no further turns
// from audio.
type Recognizer struct {
	handle stt.SessionHandle
	log    *slog.Logger

	turns chan string
	done  chan struct{}

	mu                  sync.Mutex
	formattingRequested bool
	stopped             bool
	closed              bool

	wg sync.WaitGroup
}

// RecognizerOption is a functional option for configuring a Recognizer.
type RecognizerOption func(*Recognizer)

// WithRecognizerLogger sets the logger. Default is slog.Default().
func WithRecognizerLogger(log *slog.Logger) RecognizerOption {
	return func(r *Recognizer) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRecognizer creates a Recognizer over an established engine stream and
// starts consuming its events. Call [Recognizer.Close] to release the
// engine handle.
func NewRecognizer(handle stt.SessionHandle, opts ...RecognizerOption) *Recognizer {
	r := &Recognizer{
		handle: handle,
		log:    slog.Default(),
		turns:  make(chan string, defaultTurnBuffer),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	r.wg.Add(1)
	go r.readLoop()
	return r
}

// SendAudio forwards one batch of raw audio bytes to the engine. After the
// engine has failed or the recognizer is closed, audio is discarded and nil
// is returned: recognition loss degrades the session, it does not tear it
// down.
func (r *Recognizer) SendAudio(audio []byte) error {
	r.mu.Lock()
	if r.stopped || r.closed {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if err := r.handle.SendAudio(audio); err != nil {
		r.stop("audio send failed", err)
	}
	return nil
}

// Turns returns the channel of finalized utterances. It is closed when the
// engine stream ends.
func (r *Recognizer) Turns() <-chan string {
	return r.turns
}

// Close terminates the engine stream and waits for the event reader to
// finish. Safe to call multiple times.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.wg.Wait()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	// Release the read loop if it is parked on a full turns channel.
	close(r.done)
	err := r.handle.Close()
	r.wg.Wait()
	return err
}

func (r *Recognizer) readLoop() {
	defer r.wg.Done()
	defer close(r.turns)

	for ev := range r.handle.Events() {
		switch ev.Type {
		case stt.EventBegin:
			r.log.Debug("recognition stream started", "recognitionSession", ev.SessionID)
		case stt.EventTurn:
			r.handleTurn(ev)
		case stt.EventError:
			r.stop("recognition engine error", ev.Err)
		case stt.EventTermination:
			r.log.Debug("recognition stream terminated",
				"audioDuration", ev.AudioDuration)
			return
		}
	}
}

func (r *Recognizer) handleTurn(ev stt.Event) {
	if !ev.EndOfTurn {
		r.log.Debug("interim transcript", "text", ev.Transcript)
		return
	}

	if !ev.Formatted {
		r.requestFormatting()
	}

	text := strings.TrimSpace(ev.Transcript)
	if text == "" {
		return
	}
	select {
	case r.turns <- text:
	case <-r.done:
	}
}

// requestFormatting asks the engine for formatted transcripts. Idempotent
// and fire-and-forget.
func (r *Recognizer) requestFormatting() {
	r.mu.Lock()
	if r.formattingRequested {
		r.mu.Unlock()
		return
	}
	r.formattingRequested = true
	r.mu.Unlock()

	if err := r.handle.SetFormatting(true); err != nil {
		r.log.Debug("transcript formatting request failed", "error", err)
	}
}

// stop marks the recognizer as no longer accepting audio. The session is
// not torn down.
func (r *Recognizer) stop(msg string, err error) {
	r.mu.Lock()
	already := r.stopped
	r.stopped = true
	r.mu.Unlock()
	if !already {
		r.log.Warn(msg, "error", err)
	}
}
