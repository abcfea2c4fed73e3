// Package stt defines the Provider interface for streaming speech-to-text
// backends.
//
// A recognition engine accepts a continuous audio byte stream and emits a
// stream of session events: a begin event when the engine is ready, turn
// events carrying interim and end-of-utterance transcripts, a termination
// event when the engine closes the stream, and error events for engine-side
// failures.
//
// Implementations must be safe for concurrent use. The channel returned by
// [SessionHandle.Events] is owned by the implementation: it bridges the
// engine's network read loop into the caller's goroutine and is closed when
// the session ends, so consumers can range over it.
package stt

import (
	"context"
	"time"
)

// EventType discriminates the events emitted on [SessionHandle.Events].
type EventType string

const (
	// EventBegin signals that the engine accepted the stream and assigned a
	// session identifier.
	EventBegin EventType = "begin"

	// EventTurn carries a transcript. When EndOfTurn is false the transcript
	// is interim and may still change; when true it is the finalised text of
	// one utterance.
	EventTurn EventType = "turn"

	// EventTermination signals that the engine closed the stream cleanly.
	EventTermination EventType = "termination"

	// EventError signals an engine-side failure. The session produces no
	// further turns after an error event.
	EventError EventType = "error"
)

// Event is a single recognition-engine event.
type Event struct {
	// Type discriminates the remaining fields.
	Type EventType

	// SessionID is the engine-assigned stream identifier (begin events only).
	SessionID string

	// Transcript is the recognised text (turn events only).
	Transcript string

	// EndOfTurn reports whether Transcript is the finalised text of a complete
	// utterance (turn events only).
	EndOfTurn bool

	// Formatted reports whether the engine applied text formatting (casing,
	// punctuation) to Transcript (turn events only).
	Formatted bool

	// AudioDuration is the total audio processed (termination events only).
	AudioDuration time.Duration

	// Err describes the failure (error events only).
	Err error
}

// StreamConfig carries per-session parameters for [Provider.StartStream].
type StreamConfig struct {
	// SampleRate is the PCM sample rate of the submitted audio in Hz.
	// Zero means use the provider default.
	SampleRate int

	// FormatTurns requests formatted (cased, punctuated) turn transcripts
	// from the start of the session. Formatting can also be enabled later via
	// [SessionHandle.SetFormatting].
	FormatTurns bool
}

// Provider is the abstraction over a streaming recognition engine.
type Provider interface {
	// StartStream opens a streaming recognition session. The returned handle
	// owns the engine connection; callers must Close it to release the stream.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

// SessionHandle is a live streaming recognition session.
type SessionHandle interface {
	// SendAudio queues a raw audio chunk for delivery to the engine. The bytes
	// are passed through opaquely; no transcoding is performed. Returns an
	// error if the session is closed.
	SendAudio(chunk []byte) error

	// Events returns the session's event stream. The channel is closed when
	// the session terminates for any reason.
	Events() <-chan Event

	// SetFormatting asks the engine to apply text formatting to subsequent
	// turn transcripts. The request is fire-and-forget: implementations send
	// it without waiting for acknowledgement and calling it repeatedly with
	// the same value is a no-op on the wire.
	SetFormatting(enabled bool) error

	// Close terminates the session and releases the engine connection.
	// Safe to call multiple times.
	Close() error
}
