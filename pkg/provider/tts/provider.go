// Package tts defines the Provider interface for streaming text-to-speech
// backends that operate over a persistent duplex connection.
//
// Unlike a one-shot synthesis call, the engines this package models keep one
// connection alive across many utterances: the caller sends incremental text
// input events ({text, end}) and receives audio output events ({audio, final})
// on the same connection. Voice selection happens once, when the connection is
// opened.
//
// Audio payloads are passed through opaquely as the engine's base64 encoding;
// no decoding or transcoding is performed.
package tts

import "context"

// VoiceProfile selects and tunes the synthesis voice for a connection.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (e.g. "en-US-amara").
	ID string

	// Style is the speaking style (e.g. "Conversational"). Empty means the
	// provider default.
	Style string

	// Rate adjusts speaking rate; 0 means default.
	Rate int

	// Pitch adjusts pitch; 0 means default.
	Pitch int

	// Variation adjusts prosody variation; 0 means default.
	Variation int
}

// Event is a single synthesis output event.
type Event struct {
	// Audio is one base64-encoded audio segment. Empty on a pure final event.
	Audio string

	// Final reports that the engine finished synthesising all text received
	// up to the terminating input event.
	Final bool
}

// Provider is the abstraction over a duplex streaming synthesis engine.
type Provider interface {
	// Connect opens a synthesis connection and configures it with voice.
	// The returned handle is valid until Close is called or the engine drops
	// the connection.
	Connect(ctx context.Context, voice VoiceProfile) (StreamHandle, error)
}

// StreamHandle is a live duplex synthesis connection.
type StreamHandle interface {
	// SendText submits one incremental text input event. Passing end=true
	// marks the end of the current utterance; the engine responds with a
	// final output event once synthesis of the accumulated text completes.
	SendText(ctx context.Context, text string, end bool) error

	// Events returns the connection's output event stream. The channel is
	// closed when the connection ends for any reason.
	Events() <-chan Event

	// Close tears down the connection. Safe to call multiple times.
	Close() error
}
