// Package relay implements the turn-based streaming orchestration pipeline:
// per-session conversation state, the recognition adapter that turns engine
// events into utterance boundaries, the orchestration loop that sequences
// text generation and speech synthesis per turn, the synthesis bridge that
// owns the per-session synthesizer connection, and the output multiplexer
// that serializes all outbound events onto one ordered channel.
//
// # Turn lifecycle
//
//  1. The recognition adapter emits a finalized utterance.
//  2. The loop emits a transcript event and starts a turn: text production
//     (direct generation or lookup-and-summarize) and audio production run
//     as two joined activities.
//  3. Audio chunks are relayed with strictly increasing per-turn ids.
//  4. The turn always ends with a final-audio marker, regardless of whether
//     synthesis succeeded, timed out, or was never configured.
//
// Turns are strictly sequential per session; sessions are fully isolated
// from each other.
package relay

// Outbound event type tags as they appear on the client wire.
const (
	KindTranscript   = "transcript"
	KindTextFragment = "llm_text"
	KindFinalText    = "llm_text_final"
	KindRelatedLinks = "related_links"
	KindAudioChunk   = "ai_audio"
	KindError        = "error"
)

// Event is one typed outbound client event. Implementations are plain
// structs whose Type field is fixed by their constructor so they marshal
// directly to the wire shape.
type Event interface {
	// Kind returns the wire type tag of the event.
	Kind() string
}

// TranscriptEvent carries one finalized user utterance.
type TranscriptEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewTranscript creates a TranscriptEvent for text.
func NewTranscript(text string) TranscriptEvent {
	return TranscriptEvent{Type: KindTranscript, Text: text}
}

// Kind implements Event.
func (TranscriptEvent) Kind() string { return KindTranscript }

// TextFragmentEvent carries one incremental generation fragment.
type TextFragmentEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewTextFragment creates a TextFragmentEvent for text.
func NewTextFragment(text string) TextFragmentEvent {
	return TextFragmentEvent{Type: KindTextFragment, Text: text}
}

// Kind implements Event.
func (TextFragmentEvent) Kind() string { return KindTextFragment }

// FinalTextEvent carries the complete assistant reply for a turn.
// LinksPending reports that an auxiliary related_links event accompanies
// this reply (lookup path only).
type FinalTextEvent struct {
	Type         string `json:"type"`
	Text         string `json:"text"`
	LinksPending bool   `json:"links_pending"`
}

// NewFinalText creates a FinalTextEvent.
func NewFinalText(text string, linksPending bool) FinalTextEvent {
	return FinalTextEvent{Type: KindFinalText, Text: text, LinksPending: linksPending}
}

// Kind implements Event.
func (FinalTextEvent) Kind() string { return KindFinalText }

// Link is one lookup result reference shown alongside a summarized reply.
type Link struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// RelatedLinksEvent carries the auxiliary lookup results for a turn. It is
// emitted before the turn's FinalTextEvent.
type RelatedLinksEvent struct {
	Type  string `json:"type"`
	Links []Link `json:"links"`
}

// NewRelatedLinks creates a RelatedLinksEvent for links.
func NewRelatedLinks(links []Link) RelatedLinksEvent {
	return RelatedLinksEvent{Type: KindRelatedLinks, Links: links}
}

// Kind implements Event.
func (RelatedLinksEvent) Kind() string { return KindRelatedLinks }

// AudioChunkEvent carries one synthesized audio segment, or the turn
// terminator when Final is true. ChunkID orders chunks within a single turn,
// starting at 1; the terminator carries ChunkID 0 and empty Audio.
type AudioChunkEvent struct {
	Type    string `json:"type"`
	ChunkID int    `json:"chunk_id"`
	Audio   string `json:"audio"`
	Final   bool   `json:"final"`
}

// NewAudioChunk creates an audio-bearing AudioChunkEvent. audio is the
// synthesizer's base64 payload, passed through opaquely.
func NewAudioChunk(chunkID int, audio string) AudioChunkEvent {
	return AudioChunkEvent{Type: KindAudioChunk, ChunkID: chunkID, Audio: audio}
}

// NewFinalAudio creates the turn-terminating audio marker.
func NewFinalAudio() AudioChunkEvent {
	return AudioChunkEvent{Type: KindAudioChunk, Final: true}
}

// Kind implements Event.
func (AudioChunkEvent) Kind() string { return KindAudioChunk }

// ErrorEvent reports a non-fatal turn failure to the client.
type ErrorEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewError creates an ErrorEvent for text.
func NewError(text string) ErrorEvent {
	return ErrorEvent{Type: KindError, Text: text}
}

// Kind implements Event.
func (ErrorEvent) Kind() string { return KindError }
